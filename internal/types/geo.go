// README: Shared geographic value objects.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String renders the point as "lat,lng", the form used for distance-matrix
// requests and travel-time cache keys.
func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// ParsePoint is the inverse of Point.String.
func ParsePoint(s string) (Point, error) {
	lat, lng, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Point{}, fmt.Errorf("parse point %q: missing comma", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse point %q: lat: %w", s, err)
	}
	ln, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return Point{}, fmt.Errorf("parse point %q: lng: %w", s, err)
	}
	return Point{Lat: la, Lng: ln}, nil
}
