// README: Offline stand-ins for the Maps APIs used by memory-store runs and smoke tests.
package maps

import (
	"context"
	"fmt"
	"math"
	"strings"

	"dispatch/internal/modules/location"
	"dispatch/internal/types"
)

// DefaultOfflineSpeedKmh is the average urban driving speed assumed offline.
const DefaultOfflineSpeedKmh = 25.0

// CoordinateGeocoder accepts addresses written as "lat,lng".
type CoordinateGeocoder struct{}

func (CoordinateGeocoder) Geocode(_ context.Context, address string) (types.Point, error) {
	p, err := types.ParsePoint(strings.TrimSpace(address))
	if err != nil {
		return types.Point{}, fmt.Errorf("%w for %q", ErrNoResults, address)
	}
	return p, nil
}

// StraightLineDistance estimates driving seconds from the great-circle
// distance at a fixed speed.
type StraightLineDistance struct {
	SpeedKmh float64
}

func (s StraightLineDistance) Duration(_ context.Context, origin, destination string) (int, error) {
	a, err := types.ParsePoint(origin)
	if err != nil {
		return 0, fmt.Errorf("origin: %w", err)
	}
	b, err := types.ParsePoint(destination)
	if err != nil {
		return 0, fmt.Errorf("destination: %w", err)
	}
	speed := s.SpeedKmh
	if speed <= 0 {
		speed = DefaultOfflineSpeedKmh
	}
	return int(math.Round(location.DistanceKm(a, b) / speed * 3600)), nil
}
