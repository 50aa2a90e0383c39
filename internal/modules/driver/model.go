// README: Driver aggregate, working shift and rating definitions.
package driver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dispatch/internal/modules/route"
	"dispatch/internal/types"
)

const DefaultMaxWeight = 50.0

var (
	DefaultLocation = types.Point{Lat: 22.3193, Lng: 114.1694}
	DefaultShift    = Shift{Start: ClockTime{Hour: 9}, End: ClockTime{Hour: 18}}
)

var (
	ErrNotFound     = errors.New("driver not found")
	ErrConflict     = errors.New("driver route changed concurrently")
	ErrBadRequest   = errors.New("bad request")
	ErrAlreadyRated = errors.New("order already rated")
)

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("clock time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 24 {
		return ClockTime{}, fmt.Errorf("clock time %q: bad hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("clock time %q: bad minute", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant of c on the calendar day of ref, in ref's location.
func (c ClockTime) On(ref time.Time) time.Time {
	y, mo, d := ref.Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, ref.Location())
}

// Shift is a daily working window, e.g. "09:00-18:00".
type Shift struct {
	Start ClockTime
	End   ClockTime
}

func ParseShift(s string) (Shift, error) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return Shift{}, fmt.Errorf("shift %q: want HH:MM-HH:MM", s)
	}
	start, err := ParseClockTime(a)
	if err != nil {
		return Shift{}, err
	}
	end, err := ParseClockTime(b)
	if err != nil {
		return Shift{}, err
	}
	return Shift{Start: start, End: end}, nil
}

func (s Shift) String() string {
	return s.Start.String() + "-" + s.End.String()
}

func (s Shift) IsZero() bool {
	return s == Shift{}
}

// Window returns today's shift bounds relative to now.
func (s Shift) Window(now time.Time) (time.Time, time.Time) {
	return s.Start.On(now), s.End.On(now)
}

type Driver struct {
	ID           int64
	Name         string
	DeviceToken  string
	Location     types.Point
	MaxWeight    float64
	Shift        Shift
	AvgRating    float64
	Route        route.Route
	RouteVersion int
	UpdatedAt    time.Time
}

// WithDefaults fills unset capacity, shift and location.
func (d Driver) WithDefaults() Driver {
	if d.MaxWeight <= 0 {
		d.MaxWeight = DefaultMaxWeight
	}
	if d.Shift.IsZero() {
		d.Shift = DefaultShift
	}
	if d.Location.IsZero() {
		d.Location = DefaultLocation
	}
	return d
}

type Rating struct {
	ID         int64
	DriverID   int64
	OrderID    int64
	CustomerID string
	Score      float64
	Comment    string
	CreatedAt  time.Time
}
