// README: Insertion planner inputs, outputs and tuning.
package planner

import (
	"context"
	"time"

	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/route"
	"dispatch/internal/types"
)

const (
	// DefaultServiceTime is spent at every stop on top of the travel time.
	DefaultServiceTime = 300 * time.Second

	// DefaultRatingBonusMs is subtracted from a plan's cost per rating star.
	DefaultRatingBonusMs = 300000.0
)

// TravelTimer returns driving seconds between two points. It never fails.
type TravelTimer interface {
	TravelTime(ctx context.Context, origin, destination types.Point) int
}

type Config struct {
	ServiceTime   time.Duration
	RatingBonusMs float64
	// Trace logs every evaluated candidate.
	Trace bool
}

func (c Config) withDefaults() Config {
	if c.ServiceTime <= 0 {
		c.ServiceTime = DefaultServiceTime
	}
	if c.RatingBonusMs == 0 {
		c.RatingBonusMs = DefaultRatingBonusMs
	}
	return c
}

// Candidate asks where a new order fits into one driver's route.
type Candidate struct {
	Driver  driver.Driver
	OrderID int64
	Weight  float64
	Pickup  types.Point
	Dropoff types.Point
}

func (c Candidate) Job() route.Job {
	return route.Job{Pickup: c.Pickup, Dropoff: c.Dropoff, Weight: c.Weight}
}

// Plan is the cheapest feasible insertion for one driver.
type Plan struct {
	DriverID     int64
	PickupIndex  int
	DropoffIndex int
	Route        route.Route
	// PenaltyMs is the added finish time; Cost subtracts the rating bonus.
	PenaltyMs float64
	Cost      float64
}

// DropoffArrival is the planned arrival at the new order's dropoff.
func (p *Plan) DropoffArrival(orderID int64) (time.Time, bool) {
	return p.Route.ArrivalAt(route.DropoffOf(orderID))
}
