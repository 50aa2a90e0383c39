// README: Allocation requests, results and collaborator contracts.
package allocation

import (
	"context"
	"errors"
	"time"

	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/route"
	"dispatch/internal/types"
)

const (
	// DefaultMaxAttempts bounds how often a round restarts after the winning
	// driver's route changed underneath it.
	DefaultMaxAttempts = 3
	// DefaultConcurrency bounds concurrent driver evaluations per round.
	DefaultConcurrency = 8
)

var (
	ErrConflict     = errors.New("driver route changed during allocation")
	ErrInconsistent = errors.New("route written but order assignment failed and the route could not be restored")
)

type Status string

const (
	StatusAssigned         Status = "assigned"
	StatusPendingNoDrivers Status = "pending_no_drivers"
)

// Request asks for an order to be placed on a route. Nil coordinates and a
// non-positive weight fall back to what is stored on the order.
type Request struct {
	OrderID int64
	Pickup  *types.Point
	Dropoff *types.Point
	Weight  float64
}

type Result struct {
	OrderID          int64      `json:"order_id"`
	Status           Status     `json:"status"`
	DriverID         int64      `json:"driver_id,omitempty"`
	Cost             float64    `json:"cost_ms,omitempty"`
	PickupIndex      int        `json:"pickup_index,omitempty"`
	DropoffIndex     int        `json:"dropoff_index,omitempty"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
}

// SweepReport summarises one pass over the pending orders.
type SweepReport struct {
	Pending    int
	Assigned   int
	Unassigned int
	Skipped    int
	Failed     int
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

// PositionSource refreshes driver snapshots with live positions.
type PositionSource interface {
	Overlay(ctx context.Context, drivers []driver.Driver) []driver.Driver
}

type Notifier interface {
	NotifyAssignment(ctx context.Context, deviceToken string, a location.Assignment) error
}

// Commit is the unit written when a round picks a winner.
type Commit struct {
	DriverID     int64
	RouteVersion int
	Previous     route.Route
	Route        route.Route
	OrderID      int64
	OrderVersion int
	Assignment   order.Assignment
}

// Committer writes the driver route and the order assignment as one unit.
// ErrConflict means one of the compare-and-set guards failed and nothing
// was left behind.
type Committer interface {
	Commit(ctx context.Context, c Commit) error
}
