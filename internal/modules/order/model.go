// README: Order aggregate and status definitions.
package order

import (
	"time"

	"dispatch/internal/modules/route"
	"dispatch/internal/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// RoutableStatuses lists the statuses whose orders may appear on a route.
// Allocation and ETA recalculation both build their index from it.
func RoutableStatuses() []Status {
	return []Status{StatusPending, StatusInProgress}
}

// ParseStatus maps stored values, including legacy aliases, onto the enum.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "pending":
		return StatusPending, true
	case "in_progress", "assigned", "picking_up":
		return StatusInProgress, true
	case "finished":
		return StatusFinished, true
	}
	return "", false
}

type ProofOfDelivery struct {
	PhotoURL       string      `json:"photo_url"`
	DriverLocation types.Point `json:"driver_location"`
	CapturedAt     time.Time   `json:"captured_at"`
	DistanceKm     float64     `json:"distance_offset_km"`
}

type Order struct {
	ID                 int64            `json:"id"`
	CustomerID         string           `json:"customer_id"`
	DriverID           *int64           `json:"driver_id,omitempty"`
	Status             Status           `json:"status"`
	StatusVersion      int              `json:"status_version"`
	PickupAddress      string           `json:"pickup_address"`
	DropoffAddress     string           `json:"dropoff_address"`
	Pickup             *types.Point     `json:"pickup,omitempty"`
	Dropoff            *types.Point     `json:"dropoff,omitempty"`
	Weight             float64          `json:"weight"`
	CreatedAt          time.Time        `json:"created_at"`
	PickupTime         *time.Time       `json:"pickup_time,omitempty"`
	ExpectedDeliveryAt *time.Time       `json:"expected_delivery_at,omitempty"`
	DropoffTime        *time.Time       `json:"dropoff_time,omitempty"`
	OnTime             *bool            `json:"on_time,omitempty"`
	Proof              *ProofOfDelivery `json:"proof_of_delivery,omitempty"`
}

// Job returns the routing view of the order; false until both stops are geocoded.
func (o *Order) Job() (route.Job, bool) {
	if o.Pickup == nil || o.Dropoff == nil {
		return route.Job{}, false
	}
	return route.Job{Pickup: *o.Pickup, Dropoff: *o.Dropoff, Weight: o.Weight}, true
}

// BuildIndex keys every order with coordinates by id.
func BuildIndex(orders []Order) route.Index {
	idx := make(route.Index, len(orders))
	for i := range orders {
		if j, ok := orders[i].Job(); ok {
			idx[orders[i].ID] = j
		}
	}
	return idx
}

type Event struct {
	ID         int64
	OrderID    int64
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *string
	CreatedAt  time.Time
}

// Assignment is written when an allocation commits.
// Pickup and Dropoff, when set, persist coordinates resolved during the
// allocation.
type Assignment struct {
	DriverID           int64
	PickupTime         time.Time
	ExpectedDeliveryAt *time.Time
	Pickup             *types.Point
	Dropoff            *types.Point
}

// Completion is written when the courier finishes the delivery.
type Completion struct {
	DropoffTime time.Time
	OnTime      bool
	Proof       *ProofOfDelivery
}

// AllowedTransitions represents the order state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusFinished},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
