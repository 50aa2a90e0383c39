// README: ETA recalculation report and delivery estimate lookups.
package eta

import (
	"context"
	"time"

	"dispatch/internal/modules/driver"
)

// DefaultInterval is how often arrival times are recomputed.
const DefaultInterval = 900 * time.Second

// Report counts drivers per outcome of one recalculation pass.
type Report struct {
	Drivers int
	Updated int
	// Skipped drivers reference an order missing from the index.
	Skipped int
	// Stale drivers changed their route after the snapshot.
	Stale  int
	Failed int
}

type Reason string

const (
	ReasonPendingDriver  Reason = "pending_driver"
	ReasonDriverNotFound Reason = "driver_not_found"
	ReasonNotInRoute     Reason = "not_in_route"
)

// Estimate is an order's planned delivery instant, or why there is none.
type Estimate struct {
	OrderID  int64      `json:"order_id"`
	DriverID *int64     `json:"driver_id,omitempty"`
	At       *time.Time `json:"estimated_delivery_time"`
	Reason   Reason     `json:"status,omitempty"`
}

type PositionSource interface {
	Overlay(ctx context.Context, drivers []driver.Driver) []driver.Driver
}
