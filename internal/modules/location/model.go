// README: Location updates and route-assignment notifications.
package location

import (
	"time"

	"dispatch/internal/types"
)

type Update struct {
	DriverID int64
	Position types.Point
}

// Assignment is pushed to a driver when an order lands on their route.
type Assignment struct {
	OrderID          int64
	DriverID         int64
	Pickup           types.Point
	Dropoff          types.Point
	ExpectedDelivery *time.Time
	RouteLength      int
}
