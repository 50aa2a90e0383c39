// README: Driver persistence contract shared by the Postgres, Firestore and memory stores.
package driver

import (
	"context"
	"time"

	"dispatch/internal/modules/route"
	"dispatch/internal/types"
)

// Repository persists drivers and their ratings. Route writes are guarded by
// RouteVersion: they succeed only when the stored version equals
// expectedVersion, and bump it by one. A false result means the route changed.
type Repository interface {
	List(ctx context.Context) ([]Driver, error)
	Get(ctx context.Context, id int64) (*Driver, error)
	UpdateRoute(ctx context.Context, id int64, r route.Route, expectedVersion int) (bool, error)
	UpdateTimeTrace(ctx context.Context, id int64, times []time.Time, expectedVersion int) (bool, error)
	UpdateAvgRating(ctx context.Context, id int64, avg float64) error
	UpdateLocation(ctx context.Context, id int64, p types.Point) error

	ListRatings(ctx context.Context, driverID int64) ([]Rating, error)
	HasRating(ctx context.Context, driverID, orderID int64) (bool, error)
	CreateRating(ctx context.Context, r *Rating) error
}
