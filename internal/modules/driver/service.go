// README: Driver service; rating refresh and submission, route cleanup under the driver lock.
package driver

import (
	"context"
	"fmt"
	"log"
	"math"

	"dispatch/internal/lock"
	"dispatch/internal/modules/route"
	"dispatch/internal/obs"
	"dispatch/internal/types"
)

const maxRouteAttempts = 3

type Service struct {
	repo   Repository
	locker lock.Locker
	clock  types.Clock
}

func NewService(repo Repository, locker lock.Locker, clock types.Clock) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Service{repo: repo, locker: locker, clock: clock}
}

func (s *Service) Get(ctx context.Context, id int64) (*Driver, error) {
	return s.repo.Get(ctx, id)
}

// AverageRating is the mean of the positive scores rounded to two decimals,
// or 0 when there are none.
func AverageRating(scores []float64) float64 {
	var sum float64
	var n int
	for _, v := range scores {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*100) / 100
}

type RefreshReport struct {
	Drivers int
	Updated int
	Failed  int
}

// RefreshRatings recomputes every driver's average rating. A failure for one
// driver is logged and does not stop the others.
func (s *Service) RefreshRatings(ctx context.Context) (RefreshReport, error) {
	drivers, err := s.repo.List(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("list drivers: %w", err)
	}
	rep := RefreshReport{Drivers: len(drivers)}
	for _, d := range drivers {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		ratings, err := s.repo.ListRatings(ctx, d.ID)
		if err != nil {
			log.Printf("driver: ratings list failed driver=%d err=%v", d.ID, err)
			rep.Failed++
			continue
		}
		scores := make([]float64, len(ratings))
		for i, r := range ratings {
			scores[i] = r.Score
		}
		if err := s.repo.UpdateAvgRating(ctx, d.ID, AverageRating(scores)); err != nil {
			log.Printf("driver: rating update failed driver=%d err=%v", d.ID, err)
			rep.Failed++
			continue
		}
		rep.Updated++
	}
	log.Printf("driver: ratings refreshed drivers=%d updated=%d failed=%d", rep.Drivers, rep.Updated, rep.Failed)
	return rep, nil
}

type SubmitRatingCommand struct {
	DriverID   int64
	OrderID    int64
	CustomerID string
	Score      float64
	Comment    string
}

// SubmitRating records one rating per (driver, order).
func (s *Service) SubmitRating(ctx context.Context, cmd SubmitRatingCommand) (int64, error) {
	if cmd.DriverID <= 0 || cmd.OrderID <= 0 || cmd.Score < 1 || cmd.Score > 5 {
		return 0, ErrBadRequest
	}
	if _, err := s.repo.Get(ctx, cmd.DriverID); err != nil {
		return 0, err
	}
	unlock, err := s.locker.Lock(ctx, fmt.Sprintf("rating:%d:%d", cmd.DriverID, cmd.OrderID))
	if err != nil {
		return 0, err
	}
	defer unlock()

	exists, err := s.repo.HasRating(ctx, cmd.DriverID, cmd.OrderID)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrAlreadyRated
	}
	r := &Rating{
		DriverID:   cmd.DriverID,
		OrderID:    cmd.OrderID,
		CustomerID: cmd.CustomerID,
		Score:      cmd.Score,
		Comment:    cmd.Comment,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.CreateRating(ctx, r); err != nil {
		return 0, err
	}
	return r.ID, nil
}

// RemoveOrder drops both stops of orderID from the driver's route.
func (s *Service) RemoveOrder(ctx context.Context, driverID, orderID int64) error {
	return s.editRoute(ctx, driverID, func(r route.Route) route.Route {
		return r.Without(orderID)
	})
}

// ArriveNode drops a single served stop from the driver's route. After a
// pickup is served its weight stays on board: the planner counts a dropoff
// without a pickup as carried load.
func (s *Service) ArriveNode(ctx context.Context, driverID int64, n route.Node) error {
	return s.editRoute(ctx, driverID, func(r route.Route) route.Route {
		return r.WithoutNode(n)
	})
}

func (s *Service) editRoute(ctx context.Context, driverID int64, edit func(route.Route) route.Route) (err error) {
	defer obs.Time(ctx, "driver.edit_route")(&err)

	unlock, err := s.locker.Lock(ctx, lock.DriverKey(driverID))
	if err != nil {
		return err
	}
	defer unlock()

	for attempt := 0; attempt < maxRouteAttempts; attempt++ {
		d, err := s.repo.Get(ctx, driverID)
		if err != nil {
			return err
		}
		next := edit(d.Route)
		if next.Len() == d.Route.Len() {
			return nil
		}
		ok, err := s.repo.UpdateRoute(ctx, driverID, next, d.RouteVersion)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrConflict
}
