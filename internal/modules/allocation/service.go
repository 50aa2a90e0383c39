// README: Allocation coordinator; global cheapest insertion and the pending-order sweep.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"dispatch/internal/lock"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/planner"
	"dispatch/internal/modules/route"
	"dispatch/internal/obs"
	"dispatch/internal/types"
)

type Config struct {
	Concurrency int
	MaxAttempts int
}

// Deps are the collaborators of the coordinator. Geocoder, Positions and
// Notifier are optional.
type Deps struct {
	Orders    order.Repository
	Drivers   driver.Repository
	Planner   *planner.Planner
	Committer Committer
	Locker    lock.Locker
	Geocoder  Geocoder
	Positions PositionSource
	Notifier  Notifier
}

type Service struct {
	Deps
	cfg Config
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyedMutex()
	}
	return &Service{Deps: deps, cfg: cfg}
}

// Allocate places a pending order on the driver whose cheapest feasible
// insertion is globally cheapest. No feasible driver is a result, not an
// error, and leaves everything untouched.
func (s *Service) Allocate(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	defer func() {
		metrics.AllocationDuration.Observe(time.Since(start).Seconds())
		metrics.Allocations.WithLabelValues(outcome(res, err)).Inc()
	}()
	defer obs.Time(ctx, "allocation.allocate")(&err)

	o, err := s.pendingOrder(ctx, req.OrderID)
	if err != nil {
		return Result{}, err
	}
	job, err := s.resolve(ctx, o, req)
	if err != nil {
		return Result{}, err
	}

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		res, err = s.round(ctx, o, job)
		if !errors.Is(err, ErrConflict) {
			return res, err
		}
		log.Printf("allocation: conflict order=%d attempt=%d/%d", o.ID, attempt, s.cfg.MaxAttempts)
		if o, err = s.pendingOrder(ctx, req.OrderID); err != nil {
			return Result{}, err
		}
	}
	return Result{}, fmt.Errorf("%w: order %d after %d attempts", ErrConflict, req.OrderID, s.cfg.MaxAttempts)
}

type resolved struct {
	pickup  types.Point
	dropoff types.Point
	weight  float64
	// geocoded is set when coordinates were looked up in this call.
	geocoded bool
}

func (s *Service) pendingOrder(ctx context.Context, id int64) (*order.Order, error) {
	o, err := s.Orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPending {
		return nil, fmt.Errorf("%w: order %d is %s", order.ErrInvalidState, id, o.Status)
	}
	return o, nil
}

func (s *Service) resolve(ctx context.Context, o *order.Order, req Request) (resolved, error) {
	var r resolved
	pickup, dropoff := req.Pickup, req.Dropoff
	if pickup == nil {
		pickup = o.Pickup
	}
	if dropoff == nil {
		dropoff = o.Dropoff
	}
	if pickup == nil || dropoff == nil {
		if s.Geocoder == nil {
			return r, fmt.Errorf("%w: order %d has no coordinates", order.ErrGeocode, o.ID)
		}
		if pickup == nil {
			p, err := s.Geocoder.Geocode(ctx, o.PickupAddress)
			if err != nil {
				return r, fmt.Errorf("%w: pickup of order %d: %v", order.ErrGeocode, o.ID, err)
			}
			pickup = &p
		}
		if dropoff == nil {
			p, err := s.Geocoder.Geocode(ctx, o.DropoffAddress)
			if err != nil {
				return r, fmt.Errorf("%w: dropoff of order %d: %v", order.ErrGeocode, o.ID, err)
			}
			dropoff = &p
		}
		r.geocoded = true
	}
	r.pickup, r.dropoff = *pickup, *dropoff

	r.weight = req.Weight
	if r.weight <= 0 {
		r.weight = o.Weight
	}
	if r.weight <= 0 {
		return r, fmt.Errorf("%w: order %d has no weight", order.ErrBadRequest, o.ID)
	}
	return r, nil
}

// round evaluates every driver against one snapshot and commits the winner.
func (s *Service) round(ctx context.Context, o *order.Order, job resolved) (Result, error) {
	drivers, err := s.Drivers.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list drivers: %w", err)
	}
	if s.Positions != nil {
		drivers = s.Positions.Overlay(ctx, drivers)
	}
	active, err := s.Orders.ListByStatus(ctx, order.RoutableStatuses())
	if err != nil {
		return Result{}, fmt.Errorf("list routable orders: %w", err)
	}
	idx := order.BuildIndex(active)
	idx[o.ID] = job.job()

	plans := make([]*planner.Plan, len(drivers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range drivers {
		i := i
		g.Go(func() error {
			p, err := s.Planner.Plan(gctx, planner.Candidate{
				Driver:  drivers[i],
				OrderID: o.ID,
				Weight:  job.weight,
				Pickup:  job.pickup,
				Dropoff: job.dropoff,
			}, idx)
			if err != nil {
				return err
			}
			plans[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// Listing order breaks ties.
	best := -1
	for i, p := range plans {
		if p != nil && (best < 0 || p.Cost < plans[best].Cost) {
			best = i
		}
	}
	if best < 0 {
		log.Printf("allocation: no feasible driver order=%d drivers=%d", o.ID, len(drivers))
		return Result{OrderID: o.ID, Status: StatusPendingNoDrivers}, nil
	}
	return s.commit(ctx, o, job, drivers[best], plans[best], idx)
}

func (s *Service) commit(ctx context.Context, o *order.Order, job resolved, snap driver.Driver, plan *planner.Plan, idx route.Index) (Result, error) {
	if err := plan.Route.Validate(snap.WithDefaults().MaxWeight, idx); err != nil {
		return Result{}, fmt.Errorf("planned route driver=%d order=%d: %w", snap.ID, o.ID, err)
	}

	unlock, err := s.Locker.Lock(ctx, lock.DriverKey(snap.ID))
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	cur, err := s.Drivers.Get(ctx, snap.ID)
	if err != nil {
		return Result{}, err
	}
	if cur.RouteVersion != snap.RouteVersion {
		return Result{}, ErrConflict
	}

	var expected *time.Time
	if t, ok := plan.DropoffArrival(o.ID); ok {
		expected = &t
	}
	a := order.Assignment{
		DriverID:           snap.ID,
		PickupTime:         s.Planner.Now(),
		ExpectedDeliveryAt: expected,
	}
	if job.geocoded {
		a.Pickup, a.Dropoff = &job.pickup, &job.dropoff
	}
	err = s.Committer.Commit(ctx, Commit{
		DriverID:     snap.ID,
		RouteVersion: snap.RouteVersion,
		Previous:     cur.Route,
		Route:        plan.Route,
		OrderID:      o.ID,
		OrderVersion: o.StatusVersion,
		Assignment:   a,
	})
	if err != nil {
		return Result{}, err
	}

	_ = s.Orders.AppendEvent(ctx, &order.Event{
		OrderID:    o.ID,
		FromStatus: order.StatusPending,
		ToStatus:   order.StatusInProgress,
		ActorType:  "system",
		CreatedAt:  a.PickupTime,
	})
	log.Printf("allocation: assigned order=%d driver=%d cost=%.0f pickup_idx=%d dropoff_idx=%d",
		o.ID, snap.ID, plan.Cost, plan.PickupIndex, plan.DropoffIndex)
	s.notify(ctx, snap, o.ID, job, plan, expected)

	return Result{
		OrderID:          o.ID,
		Status:           StatusAssigned,
		DriverID:         snap.ID,
		Cost:             plan.Cost,
		PickupIndex:      plan.PickupIndex,
		DropoffIndex:     plan.DropoffIndex,
		ExpectedDelivery: expected,
	}, nil
}

func (s *Service) notify(ctx context.Context, d driver.Driver, orderID int64, job resolved, plan *planner.Plan, expected *time.Time) {
	if s.Notifier == nil || d.DeviceToken == "" {
		return
	}
	err := s.Notifier.NotifyAssignment(ctx, d.DeviceToken, location.Assignment{
		OrderID:          orderID,
		DriverID:         d.ID,
		Pickup:           job.pickup,
		Dropoff:          job.dropoff,
		ExpectedDelivery: expected,
		RouteLength:      plan.Route.Len(),
	})
	if err != nil {
		log.Printf("allocation: notify failed order=%d driver=%d err=%v", orderID, d.ID, err)
	}
}

// RunRetrySweep retries every pending order, oldest first and one at a
// time. Orders without coordinates are skipped; per-order failures are
// logged and counted.
func (s *Service) RunRetrySweep(ctx context.Context) (rep SweepReport, err error) {
	defer obs.Time(ctx, "allocation.retry_sweep")(&err)

	pending, err := s.Orders.ListPending(ctx)
	if err != nil {
		return rep, fmt.Errorf("list pending: %w", err)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	rep.Pending = len(pending)

	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if o.Pickup == nil || o.Dropoff == nil {
			rep.Skipped++
			log.Printf("allocation: sweep skip order=%d reason=missing_coordinates", o.ID)
			continue
		}
		res, err := s.Allocate(ctx, Request{OrderID: o.ID, Pickup: o.Pickup, Dropoff: o.Dropoff, Weight: o.Weight})
		switch {
		case err != nil:
			rep.Failed++
			log.Printf("allocation: sweep order=%d err=%v", o.ID, err)
		case res.Status == StatusAssigned:
			rep.Assigned++
		default:
			rep.Unassigned++
		}
	}
	log.Printf("allocation: sweep done pending=%d assigned=%d unassigned=%d skipped=%d failed=%d",
		rep.Pending, rep.Assigned, rep.Unassigned, rep.Skipped, rep.Failed)
	return rep, nil
}

func (r resolved) job() route.Job {
	return route.Job{Pickup: r.pickup, Dropoff: r.dropoff, Weight: r.weight}
}

func outcome(res Result, err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "conflict"
	case err != nil:
		return "error"
	default:
		return string(res.Status)
	}
}
