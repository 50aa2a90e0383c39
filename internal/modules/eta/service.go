// README: ETA recalculator; refreshes every route's arrival times from the driver's position.
package eta

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dispatch/internal/lock"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/planner"
	"dispatch/internal/modules/route"
	"dispatch/internal/obs"
)

const writeConcurrency = 8

type Service struct {
	drivers   driver.Repository
	orders    order.Repository
	planner   *planner.Planner
	locker    lock.Locker
	positions PositionSource
}

// NewService wires the recalculator. positions may be nil.
func NewService(drivers driver.Repository, orders order.Repository, pl *planner.Planner, locker lock.Locker, positions PositionSource) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Service{drivers: drivers, orders: orders, planner: pl, locker: locker, positions: positions}
}

type traceWrite struct {
	driverID int64
	version  int
	times    []time.Time
}

// RunOnce recomputes the time trace of every non-empty route starting at the
// driver's current location and now. Only the time trace is written, guarded
// by the route version seen in the snapshot.
func (s *Service) RunOnce(ctx context.Context) (rep Report, err error) {
	defer obs.Time(ctx, "eta.run_once")(&err)

	active, err := s.orders.ListByStatus(ctx, order.RoutableStatuses())
	if err != nil {
		return rep, fmt.Errorf("list routable orders: %w", err)
	}
	idx := order.BuildIndex(active)

	drivers, err := s.drivers.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list drivers: %w", err)
	}
	if s.positions != nil {
		drivers = s.positions.Overlay(ctx, drivers)
	}

	now := s.planner.Now()
	var writes []traceWrite
	for _, d := range drivers {
		if d.Route.IsEmpty() {
			continue
		}
		rep.Drivers++
		times, err := s.planner.Simulate(ctx, d.Location, now, d.Route.Nodes, idx)
		if errors.Is(err, route.ErrUnknownOrder) {
			rep.Skipped++
			log.Printf("eta: skip driver=%d err=%v", d.ID, err)
			continue
		}
		if err != nil {
			return rep, err
		}
		writes = append(writes, traceWrite{driverID: d.ID, version: d.RouteVersion, times: times})
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(writeConcurrency)
	for _, w := range writes {
		w := w
		g.Go(func() error {
			ok, err := s.write(ctx, w)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Failed++
				log.Printf("eta: write driver=%d err=%v", w.driverID, err)
			case !ok:
				rep.Stale++
				log.Printf("eta: driver=%d route changed since snapshot, skipped", w.driverID)
			default:
				rep.Updated++
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("eta: recalculated drivers=%d updated=%d skipped=%d stale=%d failed=%d",
		rep.Drivers, rep.Updated, rep.Skipped, rep.Stale, rep.Failed)
	return rep, nil
}

func (s *Service) write(ctx context.Context, w traceWrite) (bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.DriverKey(w.driverID))
	if err != nil {
		return false, err
	}
	defer unlock()
	return s.drivers.UpdateTimeTrace(ctx, w.driverID, w.times, w.version)
}

// EstimatedDelivery reads the planned arrival at the order's dropoff stop.
func (s *Service) EstimatedDelivery(ctx context.Context, orderID int64) (Estimate, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Estimate{}, err
	}
	est := Estimate{OrderID: orderID, DriverID: o.DriverID}
	if o.DriverID == nil {
		est.Reason = ReasonPendingDriver
		return est, nil
	}
	d, err := s.drivers.Get(ctx, *o.DriverID)
	if errors.Is(err, driver.ErrNotFound) {
		est.Reason = ReasonDriverNotFound
		return est, nil
	}
	if err != nil {
		return Estimate{}, err
	}
	at, ok := d.Route.ArrivalAt(route.DropoffOf(orderID))
	if !ok {
		est.Reason = ReasonNotInRoute
		return est, nil
	}
	est.At = &at
	return est, nil
}
