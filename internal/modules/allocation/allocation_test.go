// README: Allocation coordinator tests with in-memory stores and a scripted oracle.
package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dispatch/internal/lock"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/planner"
	"dispatch/internal/modules/route"
	"dispatch/internal/types"
)

var (
	now     = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	pickup  = types.Point{Lat: 22.30, Lng: 114.17}
	dropoff = types.Point{Lat: 22.28, Lng: 114.15}
	locA    = types.Point{Lat: 22.40, Lng: 114.10}
	locB    = types.Point{Lat: 22.20, Lng: 114.20}
)

// legOracle returns scripted seconds per origin; unknown legs take 0s.
type legOracle map[types.Point]int

func (o legOracle) TravelTime(_ context.Context, origin, _ types.Point) int {
	return o[origin]
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []location.Assignment
	err  error
}

func (n *fakeNotifier) NotifyAssignment(_ context.Context, _ string, a location.Assignment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, a)
	return n.err
}

type fixture struct {
	svc      *Service
	drivers  *driver.MemoryStore
	orders   *order.MemoryStore
	notifier *fakeNotifier
}

func newFixture(t *testing.T, locker lock.Locker, drivers ...driver.Driver) *fixture {
	t.Helper()
	ds := driver.NewMemoryStore(drivers...)
	ostore := order.NewMemoryStore()
	n := &fakeNotifier{}
	pl := planner.New(legOracle{locA: 200, locB: 300}, types.ClockFunc(func() time.Time { return now }), planner.Config{})
	svc := NewService(Deps{
		Orders:    ostore,
		Drivers:   ds,
		Planner:   pl,
		Committer: NewCompensatingCommitter(ds, ostore),
		Locker:    locker,
		Notifier:  n,
	}, Config{})
	return &fixture{svc: svc, drivers: ds, orders: ostore, notifier: n}
}

func pendingOrder(id int64, weight float64) order.Order {
	p, d := pickup, dropoff
	return order.Order{ID: id, CustomerID: "c1", Status: order.StatusPending, Pickup: &p, Dropoff: &d, Weight: weight}
}

func twoDrivers() []driver.Driver {
	return []driver.Driver{
		{ID: 1, Location: locA, AvgRating: 1, DeviceToken: "tok-a"},
		{ID: 2, Location: locB, AvgRating: 2, DeviceToken: "tok-b"},
	}
}

func TestAllocatePicksGlobalMinimum(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	f.orders.Put(pendingOrder(7, 10))
	ctx := context.Background()

	res, err := f.svc.Allocate(ctx, Request{OrderID: 7})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// Driver 1: 800000ms - 1*300000 = 500000. Driver 2: 900000ms - 2*300000 = 300000.
	if res.Status != StatusAssigned || res.DriverID != 2 || res.Cost != 300000 {
		t.Fatalf("result = %+v", res)
	}

	loser, _ := f.drivers.Get(ctx, 1)
	if !loser.Route.IsEmpty() || loser.RouteVersion != 0 {
		t.Fatalf("losing driver was written: %+v", loser.Route)
	}
	winner, _ := f.drivers.Get(ctx, 2)
	want := []route.Node{route.PickupOf(7), route.DropoffOf(7)}
	if len(winner.Route.Nodes) != 2 || winner.Route.Nodes[0] != want[0] || winner.Route.Nodes[1] != want[1] {
		t.Fatalf("winner route = %v", winner.Route.Nodes)
	}
	if winner.Route.CapacityTrace[0] != 40 || winner.Route.CapacityTrace[1] != 50 {
		t.Fatalf("capacity trace = %v", winner.Route.CapacityTrace)
	}

	o, _ := f.orders.Get(ctx, 7)
	if o.Status != order.StatusInProgress || o.DriverID == nil || *o.DriverID != 2 {
		t.Fatalf("order = %+v", o)
	}
	wantETA := now.Add(900 * time.Second)
	if o.ExpectedDeliveryAt == nil || !o.ExpectedDeliveryAt.Equal(wantETA) {
		t.Fatalf("expected delivery = %v, want %v", o.ExpectedDeliveryAt, wantETA)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].DriverID != 2 {
		t.Fatalf("notifications = %+v", f.notifier.sent)
	}
}

func TestAllocateTieKeepsListingOrder(t *testing.T) {
	f := newFixture(t, nil,
		driver.Driver{ID: 1, Location: locA},
		driver.Driver{ID: 2, Location: locA},
	)
	f.orders.Put(pendingOrder(7, 10))

	res, err := f.svc.Allocate(context.Background(), Request{OrderID: 7})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if res.DriverID != 1 {
		t.Fatalf("tie went to driver %d", res.DriverID)
	}
}

func TestAllocateNoFeasibleDriver(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	f.orders.Put(pendingOrder(7, 80))

	res, err := f.svc.Allocate(context.Background(), Request{OrderID: 7})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if res.Status != StatusPendingNoDrivers {
		t.Fatalf("status = %s", res.Status)
	}
	if f.drivers.RouteWrites != 0 || f.orders.Writes != 0 {
		t.Fatalf("infeasible allocation wrote: routes=%d orders=%d", f.drivers.RouteWrites, f.orders.Writes)
	}
}

func TestAllocateRejectsNonPending(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	o := pendingOrder(7, 10)
	driverID := int64(1)
	o.Status, o.DriverID = order.StatusInProgress, &driverID
	f.orders.Put(o)

	_, err := f.svc.Allocate(context.Background(), Request{OrderID: 7})
	if !errors.Is(err, order.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := f.svc.Allocate(context.Background(), Request{OrderID: 99}); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAllocateWeightFallbacks(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	f.orders.Put(pendingOrder(7, 0))

	_, err := f.svc.Allocate(context.Background(), Request{OrderID: 7})
	if !errors.Is(err, order.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	res, err := f.svc.Allocate(context.Background(), Request{OrderID: 7, Weight: 5})
	if err != nil || res.Status != StatusAssigned {
		t.Fatalf("allocate with request weight: %+v %v", res, err)
	}
}

type stubGeocoder struct {
	points map[string]types.Point
}

func (g stubGeocoder) Geocode(_ context.Context, address string) (types.Point, error) {
	p, ok := g.points[address]
	if !ok {
		return types.Point{}, errors.New("ZERO_RESULTS")
	}
	return p, nil
}

func TestAllocateGeocodesMissingCoordinates(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	f.orders.Put(order.Order{ID: 7, Status: order.StatusPending, PickupAddress: "Shop", DropoffAddress: "Home", Weight: 10})

	f.svc.Geocoder = stubGeocoder{points: map[string]types.Point{"Shop": pickup}}
	if _, err := f.svc.Allocate(context.Background(), Request{OrderID: 7}); !errors.Is(err, order.ErrGeocode) {
		t.Fatalf("expected ErrGeocode, got %v", err)
	}
	if f.orders.Writes != 0 {
		t.Fatal("failed geocode touched the order")
	}

	f.svc.Geocoder = stubGeocoder{points: map[string]types.Point{"Shop": pickup, "Home": dropoff}}
	res, err := f.svc.Allocate(context.Background(), Request{OrderID: 7})
	if err != nil || res.Status != StatusAssigned {
		t.Fatalf("allocate: %+v %v", res, err)
	}
	o, _ := f.orders.Get(context.Background(), 7)
	if o.Pickup == nil || *o.Pickup != pickup || o.Dropoff == nil || *o.Dropoff != dropoff {
		t.Fatalf("coordinates not persisted: %v %v", o.Pickup, o.Dropoff)
	}
}

func TestCompensationRestoresRoute(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	f.orders.Put(pendingOrder(7, 10))
	f.orders.FailAssign = errors.New("order store unavailable")
	ctx := context.Background()

	_, err := f.svc.Allocate(ctx, Request{OrderID: 7})
	if err == nil || errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected compensated assign error, got %v", err)
	}
	d, _ := f.drivers.Get(ctx, 2)
	if !d.Route.IsEmpty() {
		t.Fatalf("route not restored: %v", d.Route.Nodes)
	}
	if d.RouteVersion != 2 {
		t.Fatalf("route version = %d, want write + restore", d.RouteVersion)
	}
	o, _ := f.orders.Get(ctx, 7)
	if o.Status != order.StatusPending {
		t.Fatalf("order status = %s", o.Status)
	}
	if len(f.notifier.sent) != 0 {
		t.Fatal("notified a failed allocation")
	}
}

type failingRestoreDrivers struct {
	*driver.MemoryStore
	calls int
}

func (d *failingRestoreDrivers) UpdateRoute(ctx context.Context, id int64, r route.Route, v int) (bool, error) {
	d.calls++
	if d.calls > 1 {
		return false, errors.New("driver store unavailable")
	}
	return d.MemoryStore.UpdateRoute(ctx, id, r, v)
}

func TestCompensationFailureIsInconsistent(t *testing.T) {
	ds := &failingRestoreDrivers{MemoryStore: driver.NewMemoryStore(twoDrivers()...)}
	ostore := order.NewMemoryStore()
	ostore.FailAssign = errors.New("order store unavailable")

	c := NewCompensatingCommitter(ds, ostore)
	err := c.Commit(context.Background(), Commit{DriverID: 1, Route: route.Route{Nodes: []route.Node{route.PickupOf(7), route.DropoffOf(7)}}, OrderID: 7})
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

// bumpingLocker changes driver 2's route version the first time it is taken,
// as if another writer committed between snapshot and lock.
type bumpingLocker struct {
	*lock.KeyedMutex
	drivers *driver.MemoryStore
	once    sync.Once
}

func (l *bumpingLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.once.Do(func() {
		_, _ = l.drivers.UpdateRoute(ctx, 2, route.Route{}, 0)
	})
	return l.KeyedMutex.Lock(ctx, key)
}

func TestAllocateRestartsOnStaleSnapshot(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	bl := &bumpingLocker{KeyedMutex: lock.NewKeyedMutex(), drivers: f.drivers}
	f.svc.Locker = bl
	f.orders.Put(pendingOrder(7, 10))

	res, err := f.svc.Allocate(context.Background(), Request{OrderID: 7})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if res.DriverID != 2 {
		t.Fatalf("driver = %d", res.DriverID)
	}
	d, _ := f.drivers.Get(context.Background(), 2)
	if d.RouteVersion != 2 || d.Route.Len() != 2 {
		t.Fatalf("driver after restart: version=%d route=%v", d.RouteVersion, d.Route.Nodes)
	}
}

func TestRetrySweep(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	f.orders.Put(pendingOrder(9, 100)) // too heavy for anyone
	f.orders.Put(pendingOrder(3, 10))
	f.orders.Put(order.Order{ID: 5, Status: order.StatusPending, Weight: 1})
	ctx := context.Background()

	rep, err := f.svc.RunRetrySweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep != (SweepReport{Pending: 3, Assigned: 1, Unassigned: 1, Skipped: 1}) {
		t.Fatalf("report = %+v", rep)
	}

	routeWrites, orderWrites := f.drivers.RouteWrites, f.orders.Writes
	rep, err = f.svc.RunRetrySweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if rep.Assigned != 0 || rep.Unassigned != 1 {
		t.Fatalf("second report = %+v", rep)
	}
	if f.drivers.RouteWrites != routeWrites || f.orders.Writes != orderWrites {
		t.Fatal("second sweep wrote to the stores")
	}
}

func TestAllocateRespectsLoadOnBoard(t *testing.T) {
	// Order 5 is on board (pickup served), so 20 of 50 is taken until D5.
	f := newFixture(t, nil, driver.Driver{
		ID:       1,
		Location: locA,
		Route: route.Route{
			Nodes:         []route.Node{route.DropoffOf(5)},
			CapacityTrace: []float64{50},
			TimeTrace:     []time.Time{now.Add(5 * time.Minute)},
		},
	})
	carried := pendingOrder(5, 20)
	one := int64(1)
	carried.Status, carried.DriverID, carried.StatusVersion = order.StatusInProgress, &one, 1
	f.orders.Put(carried)
	f.orders.Put(pendingOrder(7, 40))

	res, err := f.svc.Allocate(context.Background(), Request{OrderID: 7})
	if err != nil || res.Status != StatusAssigned {
		t.Fatalf("allocate: %+v %v", res, err)
	}
	d, _ := f.drivers.Get(context.Background(), 1)
	if got := route.EncodeNodes(d.Route.Nodes); len(got) != 3 || got[0] != "D5" || got[1] != "P7" || got[2] != "D7" {
		t.Fatalf("route = %v", got)
	}
	if c := d.Route.CapacityTrace; c[0] != 50 || c[1] != 10 || c[2] != 50 {
		t.Fatalf("capacity = %v", c)
	}
}

// flakyOrders fails the assignment write of a single order.
type flakyOrders struct {
	*order.MemoryStore
	failID int64
}

func (f flakyOrders) Assign(ctx context.Context, id int64, a order.Assignment, v int) (bool, error) {
	if id == f.failID {
		return false, errors.New("write timeout")
	}
	return f.MemoryStore.Assign(ctx, id, a, v)
}

func TestRetrySweepIsolatesFailures(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	orders := flakyOrders{MemoryStore: f.orders, failID: 3}
	f.svc.Orders = orders
	f.svc.Committer = NewCompensatingCommitter(f.drivers, orders)
	f.orders.Put(pendingOrder(6, 10))
	f.orders.Put(pendingOrder(3, 10))
	ctx := context.Background()

	rep, err := f.svc.RunRetrySweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep != (SweepReport{Pending: 2, Assigned: 1, Failed: 1}) {
		t.Fatalf("report = %+v", rep)
	}
	if o, _ := f.orders.Get(ctx, 3); o.Status != order.StatusPending || o.DriverID != nil {
		t.Fatalf("failed order = %+v", o)
	}
	if o, _ := f.orders.Get(ctx, 6); o.Status != order.StatusInProgress {
		t.Fatalf("order after the failure = %+v", o)
	}
	d, _ := f.drivers.Get(ctx, 2)
	if got := route.EncodeNodes(d.Route.Nodes); len(got) != 2 || got[0] != "P6" || got[1] != "D6" {
		t.Fatalf("driver route = %v", got)
	}
}

func TestRetrySweepServesOldestFirst(t *testing.T) {
	// One order fits before 10:15; a second would finish at 10:23:20.
	shift, err := driver.ParseShift("09:00-10:15")
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, nil, driver.Driver{ID: 1, Location: locA, Shift: shift})
	f.orders.Put(pendingOrder(8, 30))
	f.orders.Put(pendingOrder(4, 30))
	ctx := context.Background()

	rep, err := f.svc.RunRetrySweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep != (SweepReport{Pending: 2, Assigned: 1, Unassigned: 1}) {
		t.Fatalf("report = %+v", rep)
	}
	older, _ := f.orders.Get(ctx, 4)
	if older.Status != order.StatusInProgress || older.DriverID == nil || *older.DriverID != 1 {
		t.Fatalf("older order = %+v", older)
	}
	if newer, _ := f.orders.Get(ctx, 8); newer.Status != order.StatusPending {
		t.Fatalf("newer order = %+v", newer)
	}
}

func TestNotifyFailureDoesNotFailAllocation(t *testing.T) {
	f := newFixture(t, nil, twoDrivers()...)
	f.notifier.err = errors.New("fcm down")
	f.orders.Put(pendingOrder(7, 10))

	res, err := f.svc.Allocate(context.Background(), Request{OrderID: 7})
	if err != nil || res.Status != StatusAssigned {
		t.Fatalf("allocate: %+v %v", res, err)
	}
}
