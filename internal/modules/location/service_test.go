package location

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/modules/driver"
	"dispatch/internal/types"
)

func newTestService(t *testing.T, drivers ...driver.Driver) (*Service, *driver.MemoryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	mem := driver.NewMemoryStore(drivers...)
	return NewService(NewStore(rdb), mem), mem
}

func near(a, b types.Point) bool {
	return math.Abs(a.Lat-b.Lat) < 1e-4 && math.Abs(a.Lng-b.Lng) < 1e-4
}

func TestUpdateDriverLocation(t *testing.T) {
	svc, mem := newTestService(t, driver.Driver{ID: 1})
	ctx := context.Background()

	p := types.Point{Lat: 22.2819, Lng: 114.1581}
	if err := svc.Update(ctx, Update{DriverID: 1, Position: p}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := mem.Get(ctx, 1)
	if d.Location != p {
		t.Fatalf("driver record location = %v", d.Location)
	}

	pos, err := svc.store.Positions(ctx, []int64{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := pos[1]; !ok || !near(got, p) {
		t.Fatalf("geo position = %v %v", got, ok)
	}
	if _, ok := pos[2]; ok {
		t.Fatal("unknown driver should be absent")
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t, driver.Driver{ID: 1})
	ctx := context.Background()
	if err := svc.Update(ctx, Update{DriverID: 1, Position: types.Point{Lat: 100, Lng: 0}}); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if err := svc.Update(ctx, Update{DriverID: 9, Position: types.Point{Lat: 22, Lng: 114}}); !errors.Is(err, driver.ErrNotFound) {
		t.Fatalf("expected driver.ErrNotFound, got %v", err)
	}
}

func TestOverlay(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	live := types.Point{Lat: 22.33, Lng: 114.19}
	if err := svc.store.SetPosition(ctx, 2, live); err != nil {
		t.Fatal(err)
	}

	drivers := []driver.Driver{
		{ID: 1, Location: driver.DefaultLocation},
		{ID: 2, Location: driver.DefaultLocation},
	}
	got := svc.Overlay(ctx, drivers)
	if got[0].Location != driver.DefaultLocation {
		t.Fatalf("driver without live position changed: %v", got[0].Location)
	}
	if !near(got[1].Location, live) {
		t.Fatalf("live position not applied: %v", got[1].Location)
	}
}

func TestAssignmentMessage(t *testing.T) {
	eta := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	msg := assignmentMessage("tok", Assignment{
		OrderID:          42,
		DriverID:         7,
		Pickup:           types.Point{Lat: 22.3, Lng: 114.1},
		Dropoff:          types.Point{Lat: 22.4, Lng: 114.2},
		ExpectedDelivery: &eta,
		RouteLength:      4,
	})
	if msg.Token != "tok" || msg.Data["order_id"] != "42" || msg.Data["route_length"] != "4" {
		t.Fatalf("data = %v", msg.Data)
	}
	if msg.Data["expected_delivery"] != "2026-03-02T10:30:00Z" {
		t.Fatalf("expected_delivery = %q", msg.Data["expected_delivery"])
	}
	if msg.Android == nil || msg.Android.Priority != "high" {
		t.Fatal("expected high priority android config")
	}
}
