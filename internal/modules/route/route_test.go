// README: Route model invariants and edits.
package route

import (
	"errors"
	"testing"
	"time"

	"dispatch/internal/types"
)

func testIndex() Index {
	return Index{
		1: {Pickup: types.Point{Lat: 1, Lng: 1}, Dropoff: types.Point{Lat: 2, Lng: 2}, Weight: 10},
		2: {Pickup: types.Point{Lat: 3, Lng: 3}, Dropoff: types.Point{Lat: 4, Lng: 4}, Weight: 15},
	}
}

func TestInsertPairUsesPostPickupIndex(t *testing.T) {
	base := []Node{PickupOf(1), DropoffOf(1)}

	cases := []struct {
		i, j int
		want []string
	}{
		{0, 1, []string{"P9", "D9", "P1", "D1"}},
		{0, 3, []string{"P9", "P1", "D1", "D9"}},
		{1, 2, []string{"P1", "P9", "D9", "D1"}},
		{1, 3, []string{"P1", "P9", "D1", "D9"}},
		{2, 3, []string{"P1", "D1", "P9", "D9"}},
	}
	for _, tc := range cases {
		got := EncodeNodes(InsertPair(base, tc.i, tc.j, 9))
		if len(got) != len(tc.want) {
			t.Fatalf("InsertPair(%d,%d) = %v, want %v", tc.i, tc.j, got, tc.want)
		}
		for k := range got {
			if got[k] != tc.want[k] {
				t.Fatalf("InsertPair(%d,%d) = %v, want %v", tc.i, tc.j, got, tc.want)
			}
		}
	}
	if len(base) != 2 || base[0] != PickupOf(1) {
		t.Fatalf("base mutated: %v", base)
	}
}

func TestReplayCapacity(t *testing.T) {
	nodes := []Node{PickupOf(1), PickupOf(2), DropoffOf(1), DropoffOf(2)}
	trace, err := ReplayCapacity(nodes, 30, testIndex())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	want := []float64{20, 5, 15, 30}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}

	if _, err := ReplayCapacity(nodes, 20, testIndex()); !errors.Is(err, ErrOverCapacity) {
		t.Fatalf("expected ErrOverCapacity, got %v", err)
	}
	if _, err := ReplayCapacity([]Node{PickupOf(3)}, 20, testIndex()); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	good := Route{
		Nodes:         []Node{PickupOf(1), DropoffOf(1)},
		CapacityTrace: []float64{40, 50},
		TimeTrace:     []time.Time{t0, t0.Add(time.Minute)},
	}
	if err := good.Validate(50, testIndex()); err != nil {
		t.Fatalf("valid route rejected: %v", err)
	}

	cases := []struct {
		name string
		r    Route
		want error
	}{
		{"trace length", Route{Nodes: good.Nodes, CapacityTrace: []float64{40}, TimeTrace: good.TimeTrace}, ErrTraceMismatch},
		{"dropoff first", Route{
			Nodes:         []Node{DropoffOf(1), PickupOf(1)},
			CapacityTrace: []float64{50, 40},
			TimeTrace:     good.TimeTrace,
		}, ErrStopOrder},
		{"missing dropoff", Route{
			Nodes:         []Node{PickupOf(1)},
			CapacityTrace: []float64{40},
			TimeTrace:     []time.Time{t0},
		}, ErrStopOrder},
		{"time goes back", Route{
			Nodes:         good.Nodes,
			CapacityTrace: good.CapacityTrace,
			TimeTrace:     []time.Time{t0, t0.Add(-time.Second)},
		}, ErrTimeOrder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.r.Validate(50, testIndex()); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}

	if err := good.Validate(5, testIndex()); !errors.Is(err, ErrOverCapacity) {
		t.Fatalf("expected overcapacity with small vehicle, got %v", err)
	}
}

func TestServedPickupCountsAsCarried(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if got := CarriedWeight([]Node{DropoffOf(1), PickupOf(2), DropoffOf(2)}, testIndex().Lookup); got != 10 {
		t.Fatalf("carried = %v, want 10", got)
	}

	trace, err := ReplayCapacity([]Node{DropoffOf(1)}, 20, testIndex())
	if err != nil || len(trace) != 1 || trace[0] != 20 {
		t.Fatalf("trace = %v err=%v", trace, err)
	}
	if _, err := ReplayCapacity([]Node{PickupOf(2), DropoffOf(1), DropoffOf(2)}, 20, testIndex()); !errors.Is(err, ErrOverCapacity) {
		t.Fatalf("expected ErrOverCapacity with 10 on board, got %v", err)
	}

	served := Route{
		Nodes:         []Node{DropoffOf(1), PickupOf(2), DropoffOf(2)},
		CapacityTrace: []float64{50, 35, 50},
		TimeTrace:     []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute)},
	}
	if err := served.Validate(50, testIndex()); err != nil {
		t.Fatalf("route with a served pickup rejected: %v", err)
	}
	served.Nodes = []Node{DropoffOf(1), DropoffOf(1), PickupOf(2)}
	if err := served.Validate(50, testIndex()); !errors.Is(err, ErrStopOrder) {
		t.Fatalf("duplicate dropoff: got %v", err)
	}
}

func TestWithout(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r := Route{
		Nodes:         []Node{PickupOf(1), PickupOf(2), DropoffOf(1), DropoffOf(2)},
		CapacityTrace: []float64{20, 5, 15, 30},
		TimeTrace:     []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute), t0.Add(3 * time.Minute)},
	}
	got := r.Without(1)
	if len(got.Nodes) != 2 || got.Nodes[0] != PickupOf(2) || got.Nodes[1] != DropoffOf(2) {
		t.Fatalf("nodes = %v", got.Nodes)
	}
	if got.CapacityTrace[0] != 5 || got.CapacityTrace[1] != 30 {
		t.Fatalf("capacity = %v", got.CapacityTrace)
	}
	if !got.TimeTrace[0].Equal(t0.Add(time.Minute)) {
		t.Fatalf("time = %v", got.TimeTrace)
	}

	empty := got.Without(2)
	if !empty.IsEmpty() || empty.TimeTrace != nil {
		t.Fatalf("expected empty route, got %+v", empty)
	}
	if r.Len() != 4 {
		t.Fatalf("original mutated")
	}
}

func TestArrivalAtAndFinish(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r := Route{
		Nodes:         []Node{PickupOf(5), DropoffOf(5)},
		CapacityTrace: []float64{1, 2},
		TimeTrace:     []time.Time{t0, t0.Add(time.Hour)},
	}
	at, ok := r.ArrivalAt(DropoffOf(5))
	if !ok || !at.Equal(t0.Add(time.Hour)) {
		t.Fatalf("ArrivalAt = %v %v", at, ok)
	}
	if _, ok := r.ArrivalAt(DropoffOf(6)); ok {
		t.Fatal("expected missing node")
	}
	if !r.FinishTime(t0).Equal(t0.Add(time.Hour)) {
		t.Fatal("FinishTime should use last trace entry")
	}
	if !(Route{}).FinishTime(t0).Equal(t0) {
		t.Fatal("FinishTime should fall back for empty route")
	}
	ids := Route{Nodes: []Node{PickupOf(3), PickupOf(1), DropoffOf(3), DropoffOf(1)}}.OrderIDs()
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 1 {
		t.Fatalf("OrderIDs = %v", ids)
	}
}

func TestWithoutNode(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r := Route{
		Nodes:         []Node{PickupOf(1), DropoffOf(1)},
		CapacityTrace: []float64{40, 50},
		TimeTrace:     []time.Time{t0, t0.Add(time.Minute)},
	}

	got := r.WithoutNode(PickupOf(1))
	if len(got.Nodes) != 1 || got.Nodes[0] != DropoffOf(1) {
		t.Fatalf("nodes = %v", got.Nodes)
	}
	if got.CapacityTrace[0] != 50 || !got.TimeTrace[0].Equal(t0.Add(time.Minute)) {
		t.Fatalf("traces not aligned: %+v", got)
	}
	if len(r.Nodes) != 2 {
		t.Fatal("receiver mutated")
	}

	empty := got.WithoutNode(DropoffOf(1))
	if !empty.IsEmpty() || empty.TimeTrace != nil {
		t.Fatalf("expected empty route with nil time trace, got %+v", empty)
	}

	same := r.WithoutNode(PickupOf(99))
	if same.Len() != 2 {
		t.Fatalf("missing node should leave route unchanged, got %v", same.Nodes)
	}
}
