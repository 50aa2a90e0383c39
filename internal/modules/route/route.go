// README: Driver route with its parallel capacity and arrival-time traces.
package route

import (
	"errors"
	"fmt"
	"time"

	"dispatch/internal/types"
)

var (
	ErrOverCapacity  = errors.New("route exceeds vehicle capacity")
	ErrUnknownOrder  = errors.New("route references unknown order")
	ErrTraceMismatch = errors.New("route traces out of sync")
	ErrStopOrder     = errors.New("dropoff precedes pickup")
	ErrTimeOrder     = errors.New("time trace decreases")
)

// Job is what the planner needs to know about an order to visit its stops.
type Job struct {
	Pickup  types.Point
	Dropoff types.Point
	Weight  float64
}

// Location returns the coordinate of the node's stop.
func (j Job) Location(k Kind) types.Point {
	if k == Pickup {
		return j.Pickup
	}
	return j.Dropoff
}

// Index maps order ids to their jobs for one planning round.
type Index map[int64]Job

func (idx Index) Lookup(id int64) (Job, bool) {
	j, ok := idx[id]
	return j, ok
}

// CarriedWeight is the load already on board when nodes start: orders whose
// dropoff is on the route but whose pickup has been served. Orders missing
// from lookup contribute nothing.
func CarriedWeight(nodes []Node, lookup func(int64) (Job, bool)) float64 {
	picked := make(map[int64]bool, len(nodes)/2)
	for _, n := range nodes {
		if n.Kind == Pickup {
			picked[n.OrderID] = true
		}
	}
	var w float64
	for _, n := range nodes {
		if n.Kind != Dropoff || picked[n.OrderID] {
			continue
		}
		if j, ok := lookup(n.OrderID); ok {
			w += j.Weight
		}
	}
	return w
}

// Route is a driver's planned stops. CapacityTrace[i] is the free capacity
// after visiting Nodes[i]; TimeTrace[i] is the arrival instant at Nodes[i].
// The three slices are always written together.
type Route struct {
	Nodes         []Node
	CapacityTrace []float64
	TimeTrace     []time.Time
}

func (r Route) Len() int { return len(r.Nodes) }

func (r Route) IsEmpty() bool { return len(r.Nodes) == 0 }

// FinishTime is the arrival at the last stop, or fallback for an empty trace.
func (r Route) FinishTime(fallback time.Time) time.Time {
	if len(r.TimeTrace) == 0 {
		return fallback
	}
	return r.TimeTrace[len(r.TimeTrace)-1]
}

func (r Route) IndexOf(n Node) int {
	for i, x := range r.Nodes {
		if x == n {
			return i
		}
	}
	return -1
}

// ArrivalAt returns the planned arrival at n, if n is on the route and timed.
func (r Route) ArrivalAt(n Node) (time.Time, bool) {
	i := r.IndexOf(n)
	if i < 0 || i >= len(r.TimeTrace) {
		return time.Time{}, false
	}
	return r.TimeTrace[i], true
}

// OrderIDs lists each order on the route once, in first-seen order.
func (r Route) OrderIDs() []int64 {
	seen := make(map[int64]struct{}, len(r.Nodes)/2)
	out := make([]int64, 0, len(r.Nodes)/2)
	for _, n := range r.Nodes {
		if _, ok := seen[n.OrderID]; ok {
			continue
		}
		seen[n.OrderID] = struct{}{}
		out = append(out, n.OrderID)
	}
	return out
}

// Without drops both stops of orderID along with their trace entries.
// An emptied route also has an empty time trace.
func (r Route) Without(orderID int64) Route {
	out := Route{
		Nodes:         make([]Node, 0, len(r.Nodes)),
		CapacityTrace: make([]float64, 0, len(r.CapacityTrace)),
		TimeTrace:     make([]time.Time, 0, len(r.TimeTrace)),
	}
	for i, n := range r.Nodes {
		if n.OrderID == orderID {
			continue
		}
		out.Nodes = append(out.Nodes, n)
		if i < len(r.CapacityTrace) {
			out.CapacityTrace = append(out.CapacityTrace, r.CapacityTrace[i])
		}
		if i < len(r.TimeTrace) {
			out.TimeTrace = append(out.TimeTrace, r.TimeTrace[i])
		}
	}
	if len(out.Nodes) == 0 {
		out.TimeTrace = nil
	}
	return out
}

// WithoutNode drops a single stop and its trace entries. The pairing
// invariant is the caller's concern: it is used once a stop has been served.
func (r Route) WithoutNode(n Node) Route {
	i := r.IndexOf(n)
	if i < 0 {
		return r.Clone()
	}
	out := Route{
		Nodes:         append(append([]Node(nil), r.Nodes[:i]...), r.Nodes[i+1:]...),
		CapacityTrace: dropAt(r.CapacityTrace, i),
		TimeTrace:     dropAt(r.TimeTrace, i),
	}
	if len(out.Nodes) == 0 {
		out.TimeTrace = nil
	}
	return out
}

func dropAt[T any](s []T, i int) []T {
	if i >= len(s) {
		return append([]T(nil), s...)
	}
	return append(append([]T(nil), s[:i]...), s[i+1:]...)
}

// Clone returns a deep copy.
func (r Route) Clone() Route {
	return Route{
		Nodes:         append([]Node(nil), r.Nodes...),
		CapacityTrace: append([]float64(nil), r.CapacityTrace...),
		TimeTrace:     append([]time.Time(nil), r.TimeTrace...),
	}
}

// InsertPair returns a copy of nodes with a pickup for orderID at i and then a
// dropoff at j. j indexes the array after the pickup has been inserted, so
// 0 <= i <= len(nodes) and i < j <= len(nodes)+1.
func InsertPair(nodes []Node, i, j int, orderID int64) []Node {
	out := make([]Node, 0, len(nodes)+2)
	out = append(out, nodes[:i]...)
	out = append(out, PickupOf(orderID))
	out = append(out, nodes[i:]...)

	out = append(out, Node{})
	copy(out[j+1:], out[j:])
	out[j] = DropoffOf(orderID)
	return out
}

// ReplayCapacity recomputes the capacity trace from maxWeight less the load
// already on board.
func ReplayCapacity(nodes []Node, maxWeight float64, idx Index) ([]float64, error) {
	trace := make([]float64, 0, len(nodes))
	free := maxWeight - CarriedWeight(nodes, idx.Lookup)
	for i, n := range nodes {
		job, ok := idx[n.OrderID]
		if !ok {
			return nil, fmt.Errorf("%w: %s at %d", ErrUnknownOrder, n, i)
		}
		if n.Kind == Pickup {
			free -= job.Weight
		} else {
			free += job.Weight
		}
		if free < 0 {
			return nil, fmt.Errorf("%w: %s at %d (free %.2f)", ErrOverCapacity, n, i, free)
		}
		trace = append(trace, free)
	}
	return trace, nil
}

// Validate checks the structural invariants of a committed route.
func (r Route) Validate(maxWeight float64, idx Index) error {
	if len(r.CapacityTrace) != len(r.Nodes) {
		return fmt.Errorf("%w: %d nodes, %d capacity entries", ErrTraceMismatch, len(r.Nodes), len(r.CapacityTrace))
	}
	if len(r.TimeTrace) != len(r.Nodes) {
		return fmt.Errorf("%w: %d nodes, %d time entries", ErrTraceMismatch, len(r.Nodes), len(r.TimeTrace))
	}

	// A dropoff without a pickup is allowed: the pickup was already served.
	pickedAt := make(map[int64]int, len(r.Nodes)/2)
	for i, n := range r.Nodes {
		if n.Kind != Pickup {
			continue
		}
		if _, dup := pickedAt[n.OrderID]; dup {
			return fmt.Errorf("%w: duplicate %s", ErrStopOrder, n)
		}
		pickedAt[n.OrderID] = i
	}
	dropped := make(map[int64]bool, len(r.Nodes)/2)
	for i, n := range r.Nodes {
		if n.Kind != Dropoff {
			continue
		}
		if p, ok := pickedAt[n.OrderID]; (ok && p > i) || dropped[n.OrderID] {
			return fmt.Errorf("%w: %s at %d", ErrStopOrder, n, i)
		}
		dropped[n.OrderID] = true
	}
	for id := range pickedAt {
		if !dropped[id] {
			return fmt.Errorf("%w: order %d has no dropoff", ErrStopOrder, id)
		}
	}

	if idx != nil {
		if _, err := ReplayCapacity(r.Nodes, maxWeight, idx); err != nil {
			return err
		}
	}
	for i, c := range r.CapacityTrace {
		if c < 0 {
			return fmt.Errorf("%w: capacity %.2f at %d", ErrOverCapacity, c, i)
		}
	}
	for i := 1; i < len(r.TimeTrace); i++ {
		if r.TimeTrace[i].Before(r.TimeTrace[i-1]) {
			return fmt.Errorf("%w: at %d", ErrTimeOrder, i)
		}
	}
	return nil
}
