// README: In-memory order store for local runs and tests.
package order

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[int64]Order
	events []Event
	nextID int64

	// Writes counts successful status writes.
	Writes int
	// FailAssign, when set, is returned by Assign.
	FailAssign error
}

func NewMemoryStore(orders ...Order) *MemoryStore {
	s := &MemoryStore{orders: map[int64]Order{}}
	for _, o := range orders {
		s.Put(o)
	}
	return s
}

// Put inserts or replaces an order as-is.
func (s *MemoryStore) Put(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	if o.ID > s.nextID {
		s.nextID = o.ID
	}
}

func (s *MemoryStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	s.orders[o.ID] = *o
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]Order, error) {
	return s.ListByStatus(ctx, []Status{StatusPending})
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses []Status) ([]Order, error) {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		if want[o.Status] {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Assign(_ context.Context, id int64, a Assignment, expectedVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAssign != nil {
		return false, s.FailAssign
	}
	o, ok := s.orders[id]
	if !ok || o.Status != StatusPending || o.StatusVersion != expectedVersion {
		return false, nil
	}
	driverID := a.DriverID
	pickup := a.PickupTime
	o.Status = StatusInProgress
	o.StatusVersion++
	o.DriverID = &driverID
	o.PickupTime = &pickup
	o.ExpectedDeliveryAt = a.ExpectedDeliveryAt
	if a.Pickup != nil {
		p := *a.Pickup
		o.Pickup = &p
	}
	if a.Dropoff != nil {
		p := *a.Dropoff
		o.Dropoff = &p
	}
	s.orders[id] = o
	s.Writes++
	return true, nil
}

func (s *MemoryStore) Finish(_ context.Context, id int64, c Completion, expectedVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != StatusInProgress || o.StatusVersion != expectedVersion {
		return false, nil
	}
	dropoff := c.DropoffTime
	onTime := c.OnTime
	o.Status = StatusFinished
	o.StatusVersion++
	o.DropoffTime = &dropoff
	o.OnTime = &onTime
	o.Proof = c.Proof
	s.orders[id] = o
	s.Writes++
	return true, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}
