// README: In-memory driver store for local runs and tests.
package driver

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatch/internal/modules/route"
	"dispatch/internal/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[int64]Driver
	ratings map[int64][]Rating
	nextRID int64

	// RouteWrites counts successful route and time-trace writes.
	RouteWrites int
}

func NewMemoryStore(drivers ...Driver) *MemoryStore {
	s := &MemoryStore{drivers: map[int64]Driver{}, ratings: map[int64][]Rating{}}
	for _, d := range drivers {
		s.Put(d)
	}
	return s
}

// Put inserts or replaces a driver as-is.
func (s *MemoryStore) Put(d Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.Route = d.Route.Clone()
	s.drivers[d.ID] = d
}

func (s *MemoryStore) List(_ context.Context) ([]Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		d.Route = d.Route.Clone()
		out = append(out, d.WithDefaults())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	d.Route = d.Route.Clone()
	d = d.WithDefaults()
	return &d, nil
}

func (s *MemoryStore) UpdateRoute(_ context.Context, id int64, r route.Route, expectedVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return false, ErrNotFound
	}
	if d.RouteVersion != expectedVersion {
		return false, nil
	}
	d.Route = r.Clone()
	d.RouteVersion++
	d.UpdatedAt = time.Now()
	s.drivers[id] = d
	s.RouteWrites++
	return true, nil
}

func (s *MemoryStore) UpdateTimeTrace(_ context.Context, id int64, times []time.Time, expectedVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return false, ErrNotFound
	}
	if d.RouteVersion != expectedVersion {
		return false, nil
	}
	d.Route.TimeTrace = append([]time.Time(nil), times...)
	d.RouteVersion++
	d.UpdatedAt = time.Now()
	s.drivers[id] = d
	s.RouteWrites++
	return true, nil
}

func (s *MemoryStore) UpdateAvgRating(_ context.Context, id int64, avg float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.AvgRating = avg
	s.drivers[id] = d
	return nil
}

func (s *MemoryStore) UpdateLocation(_ context.Context, id int64, p types.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.Location = p
	s.drivers[id] = d
	return nil
}

func (s *MemoryStore) ListRatings(_ context.Context, driverID int64) ([]Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Rating(nil), s.ratings[driverID]...), nil
}

func (s *MemoryStore) HasRating(_ context.Context, driverID, orderID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.ratings[driverID] {
		if r.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CreateRating(_ context.Context, r *Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.ratings[r.DriverID] {
		if x.OrderID == r.OrderID {
			return ErrAlreadyRated
		}
	}
	s.nextRID++
	r.ID = s.nextRID
	s.ratings[r.DriverID] = append(s.ratings[r.DriverID], *r)
	return nil
}
