// README: Location service; live position writes and snapshot overlay for planning.
package location

import (
	"context"
	"errors"
	"fmt"
	"log"

	"dispatch/internal/modules/driver"
	"dispatch/internal/types"
)

var ErrInvalidPosition = errors.New("invalid position")

// DriverLocations persists the last known position on the driver record.
type DriverLocations interface {
	UpdateLocation(ctx context.Context, id int64, p types.Point) error
}

type Service struct {
	store   *Store
	drivers DriverLocations
}

// NewService wires the location service. A nil store disables the live
// GEO set and only the driver record is updated.
func NewService(store *Store, drivers DriverLocations) *Service {
	return &Service{store: store, drivers: drivers}
}

// Update records a driver's position in the GEO set and on the driver record.
func (s *Service) Update(ctx context.Context, u Update) error {
	if u.DriverID <= 0 || !ValidPosition(u.Position) {
		return ErrInvalidPosition
	}
	if err := s.drivers.UpdateLocation(ctx, u.DriverID, u.Position); err != nil {
		return err
	}
	if s.store == nil {
		return nil
	}
	if err := s.store.SetPosition(ctx, u.DriverID, u.Position); err != nil {
		return fmt.Errorf("geo set driver %d: %w", u.DriverID, err)
	}
	return nil
}

// Overlay replaces each driver's stored location with its live GEO position
// when one exists. Lookup failures leave the snapshot unchanged.
func (s *Service) Overlay(ctx context.Context, drivers []driver.Driver) []driver.Driver {
	if s.store == nil {
		return drivers
	}
	ids := make([]int64, len(drivers))
	for i, d := range drivers {
		ids[i] = d.ID
	}
	pos, err := s.store.Positions(ctx, ids)
	if err != nil {
		log.Printf("location: overlay lookup failed err=%v", err)
		return drivers
	}
	for i := range drivers {
		if p, ok := pos[drivers[i].ID]; ok {
			drivers[i].Location = p
		}
	}
	return drivers
}
