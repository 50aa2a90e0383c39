// README: Order service; creation with geocoding and delivery completion.
package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"dispatch/internal/modules/location"
	"dispatch/internal/types"
)

const (
	// MaxFinishDistanceKm is how far from the dropoff a courier may finish.
	MaxFinishDistanceKm = 0.2
	// OnTimeGrace is added to the expected delivery time.
	OnTimeGrace = 5 * time.Minute
)

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("order not found")
	ErrConflict     = errors.New("order state conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrGeocode      = errors.New("geocoding failed")
	ErrForbidden    = errors.New("order not assigned to this driver")
	ErrTooFar       = errors.New("too far from destination")
)

// Geocoder resolves a free-form address.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

// RouteEditor removes a finished order's stops from its driver's route.
type RouteEditor interface {
	RemoveOrder(ctx context.Context, driverID, orderID int64) error
}

type Service struct {
	repo     Repository
	geocoder Geocoder
	routes   RouteEditor
	clock    types.Clock
}

func NewService(repo Repository, geocoder Geocoder, routes RouteEditor, clock types.Clock) *Service {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Service{repo: repo, geocoder: geocoder, routes: routes, clock: clock}
}

type CreateCommand struct {
	CustomerID     string
	PickupAddress  string
	DropoffAddress string
	Weight         float64
}

type FinishCommand struct {
	OrderID  int64
	DriverID int64
	Position types.Point
	PhotoURL string
}

func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// Create geocodes both addresses and stores a pending order.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (int64, error) {
	cmd.PickupAddress = strings.TrimSpace(cmd.PickupAddress)
	cmd.DropoffAddress = strings.TrimSpace(cmd.DropoffAddress)
	if cmd.CustomerID == "" || cmd.PickupAddress == "" || cmd.DropoffAddress == "" || cmd.Weight <= 0 {
		return 0, ErrBadRequest
	}

	pickup, err := s.geocoder.Geocode(ctx, cmd.PickupAddress)
	if err != nil {
		return 0, fmt.Errorf("%w: pickup: %v", ErrGeocode, err)
	}
	dropoff, err := s.geocoder.Geocode(ctx, cmd.DropoffAddress)
	if err != nil {
		return 0, fmt.Errorf("%w: dropoff: %v", ErrGeocode, err)
	}

	now := s.clock.Now()
	o := &Order{
		CustomerID:     cmd.CustomerID,
		Status:         StatusPending,
		StatusVersion:  0,
		PickupAddress:  cmd.PickupAddress,
		DropoffAddress: cmd.DropoffAddress,
		Pickup:         &pickup,
		Dropoff:        &dropoff,
		Weight:         cmd.Weight,
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return 0, err
	}
	_ = s.repo.AppendEvent(ctx, &Event{
		OrderID:   o.ID,
		ToStatus:  StatusPending,
		ActorType: "customer",
		ActorID:   &cmd.CustomerID,
		CreatedAt: now,
	})
	return o.ID, nil
}

// Finish completes a delivery. Repeating it for an already finished order
// only retries the route cleanup.
func (s *Service) Finish(ctx context.Context, cmd FinishCommand) error {
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if o.DriverID == nil || *o.DriverID != cmd.DriverID {
		return ErrForbidden
	}
	if o.Status == StatusFinished {
		return s.cleanupRoute(ctx, cmd.DriverID, o.ID)
	}
	if !CanTransition(o.Status, StatusFinished) {
		return ErrInvalidState
	}
	if o.Dropoff == nil {
		return ErrBadRequest
	}

	dist := location.DistanceKm(cmd.Position, *o.Dropoff)
	if dist > MaxFinishDistanceKm {
		return fmt.Errorf("%w: %.0fm, allowed %.0fm", ErrTooFar, dist*1000, MaxFinishDistanceKm*1000)
	}

	now := s.clock.Now()
	c := Completion{
		DropoffTime: now,
		OnTime:      IsOnTime(o.ExpectedDeliveryAt, now),
		Proof: &ProofOfDelivery{
			PhotoURL:       cmd.PhotoURL,
			DriverLocation: cmd.Position,
			CapturedAt:     now,
			DistanceKm:     math.Round(dist*1e4) / 1e4,
		},
	}
	ok, err := s.repo.Finish(ctx, o.ID, c, o.StatusVersion)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	actor := strconv.FormatInt(cmd.DriverID, 10)
	_ = s.repo.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusFinished,
		ActorType:  "driver",
		ActorID:    &actor,
		CreatedAt:  now,
	})
	return s.cleanupRoute(ctx, cmd.DriverID, o.ID)
}

func (s *Service) cleanupRoute(ctx context.Context, driverID, orderID int64) error {
	if s.routes == nil {
		return nil
	}
	if err := s.routes.RemoveOrder(ctx, driverID, orderID); err != nil {
		log.Printf("order: route cleanup failed order=%d driver=%d err=%v", orderID, driverID, err)
		return fmt.Errorf("remove order %d from driver %d route: %w", orderID, driverID, err)
	}
	return nil
}

// IsOnTime reports whether a delivery at now meets expected plus the grace
// period. Orders without an expectation are on time.
func IsOnTime(expected *time.Time, now time.Time) bool {
	if expected == nil {
		return true
	}
	return !now.After(expected.Add(OnTimeGrace))
}
