// README: Order store backed by PostgreSQL.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/types"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db querier
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// WithTx returns a store whose statements run inside tx.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

const orderColumns = `
	id, customer_id, driver_id, status, status_version,
	pickup_address, dropoff_address, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	weight, created_at, pickup_time, expected_delivery_at, dropoff_time, on_time, proof`

func (s *Store) Create(ctx context.Context, o *Order) error {
	var plat, plng, dlat, dlng *float64
	if o.Pickup != nil {
		plat, plng = &o.Pickup.Lat, &o.Pickup.Lng
	}
	if o.Dropoff != nil {
		dlat, dlng = &o.Dropoff.Lat, &o.Dropoff.Lng
	}
	return s.db.QueryRow(ctx, `
		INSERT INTO orders (
			customer_id, driver_id, status, status_version,
			pickup_address, dropoff_address, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			weight, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12
		)
		RETURNING id`,
		o.CustomerID, o.DriverID, string(o.Status), o.StatusVersion,
		o.PickupAddress, o.DropoffAddress, plat, plng, dlat, dlng,
		o.Weight, o.CreatedAt,
	).Scan(&o.ID)
}

func (s *Store) Get(ctx context.Context, id int64) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *Store) ListPending(ctx context.Context) ([]Order, error) {
	return s.ListByStatus(ctx, []Status{StatusPending})
}

func (s *Store) ListByStatus(ctx context.Context, statuses []Status) ([]Order, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = ANY($1) ORDER BY id`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	var plat, plng, dlat, dlng *float64
	var proof []byte
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.DriverID, &status, &o.StatusVersion,
		&o.PickupAddress, &o.DropoffAddress, &plat, &plng, &dlat, &dlng,
		&o.Weight, &o.CreatedAt, &o.PickupTime, &o.ExpectedDeliveryAt, &o.DropoffTime, &o.OnTime, &proof,
	)
	if err != nil {
		return nil, err
	}
	st, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("order %d: unknown status %q", o.ID, status)
	}
	o.Status = st
	if plat != nil && plng != nil {
		o.Pickup = &types.Point{Lat: *plat, Lng: *plng}
	}
	if dlat != nil && dlng != nil {
		o.Dropoff = &types.Point{Lat: *dlat, Lng: *dlng}
	}
	if len(proof) > 0 {
		o.Proof = &ProofOfDelivery{}
		if err := json.Unmarshal(proof, o.Proof); err != nil {
			return nil, fmt.Errorf("order %d: decode proof: %w", o.ID, err)
		}
	}
	return &o, nil
}

func (s *Store) Assign(ctx context.Context, id int64, a Assignment, expectedVersion int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = 'in_progress',
		    status_version = status_version + 1,
		    driver_id = $1,
		    pickup_time = $2,
		    expected_delivery_at = $3,
		    pickup_lat = COALESCE($6, pickup_lat),
		    pickup_lng = COALESCE($7, pickup_lng),
		    dropoff_lat = COALESCE($8, dropoff_lat),
		    dropoff_lng = COALESCE($9, dropoff_lng)
		WHERE id = $4 AND status = 'pending' AND status_version = $5`,
		a.DriverID, a.PickupTime, a.ExpectedDeliveryAt, id, expectedVersion,
		latOf(a.Pickup), lngOf(a.Pickup), latOf(a.Dropoff), lngOf(a.Dropoff),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Finish(ctx context.Context, id int64, c Completion, expectedVersion int) (bool, error) {
	var proof []byte
	if c.Proof != nil {
		var err error
		if proof, err = json.Marshal(c.Proof); err != nil {
			return false, err
		}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = 'finished',
		    status_version = status_version + 1,
		    dropoff_time = $1,
		    on_time = $2,
		    proof = $3
		WHERE id = $4 AND status = 'in_progress' AND status_version = $5`,
		c.DropoffTime, c.OnTime, proof, id, expectedVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.OrderID,
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		e.ActorID,
		e.CreatedAt,
	)
	return err
}

func latOf(p *types.Point) *float64 {
	if p == nil {
		return nil
	}
	return &p.Lat
}

func lngOf(p *types.Point) *float64 {
	if p == nil {
		return nil
	}
	return &p.Lng
}
