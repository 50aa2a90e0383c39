// README: Driver store backed by PostgreSQL; route triple stored as parallel arrays.
package driver

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/modules/route"
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

const driverColumns = `
	id, name, device_token, lat, lng, max_weight, shift, avg_rating,
	route, capacity_trace, time_trace, route_version, updated_at`

func (s *Store) List(ctx context.Context) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id int64) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var shift string
	var tokens []string
	err := row.Scan(
		&d.ID, &d.Name, &d.DeviceToken, &d.Location.Lat, &d.Location.Lng,
		&d.MaxWeight, &shift, &d.AvgRating,
		&tokens, &d.Route.CapacityTrace, &d.Route.TimeTrace, &d.RouteVersion, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if d.Route.Nodes, err = route.ParseNodes(tokens); err != nil {
		return nil, err
	}
	if shift != "" {
		if d.Shift, err = ParseShift(shift); err != nil {
			log.Printf("driver: id=%d invalid shift %q, using default: %v", d.ID, shift, err)
			d.Shift = Shift{}
		}
	}
	v := d.WithDefaults()
	return &v, nil
}

func (s *Store) UpdateRoute(ctx context.Context, id int64, r route.Route, expectedVersion int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET route = $1,
		    capacity_trace = $2,
		    time_trace = $3,
		    route_version = route_version + 1,
		    updated_at = NOW()
		WHERE id = $4 AND route_version = $5`,
		route.EncodeNodes(r.Nodes),
		nonNilFloats(r.CapacityTrace),
		nonNilTimes(r.TimeTrace),
		id,
		expectedVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateTimeTrace(ctx context.Context, id int64, times []time.Time, expectedVersion int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET time_trace = $1,
		    route_version = route_version + 1,
		    updated_at = NOW()
		WHERE id = $2 AND route_version = $3`,
		nonNilTimes(times), id, expectedVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateAvgRating(ctx context.Context, id int64, avg float64) error {
	tag, err := s.db.Exec(ctx, `UPDATE drivers SET avg_rating = $1, updated_at = NOW() WHERE id = $2`, avg, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLocation(ctx context.Context, id int64, p types.Point) error {
	tag, err := s.db.Exec(ctx, `UPDATE drivers SET lat = $1, lng = $2, updated_at = NOW() WHERE id = $3`, p.Lat, p.Lng, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListRatings(ctx context.Context, driverID int64) ([]Rating, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, order_id, customer_id, score, comment, created_at
		FROM driver_ratings
		WHERE driver_id = $1
		ORDER BY id`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rating
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.ID, &r.DriverID, &r.OrderID, &r.CustomerID, &r.Score, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) HasRating(ctx context.Context, driverID, orderID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM driver_ratings WHERE driver_id = $1 AND order_id = $2
		)`, driverID, orderID).Scan(&exists)
	return exists, err
}

func (s *Store) CreateRating(ctx context.Context, r *Rating) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO driver_ratings (driver_id, order_id, customer_id, score, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		r.DriverID, r.OrderID, r.CustomerID, r.Score, r.Comment, r.CreatedAt,
	).Scan(&r.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyRated
	}
	return err
}

func nonNilFloats(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

func nonNilTimes(v []time.Time) []time.Time {
	if v == nil {
		return []time.Time{}
	}
	return v
}
