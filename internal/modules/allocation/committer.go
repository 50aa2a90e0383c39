// README: Committers that write a route and an order assignment as one unit.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/order"
)

// PostgresCommitter runs both compare-and-set writes in one transaction.
type PostgresCommitter struct {
	pool    *pgxpool.Pool
	drivers *driver.Store
	orders  *order.Store
}

func NewPostgresCommitter(pool *pgxpool.Pool, drivers *driver.Store, orders *order.Store) *PostgresCommitter {
	return &PostgresCommitter{pool: pool, drivers: drivers, orders: orders}
}

func (c *PostgresCommitter) Commit(ctx context.Context, cm Commit) error {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin allocation tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ok, err := c.drivers.WithTx(tx).UpdateRoute(ctx, cm.DriverID, cm.Route, cm.RouteVersion)
	if err != nil {
		return fmt.Errorf("update route driver=%d: %w", cm.DriverID, err)
	}
	if !ok {
		return ErrConflict
	}
	ok, err = c.orders.WithTx(tx).Assign(ctx, cm.OrderID, cm.Assignment, cm.OrderVersion)
	if err != nil {
		return fmt.Errorf("assign order=%d: %w", cm.OrderID, err)
	}
	if !ok {
		return ErrConflict
	}
	return tx.Commit(ctx)
}

// CompensatingCommitter is used where no shared transaction exists. The
// route is written first; if the order write then fails the previous route
// is put back.
type CompensatingCommitter struct {
	drivers driver.Repository
	orders  order.Repository
}

func NewCompensatingCommitter(drivers driver.Repository, orders order.Repository) *CompensatingCommitter {
	return &CompensatingCommitter{drivers: drivers, orders: orders}
}

func (c *CompensatingCommitter) Commit(ctx context.Context, cm Commit) error {
	ok, err := c.drivers.UpdateRoute(ctx, cm.DriverID, cm.Route, cm.RouteVersion)
	if err != nil {
		return fmt.Errorf("update route driver=%d: %w", cm.DriverID, err)
	}
	if !ok {
		return ErrConflict
	}

	ok, assignErr := c.orders.Assign(ctx, cm.OrderID, cm.Assignment, cm.OrderVersion)
	if assignErr == nil && ok {
		return nil
	}
	cause := assignErr
	if cause == nil {
		cause = ErrConflict
	}

	// The route write bumped the version once.
	rctx := context.WithoutCancel(ctx)
	restored, err := c.drivers.UpdateRoute(rctx, cm.DriverID, cm.Previous, cm.RouteVersion+1)
	if err != nil || !restored {
		log.Printf("allocation: INCONSISTENT order=%d driver=%d assign_err=%v restore_ok=%v restore_err=%v",
			cm.OrderID, cm.DriverID, cause, restored, err)
		return fmt.Errorf("%w: order %d driver %d: %v", ErrInconsistent, cm.OrderID, cm.DriverID, cause)
	}
	log.Printf("allocation: compensated route driver=%d order=%d cause=%v", cm.DriverID, cm.OrderID, cause)
	if errors.Is(cause, ErrConflict) {
		return ErrConflict
	}
	return fmt.Errorf("assign order=%d: %w", cm.OrderID, cause)
}
