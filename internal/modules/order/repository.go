// README: Order persistence contract shared by the Postgres, Firestore and memory stores.
package order

import "context"

// Repository persists orders. Status writes are compare-and-set on
// (status, status_version) and bump the version; false means the order moved.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	// ListPending returns pending orders sorted by id ascending.
	ListPending(ctx context.Context) ([]Order, error)
	ListByStatus(ctx context.Context, statuses []Status) ([]Order, error)
	Assign(ctx context.Context, id int64, a Assignment, expectedVersion int) (bool, error)
	Finish(ctx context.Context, id int64, c Completion, expectedVersion int) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
}
