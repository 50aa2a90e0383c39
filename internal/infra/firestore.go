// README: Firestore helpers shared by the legacy document stores.
package infra

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NextSequence increments counters/{name}.count in a transaction and returns
// the new value, starting at 1.
func NextSequence(ctx context.Context, client *firestore.Client, name string) (int64, error) {
	ref := client.Collection("counters").Doc(name)
	var next int64
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			next = 1
		case err != nil:
			return err
		default:
			v, err := snap.DataAt("count")
			if err != nil {
				return err
			}
			n, _ := v.(int64)
			next = n + 1
		}
		return tx.Set(ref, map[string]interface{}{"count": next})
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
