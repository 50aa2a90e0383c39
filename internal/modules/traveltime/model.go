// README: Travel-time cache entries and collaborator contracts.
package traveltime

import (
	"context"
	"time"
)

const (
	// Penalty is returned when the duration service cannot answer. Any leg
	// priced with it pushes a candidate route outside every shift window.
	Penalty = 999999

	// TTL is how long a fetched duration stays valid.
	TTL = 24 * time.Hour
)

type Entry struct {
	Seconds   int       `json:"seconds"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fresh reports whether the entry is still usable at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < TTL
}

// Cache stores entries by "origin|destination" key.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
}

// Provider is the external duration service ("depart now" semantics).
type Provider interface {
	Duration(ctx context.Context, origin, destination string) (int, error)
}

func Key(origin, destination string) string {
	return origin + "|" + destination
}
