// README: Travel-time oracle; cached external durations with a failure penalty.
package traveltime

import (
	"context"
	"log"

	"golang.org/x/sync/singleflight"

	"dispatch/internal/metrics"
	"dispatch/internal/types"
)

type Oracle struct {
	provider Provider
	cache    Cache
	clock    types.Clock
	group    singleflight.Group
}

func NewOracle(provider Provider, cache Cache, clock types.Clock) *Oracle {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Oracle{provider: provider, cache: cache, clock: clock}
}

// TravelTime returns the driving time in seconds between two coordinates.
func (o *Oracle) TravelTime(ctx context.Context, origin, destination types.Point) int {
	return o.TravelTimeBetween(ctx, origin.String(), destination.String())
}

// TravelTimeBetween accepts pre-formatted "lat,lng" strings. It never fails:
// a provider error or the caller's cancellation yields Penalty, which is not
// cached.
func (o *Oracle) TravelTimeBetween(ctx context.Context, origin, destination string) int {
	key := Key(origin, destination)

	if e, ok, err := o.cache.Get(ctx, key); err != nil {
		log.Printf("traveltime: cache get key=%s err=%v", key, err)
	} else if ok && e.Fresh(o.clock.Now()) {
		metrics.TravelTimeLookups.WithLabelValues("hit").Inc()
		return e.Seconds
	}

	// The shared lookup must not inherit one caller's cancellation; the
	// provider's own timeout bounds it.
	lookupCtx := context.WithoutCancel(ctx)
	ch := o.group.DoChan(key, func() (any, error) {
		metrics.TravelTimeLookups.WithLabelValues("miss").Inc()
		secs, err := o.provider.Duration(lookupCtx, origin, destination)
		if err != nil {
			metrics.TravelTimeLookups.WithLabelValues("penalty").Inc()
			log.Printf("traveltime: lookup failed key=%s err=%v", key, err)
			return Penalty, nil
		}
		if err := o.cache.Set(lookupCtx, key, Entry{Seconds: secs, FetchedAt: o.clock.Now()}); err != nil {
			log.Printf("traveltime: cache set key=%s err=%v", key, err)
		}
		return secs, nil
	})
	select {
	case res := <-ch:
		return res.Val.(int)
	case <-ctx.Done():
		return Penalty
	}
}
