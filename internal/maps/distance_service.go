// README: Google Maps Distance Matrix wrapper used as the travel-time provider.
package maps

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"
)

// DistanceService returns driving durations that account for current traffic.
type DistanceService struct {
	client  *maps.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewDistanceService creates a DistanceService with the given API key.
// qps bounds outgoing requests; timeout bounds each request.
func NewDistanceService(apiKey string, qps int, timeout time.Duration) (*DistanceService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &DistanceService{client: client, limiter: newLimiter(qps), timeout: timeout}, nil
}

// Duration returns the driving time in whole seconds, departing now.
// origin and destination are "lat,lng" strings or addresses.
func (s *DistanceService) Duration(ctx context.Context, origin, destination string) (int, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("distance matrix rate limit: %w", err)
	}

	r := &maps.DistanceMatrixRequest{
		Origins:       []string{origin},
		Destinations:  []string{destination},
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
	}
	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("no distance matrix element for %s -> %s", origin, destination)
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("distance matrix element status %s", el.Status)
	}
	return int(el.Duration / time.Second), nil
}

func newLimiter(qps int) *rate.Limiter {
	if qps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(qps), qps)
}
