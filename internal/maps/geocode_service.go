// README: Google Maps geocoding wrapper; resolves addresses to coordinates.
package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"dispatch/internal/types"
)

var ErrNoResults = errors.New("geocode: no results")

type GeocodeService struct {
	client  *maps.Client
	limiter *rate.Limiter
	timeout time.Duration
}

func NewGeocodeService(apiKey string, qps int, timeout time.Duration) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodeService{client: client, limiter: newLimiter(qps), timeout: timeout}, nil
}

// Geocode returns the location of the first result for address.
func (s *GeocodeService) Geocode(ctx context.Context, address string) (types.Point, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return types.Point{}, fmt.Errorf("geocode rate limit: %w", err)
	}
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return types.Point{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, fmt.Errorf("%w for %q", ErrNoResults, address)
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
