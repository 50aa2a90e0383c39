// README: Live driver positions kept in a Redis GEO set.
package location

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/types"
)

const driverGeoKey = "dispatch:drivers"

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) SetPosition(ctx context.Context, driverID int64, p types.Point) error {
	return s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      strconv.FormatInt(driverID, 10),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

// Positions returns the known positions of ids; unknown ids are absent.
func (s *Store) Positions(ctx context.Context, ids []int64) (map[int64]types.Point, error) {
	if len(ids) == 0 {
		return map[int64]types.Point{}, nil
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = strconv.FormatInt(id, 10)
	}
	res, err := s.redis.GeoPos(ctx, driverGeoKey, names...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]types.Point, len(ids))
	for i, pos := range res {
		if pos == nil {
			continue
		}
		out[ids[i]] = types.Point{Lat: pos.Latitude, Lng: pos.Longitude}
	}
	return out, nil
}
