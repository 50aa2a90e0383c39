// README: Driver store over the legacy Firestore document layout.
package driver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dispatch/internal/infra"
	"dispatch/internal/modules/route"
	"dispatch/internal/types"
)

// driverDoc mirrors documents in the "drivers" collection. available_weight
// carries a leading max-weight entry and expected_time holds epoch millis.
type driverDoc struct {
	Name            string    `firestore:"name"`
	DeviceToken     string    `firestore:"device_token"`
	CurrentLat      float64   `firestore:"current_lat"`
	CurrentLng      float64   `firestore:"current_lng"`
	MaxWeight       float64   `firestore:"max_weight"`
	WorkingTime     string    `firestore:"working_time"`
	AvgRating       float64   `firestore:"avg_rating"`
	ExpectedRoute   []string  `firestore:"expected_route"`
	AvailableWeight []float64 `firestore:"available_weight"`
	ExpectedTime    []float64 `firestore:"expected_time"`
	RouteVersion    int       `firestore:"route_version"`
}

type ratingDoc struct {
	OrderID    int64     `firestore:"order_id"`
	CustomerID any       `firestore:"customer_id"`
	DriverID   int64     `firestore:"driver_id"`
	Score      float64   `firestore:"score"`
	Comment    string    `firestore:"comment"`
	CreateTime time.Time `firestore:"create_time"`
}

type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) ref(id int64) *firestore.DocumentRef {
	return s.client.Collection("drivers").Doc(strconv.FormatInt(id, 10))
}

func (s *FirestoreStore) List(ctx context.Context) ([]Driver, error) {
	snaps, err := s.client.Collection("drivers").Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]Driver, 0, len(snaps))
	for _, snap := range snaps {
		d, err := decodeDriver(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FirestoreStore) Get(ctx context.Context, id int64) (*Driver, error) {
	snap, err := s.ref(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDriver(snap)
}

func decodeDriver(snap *firestore.DocumentSnapshot) (*Driver, error) {
	id, err := strconv.ParseInt(snap.Ref.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("driver doc id %q: %w", snap.Ref.ID, err)
	}
	var doc driverDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode driver %d: %w", id, err)
	}
	d := Driver{
		ID:           id,
		Name:         doc.Name,
		DeviceToken:  doc.DeviceToken,
		Location:     types.Point{Lat: doc.CurrentLat, Lng: doc.CurrentLng},
		MaxWeight:    doc.MaxWeight,
		AvgRating:    doc.AvgRating,
		RouteVersion: doc.RouteVersion,
		UpdatedAt:    snap.UpdateTime,
	}
	if doc.WorkingTime != "" {
		if sh, err := ParseShift(doc.WorkingTime); err == nil {
			d.Shift = sh
		}
	}
	if d.Route, err = decodeLegacyRoute(doc.ExpectedRoute, doc.AvailableWeight, doc.ExpectedTime); err != nil {
		return nil, fmt.Errorf("driver %d: %w", id, err)
	}
	v := d.WithDefaults()
	return &v, nil
}

// decodeLegacyRoute drops "" placeholders together with their trace entries
// and strips the leading max-weight entry when present.
func decodeLegacyRoute(tokens []string, weights, millis []float64) (route.Route, error) {
	if len(weights) == len(tokens)+1 {
		weights = weights[1:]
	}
	var r route.Route
	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		n, err := route.ParseNode(tok)
		if err != nil {
			return route.Route{}, err
		}
		r.Nodes = append(r.Nodes, n)
		if i < len(weights) {
			r.CapacityTrace = append(r.CapacityTrace, weights[i])
		}
		if i < len(millis) {
			r.TimeTrace = append(r.TimeTrace, time.UnixMilli(int64(millis[i])))
		}
	}
	return r, nil
}

func encodeMillis(times []time.Time) []int64 {
	out := make([]int64, len(times))
	for i, t := range times {
		out[i] = t.UnixMilli()
	}
	return out
}

func (s *FirestoreStore) casUpdate(ctx context.Context, id int64, expectedVersion int, build func(doc driverDoc) []firestore.Update) (bool, error) {
	ok := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ok = false
		snap, err := tx.Get(s.ref(id))
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var doc driverDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.RouteVersion != expectedVersion {
			return nil
		}
		updates := append(build(doc), firestore.Update{Path: "route_version", Value: expectedVersion + 1})
		ok = true
		return tx.Update(snap.Ref, updates)
	})
	return ok && err == nil, err
}

func (s *FirestoreStore) UpdateRoute(ctx context.Context, id int64, r route.Route, expectedVersion int) (bool, error) {
	return s.casUpdate(ctx, id, expectedVersion, func(doc driverDoc) []firestore.Update {
		maxWeight := doc.MaxWeight
		if maxWeight <= 0 {
			maxWeight = DefaultMaxWeight
		}
		return []firestore.Update{
			{Path: "expected_route", Value: route.EncodeNodes(r.Nodes)},
			{Path: "available_weight", Value: append([]float64{maxWeight}, r.CapacityTrace...)},
			{Path: "expected_time", Value: encodeMillis(r.TimeTrace)},
		}
	})
}

func (s *FirestoreStore) UpdateTimeTrace(ctx context.Context, id int64, times []time.Time, expectedVersion int) (bool, error) {
	return s.casUpdate(ctx, id, expectedVersion, func(driverDoc) []firestore.Update {
		return []firestore.Update{{Path: "expected_time", Value: encodeMillis(times)}}
	})
}

func (s *FirestoreStore) update(ctx context.Context, id int64, updates []firestore.Update) error {
	_, err := s.ref(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (s *FirestoreStore) UpdateAvgRating(ctx context.Context, id int64, avg float64) error {
	return s.update(ctx, id, []firestore.Update{{Path: "avg_rating", Value: avg}})
}

func (s *FirestoreStore) UpdateLocation(ctx context.Context, id int64, p types.Point) error {
	return s.update(ctx, id, []firestore.Update{
		{Path: "current_lat", Value: p.Lat},
		{Path: "current_lng", Value: p.Lng},
	})
}

func (s *FirestoreStore) ratings(driverID int64) *firestore.CollectionRef {
	return s.ref(driverID).Collection("ratings")
}

func (s *FirestoreStore) ListRatings(ctx context.Context, driverID int64) ([]Rating, error) {
	snaps, err := s.ratings(driverID).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]Rating, 0, len(snaps))
	for _, snap := range snaps {
		var doc ratingDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode rating %s: %w", snap.Ref.ID, err)
		}
		id, _ := strconv.ParseInt(snap.Ref.ID, 10, 64)
		out = append(out, Rating{
			ID:         id,
			DriverID:   driverID,
			OrderID:    doc.OrderID,
			CustomerID: customerIDString(doc.CustomerID),
			Score:      doc.Score,
			Comment:    doc.Comment,
			CreatedAt:  doc.CreateTime,
		})
	}
	return out, nil
}

func customerIDString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func (s *FirestoreStore) HasRating(ctx context.Context, driverID, orderID int64) (bool, error) {
	snaps, err := s.ratings(driverID).Where("order_id", "==", orderID).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return false, err
	}
	return len(snaps) > 0, nil
}

// CreateRating allocates an id from the "rating_id" counter. The duplicate
// check is not transactional with the insert; SubmitRating runs under the
// driver lock.
func (s *FirestoreStore) CreateRating(ctx context.Context, r *Rating) error {
	id, err := infra.NextSequence(ctx, s.client, "rating_id")
	if err != nil {
		return err
	}
	r.ID = id
	_, err = s.ratings(r.DriverID).Doc(strconv.FormatInt(id, 10)).Set(ctx, ratingDoc{
		OrderID:    r.OrderID,
		CustomerID: r.CustomerID,
		DriverID:   r.DriverID,
		Score:      r.Score,
		Comment:    r.Comment,
		CreateTime: r.CreatedAt,
	})
	return err
}
