// README: Order store over the legacy Firestore document layout.
package order

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dispatch/internal/infra"
	"dispatch/internal/types"
)

type orderDoc struct {
	UserID               any                    `firestore:"user_id"`
	DriverID             *int64                 `firestore:"driver_id"`
	PickupLocation       string                 `firestore:"pickup_location"`
	DropoffLocation      string                 `firestore:"dropoff_location"`
	PickupCoordinate     *latlng.LatLng         `firestore:"pickup_coordinate"`
	DropoffCoordinate    *latlng.LatLng         `firestore:"dropoff_coordinate"`
	Status               string                 `firestore:"status"`
	StatusVersion        int                    `firestore:"status_version"`
	Weight               any                    `firestore:"weight"`
	Timestamp            time.Time              `firestore:"timestamp"`
	PickupTime           *time.Time             `firestore:"pickup_time"`
	DropoffTime          *time.Time             `firestore:"dropoff_time"`
	ExpectedDeliveryTime *time.Time             `firestore:"expected_delivery_time"`
	OnTime               *bool                  `firestore:"on_time"`
	ProofOfDelivery      map[string]interface{} `firestore:"proof_of_delivery"`
}

type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) ref(id int64) *firestore.DocumentRef {
	return s.client.Collection("orders").Doc(strconv.FormatInt(id, 10))
}

func (s *FirestoreStore) Create(ctx context.Context, o *Order) error {
	id, err := infra.NextSequence(ctx, s.client, "order_id")
	if err != nil {
		return fmt.Errorf("allocate order id: %w", err)
	}
	o.ID = id
	doc := orderDoc{
		UserID:          o.CustomerID,
		DriverID:        o.DriverID,
		PickupLocation:  o.PickupAddress,
		DropoffLocation: o.DropoffAddress,
		Status:          string(o.Status),
		StatusVersion:   o.StatusVersion,
		Weight:          o.Weight,
		Timestamp:       o.CreatedAt,
	}
	if o.Pickup != nil {
		doc.PickupCoordinate = toLatLng(*o.Pickup)
	}
	if o.Dropoff != nil {
		doc.DropoffCoordinate = toLatLng(*o.Dropoff)
	}
	_, err = s.ref(id).Set(ctx, doc)
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, id int64) (*Order, error) {
	snap, err := s.ref(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeOrder(snap)
}

func (s *FirestoreStore) ListPending(ctx context.Context) ([]Order, error) {
	return s.ListByStatus(ctx, []Status{StatusPending})
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, statuses []Status) ([]Order, error) {
	var raw []string
	for _, st := range statuses {
		raw = append(raw, string(st))
		if st == StatusInProgress {
			raw = append(raw, "assigned", "picking_up")
		}
	}
	snaps, err := s.client.Collection("orders").Where("status", "in", raw).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(snaps))
	for _, snap := range snaps {
		o, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func toLatLng(p types.Point) *latlng.LatLng {
	return &latlng.LatLng{Latitude: p.Lat, Longitude: p.Lng}
}

func decodeOrder(snap *firestore.DocumentSnapshot) (*Order, error) {
	id, err := strconv.ParseInt(snap.Ref.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("order doc id %q: %w", snap.Ref.ID, err)
	}
	var doc orderDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode order %d: %w", id, err)
	}
	st, ok := ParseStatus(doc.Status)
	if !ok {
		return nil, fmt.Errorf("order %d: unknown status %q", id, doc.Status)
	}
	o := &Order{
		ID:                 id,
		CustomerID:         anyString(doc.UserID),
		DriverID:           doc.DriverID,
		Status:             st,
		StatusVersion:      doc.StatusVersion,
		PickupAddress:      doc.PickupLocation,
		DropoffAddress:     doc.DropoffLocation,
		Weight:             anyFloat(doc.Weight),
		CreatedAt:          doc.Timestamp,
		PickupTime:         doc.PickupTime,
		ExpectedDeliveryAt: doc.ExpectedDeliveryTime,
		DropoffTime:        doc.DropoffTime,
		OnTime:             doc.OnTime,
		Proof:              decodeProof(doc.ProofOfDelivery),
	}
	if c := doc.PickupCoordinate; c != nil {
		o.Pickup = &types.Point{Lat: c.Latitude, Lng: c.Longitude}
	}
	if c := doc.DropoffCoordinate; c != nil {
		o.Dropoff = &types.Point{Lat: c.Latitude, Lng: c.Longitude}
	}
	return o, nil
}

func anyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// anyFloat accepts the numeric and string weights found in legacy documents.
func anyFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	}
	return 0
}

func decodeProof(m map[string]interface{}) *ProofOfDelivery {
	if m == nil {
		return nil
	}
	p := &ProofOfDelivery{}
	p.PhotoURL, _ = m["photo_url"].(string)
	p.DistanceKm = anyFloat(m["distance_offset_km"])
	if loc, ok := m["driver_location"].(map[string]interface{}); ok {
		p.DriverLocation = types.Point{Lat: anyFloat(loc["lat"]), Lng: anyFloat(loc["lng"])}
	}
	if s, ok := m["captured_at"].(string); ok {
		p.CapturedAt, _ = time.Parse(time.RFC3339, s)
	}
	return p
}

func encodeProof(p *ProofOfDelivery) map[string]interface{} {
	if p == nil {
		return nil
	}
	return map[string]interface{}{
		"photo_url":          p.PhotoURL,
		"driver_location":    map[string]interface{}{"lat": p.DriverLocation.Lat, "lng": p.DriverLocation.Lng},
		"captured_at":        p.CapturedAt.UTC().Format(time.RFC3339),
		"distance_offset_km": p.DistanceKm,
	}
}

// casUpdate applies updates when the stored order is in from at expectedVersion.
func (s *FirestoreStore) casUpdate(ctx context.Context, id int64, from Status, expectedVersion int, updates []firestore.Update) (bool, error) {
	ok := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ok = false
		snap, err := tx.Get(s.ref(id))
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		o, err := decodeOrder(snap)
		if err != nil {
			return err
		}
		if o.Status != from || o.StatusVersion != expectedVersion {
			return nil
		}
		ok = true
		return tx.Update(snap.Ref, append(updates, firestore.Update{Path: "status_version", Value: expectedVersion + 1}))
	})
	return ok && err == nil, err
}

func (s *FirestoreStore) Assign(ctx context.Context, id int64, a Assignment, expectedVersion int) (bool, error) {
	updates := []firestore.Update{
		{Path: "status", Value: string(StatusInProgress)},
		{Path: "driver_id", Value: a.DriverID},
		{Path: "pickup_time", Value: a.PickupTime},
		{Path: "expected_delivery_time", Value: a.ExpectedDeliveryAt},
	}
	if a.Pickup != nil {
		updates = append(updates, firestore.Update{Path: "pickup_coordinate", Value: toLatLng(*a.Pickup)})
	}
	if a.Dropoff != nil {
		updates = append(updates, firestore.Update{Path: "dropoff_coordinate", Value: toLatLng(*a.Dropoff)})
	}
	return s.casUpdate(ctx, id, StatusPending, expectedVersion, updates)
}

func (s *FirestoreStore) Finish(ctx context.Context, id int64, c Completion, expectedVersion int) (bool, error) {
	return s.casUpdate(ctx, id, StatusInProgress, expectedVersion, []firestore.Update{
		{Path: "status", Value: string(StatusFinished)},
		{Path: "dropoff_time", Value: c.DropoffTime},
		{Path: "on_time", Value: c.OnTime},
		{Path: "proof_of_delivery", Value: encodeProof(c.Proof)},
	})
}

func (s *FirestoreStore) AppendEvent(ctx context.Context, e *Event) error {
	_, _, err := s.client.Collection("order_events").Add(ctx, map[string]interface{}{
		"order_id":    e.OrderID,
		"from_status": string(e.FromStatus),
		"to_status":   string(e.ToStatus),
		"actor_type":  e.ActorType,
		"actor_id":    e.ActorID,
		"create_time": e.CreatedAt,
	})
	return err
}
