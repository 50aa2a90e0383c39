// README: Handler tests through the full router with stubbed services.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/modules/allocation"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/eta"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/route"
	"dispatch/internal/modules/scheduler"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

type stubOrders struct {
	orders    map[int64]*order.Order
	finishErr error
	finished  []order.FinishCommand
	created   []order.CreateCommand
}

func (s *stubOrders) Create(_ context.Context, cmd order.CreateCommand) (int64, error) {
	if cmd.PickupAddress == "" {
		return 0, order.ErrBadRequest
	}
	s.created = append(s.created, cmd)
	return 41, nil
}

func (s *stubOrders) Get(_ context.Context, id int64) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (s *stubOrders) Finish(_ context.Context, cmd order.FinishCommand) error {
	s.finished = append(s.finished, cmd)
	return s.finishErr
}

type stubAllocator struct {
	calls chan allocation.Request
}

func (s *stubAllocator) Allocate(_ context.Context, req allocation.Request) (allocation.Result, error) {
	s.calls <- req
	return allocation.Result{OrderID: req.OrderID, Status: allocation.StatusAssigned, DriverID: 7, Cost: 300000}, nil
}

type stubETA struct{}

func (stubETA) EstimatedDelivery(_ context.Context, id int64) (eta.Estimate, error) {
	return eta.Estimate{OrderID: id, Reason: eta.ReasonPendingDriver}, nil
}

type stubDrivers struct {
	arrived []route.Node
	ratings []driver.SubmitRatingCommand
}

func (s *stubDrivers) ArriveNode(_ context.Context, _ int64, n route.Node) error {
	s.arrived = append(s.arrived, n)
	return nil
}

func (s *stubDrivers) SubmitRating(_ context.Context, cmd driver.SubmitRatingCommand) (int64, error) {
	s.ratings = append(s.ratings, cmd)
	return 1, nil
}

type stubPositions struct{ updates []location.Update }

func (s *stubPositions) Update(_ context.Context, u location.Update) error {
	s.updates = append(s.updates, u)
	return nil
}

type stubJobs struct{ ran []string }

func (s *stubJobs) RunNow(_ context.Context, name string) error {
	if name != scheduler.TaskRetrySweep {
		return fmt.Errorf("%w: %s", scheduler.ErrUnknownTask, name)
	}
	s.ran = append(s.ran, name)
	return nil
}

func (s *stubJobs) Names() []string { return []string{scheduler.TaskRetrySweep} }

type env struct {
	orders    *stubOrders
	allocator *stubAllocator
	drivers   *stubDrivers
	positions *stubPositions
	jobs      *stubJobs
}

func newEnv() *env {
	driverID := int64(7)
	return &env{
		orders: &stubOrders{orders: map[int64]*order.Order{
			5: {ID: 5, CustomerID: "cust1", Status: order.StatusInProgress, DriverID: &driverID},
			6: {ID: 6, CustomerID: "cust1", Status: order.StatusFinished, DriverID: &driverID},
		}},
		allocator: &stubAllocator{calls: make(chan allocation.Request, 4)},
		drivers:   &stubDrivers{},
		positions: &stubPositions{},
		jobs:      &stubJobs{},
	}
}

func (e *env) router(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:  verifier,
		Orders:    e.orders,
		Allocator: e.allocator,
		ETA:       stubETA{},
		Drivers:   e.drivers,
		Location:  e.positions,
		Jobs:      e.jobs,
	})
}

func doRequest(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreate_Unauthenticated(t *testing.T) {
	e := newEnv()
	w := doRequest(e.router(&stubTokenVerifier{err: errors.New("no token")}), http.MethodPost, "/api/orders", map[string]any{
		"pickup_address": "Shop",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestCreate_StartsAllocation(t *testing.T) {
	e := newEnv()
	w := doRequest(e.router(makeVerifier("cust1", "")), http.MethodPost, "/api/orders", map[string]any{
		"pickup_address":  "Shop",
		"dropoff_address": "Home",
		"weight":          3,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(e.orders.created) != 1 || e.orders.created[0].CustomerID != "cust1" {
		t.Fatalf("created = %+v", e.orders.created)
	}
	select {
	case req := <-e.allocator.calls:
		if req.OrderID != 41 {
			t.Fatalf("allocated order %d", req.OrderID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("allocation was not triggered")
	}
}

func TestCreate_BadRequest(t *testing.T) {
	e := newEnv()
	w := doRequest(e.router(makeVerifier("cust1", "")), http.MethodPost, "/api/orders", map[string]any{"weight": 3})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAllocate_RequiresAdmin(t *testing.T) {
	e := newEnv()
	if w := doRequest(e.router(makeVerifier("7", "driver")), http.MethodPost, "/api/orders/5/allocate", nil); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	w := doRequest(e.router(makeVerifier("ops", "admin")), http.MethodPost, "/api/orders/5/allocate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res allocation.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || res.DriverID != 7 {
		t.Fatalf("result = %s", w.Body.String())
	}
}

func TestFinish_Authorization(t *testing.T) {
	e := newEnv()
	body := map[string]any{"lat": 22.28, "lng": 114.15}

	if w := doRequest(e.router(makeVerifier("cust1", "")), http.MethodPost, "/api/orders/5/finish", body); w.Code != http.StatusForbidden {
		t.Errorf("customer: expected 403, got %d", w.Code)
	}
	if w := doRequest(e.router(makeVerifier("7", "driver")), http.MethodPost, "/api/orders/5/finish", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing position: expected 400, got %d", w.Code)
	}
	w := doRequest(e.router(makeVerifier("7", "driver")), http.MethodPost, "/api/orders/5/finish", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(e.orders.finished) != 1 || e.orders.finished[0].DriverID != 7 {
		t.Fatalf("finish = %+v", e.orders.finished)
	}
}

func TestFinish_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: 900m", order.ErrTooFar), http.StatusUnprocessableEntity},
		{order.ErrForbidden, http.StatusForbidden},
		{order.ErrConflict, http.StatusConflict},
		{order.ErrNotFound, http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e := newEnv()
		e.orders.finishErr = tc.err
		w := doRequest(e.router(makeVerifier("7", "driver")), http.MethodPost, "/api/orders/5/finish", map[string]any{"lat": 1.0, "lng": 2.0})
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestETA_Visibility(t *testing.T) {
	e := newEnv()
	if w := doRequest(e.router(makeVerifier("cust2", "")), http.MethodGet, "/api/orders/5/eta", nil); w.Code != http.StatusForbidden {
		t.Errorf("other customer: expected 403, got %d", w.Code)
	}
	for _, v := range []*stubTokenVerifier{makeVerifier("cust1", ""), makeVerifier("7", "driver"), makeVerifier("ops", "admin")} {
		if w := doRequest(e.router(v), http.MethodGet, "/api/orders/5/eta", nil); w.Code != http.StatusOK {
			t.Errorf("uid %s: expected 200, got %d", v.token.UID, w.Code)
		}
	}
	if w := doRequest(e.router(makeVerifier("cust1", "")), http.MethodGet, "/api/orders/abc/eta", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", w.Code)
	}
}

func TestLocationUpdate_OwnDriverOnly(t *testing.T) {
	e := newEnv()
	body := map[string]any{"lat": 22.3, "lng": 114.1}
	if w := doRequest(e.router(makeVerifier("8", "driver")), http.MethodPut, "/api/drivers/7/location", body); w.Code != http.StatusForbidden {
		t.Errorf("other driver: expected 403, got %d", w.Code)
	}
	if w := doRequest(e.router(makeVerifier("7", "driver")), http.MethodPut, "/api/drivers/7/location", body); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if len(e.positions.updates) != 1 || e.positions.updates[0].DriverID != 7 {
		t.Fatalf("updates = %+v", e.positions.updates)
	}
}

func TestArrive(t *testing.T) {
	e := newEnv()
	r := e.router(makeVerifier("7", "driver"))
	if w := doRequest(r, http.MethodPost, "/api/drivers/7/arrive", map[string]any{"node": "X5"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad token: expected 400, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/drivers/7/arrive", map[string]any{"node": "P5"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(e.drivers.arrived) != 1 || e.drivers.arrived[0] != route.PickupOf(5) {
		t.Fatalf("arrived = %v", e.drivers.arrived)
	}
}

func TestRate(t *testing.T) {
	e := newEnv()
	body := func(orderID int64) map[string]any {
		return map[string]any{"order_id": orderID, "score": 5, "comment": "fast"}
	}
	if w := doRequest(e.router(makeVerifier("cust2", "")), http.MethodPost, "/api/drivers/7/ratings", body(6)); w.Code != http.StatusForbidden {
		t.Errorf("other customer: expected 403, got %d", w.Code)
	}
	if w := doRequest(e.router(makeVerifier("cust1", "")), http.MethodPost, "/api/drivers/7/ratings", body(5)); w.Code != http.StatusConflict {
		t.Errorf("unfinished order: expected 409, got %d", w.Code)
	}
	if w := doRequest(e.router(makeVerifier("cust1", "")), http.MethodPost, "/api/drivers/8/ratings", body(6)); w.Code != http.StatusConflict {
		t.Errorf("wrong driver: expected 409, got %d", w.Code)
	}
	if w := doRequest(e.router(makeVerifier("cust1", "")), http.MethodPost, "/api/drivers/7/ratings", body(6)); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if len(e.drivers.ratings) != 1 || e.drivers.ratings[0].CustomerID != "cust1" {
		t.Fatalf("ratings = %+v", e.drivers.ratings)
	}
}

func TestRunJob(t *testing.T) {
	e := newEnv()
	r := e.router(makeVerifier("ops", "admin"))
	if w := doRequest(r, http.MethodPost, "/api/admin/jobs/nope/run", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown job: expected 404, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/admin/jobs/retry-sweep/run", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(e.jobs.ran) != 1 {
		t.Fatalf("ran = %v", e.jobs.ran)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv()
	r := e.router(makeVerifier("x", ""))
	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
	}
}
