package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/orchestrator"
	"github.com/example/fleet-dispatch/internal/rebalance"
	"github.com/example/fleet-dispatch/internal/store"
)

type recordingAssigner struct {
	mu    sync.Mutex
	calls []string
}

func (f *recordingAssigner) Assign(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return nil
}

func (f *recordingAssigner) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type staticRebalancer struct {
	res   rebalance.Result
	apply []bool
}

func (f *staticRebalancer) Run(ctx context.Context, autoApply bool) (rebalance.Result, error) {
	f.apply = append(f.apply, autoApply)
	return f.res, nil
}

func newTestServer(st store.Store, asg orchestrator.Assigner, rb orchestrator.Rebalancer) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := &orchestrator.Orchestrator{Assigner: asg, Rebalancer: rb, Logger: logger}
	return NewServer(st, orch, nil, notify.NewWSRegistry(), logger)
}

func TestCreateBooking(t *testing.T) {
	m := store.NewMemoryStore()
	asg := &recordingAssigner{}
	srv := newTestServer(m, asg, &staticRebalancer{})

	body := `{"rider_id":"r1","phone":"+15550001234","pickup":{"lat":34.05,"lon":-118.24}}`
	req := httptest.NewRequest("POST", "/api/v1/bookings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["id"] == "" || resp["status"] != models.BookingPending {
		t.Fatalf("response = %v", resp)
	}
	b, err := m.GetBooking(context.Background(), resp["id"])
	if err != nil {
		t.Fatalf("booking not persisted: %v", err)
	}
	if b.Status != models.BookingPending || b.CreatedAt.IsZero() {
		t.Fatalf("booking = %+v", b)
	}

	deadline := time.After(2 * time.Second)
	for len(asg.called()) == 0 {
		select {
		case <-deadline:
			t.Fatal("assignment trigger never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCreateBookingRejectsMissingPickup(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore(), &recordingAssigner{}, &staticRebalancer{})
	req := httptest.NewRequest("POST", "/api/v1/bookings", strings.NewReader(`{"rider_id":"r1"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetBookingNotFound(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore(), &recordingAssigner{}, &staticRebalancer{})
	req := httptest.NewRequest("GET", "/api/v1/bookings/ghost", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRebalanceEndpointForwardsApplyFlag(t *testing.T) {
	rb := &staticRebalancer{res: rebalance.Result{Applied: 2}}
	srv := newTestServer(store.NewMemoryStore(), &recordingAssigner{}, rb)

	req := httptest.NewRequest("POST", "/api/v1/rebalance?apply=true", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res rebalance.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Applied != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(rb.apply) != 1 || !rb.apply[0] {
		t.Fatalf("apply flags = %v", rb.apply)
	}
}

func TestVehicleLocationUpsertPreservesDispatchState(t *testing.T) {
	m := store.NewMemoryStore()
	_ = m.PutVehicle(context.Background(), &models.Vehicle{
		ID:         "v1",
		Status:     models.VehicleIdle,
		Passengers: []string{"b1"},
		Target:     &models.Target{Reason: "demand"},
	})
	srv := newTestServer(m, &recordingAssigner{}, &staticRebalancer{})

	body := `{"id":"v1","loc":{"lat":34.0,"lon":-118.0},"push_token":"tok"}`
	req := httptest.NewRequest("POST", "/internal/vehicle/locations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	v, _ := m.GetVehicle(context.Background(), "v1")
	if v.Loc == nil || v.Loc.Lat != 34.0 || v.PushToken != "tok" {
		t.Fatalf("vehicle not updated: %+v", v)
	}
	if len(v.Passengers) != 1 || v.Target == nil {
		t.Fatalf("dispatch state clobbered: %+v", v)
	}
}

// midUpsertAssignStore commits an assignment-style passenger append the
// first time the location upsert touches the vehicle, whether that
// happens through a direct read or inside the upsert's transaction.
type midUpsertAssignStore struct {
	store.Store
	once sync.Once
}

func (s *midUpsertAssignStore) interpose(ctx context.Context, id string) {
	s.once.Do(func() {
		_ = s.Store.Transact(ctx, func(tx store.Tx) error {
			v, err := tx.GetVehicle(id)
			if err != nil {
				return err
			}
			v.Passengers = append(v.Passengers, "b-race")
			tx.PutVehicle(v)
			return nil
		}, store.VehicleKey(id))
	})
}

func (s *midUpsertAssignStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	v, err := s.Store.GetVehicle(ctx, id)
	if err != nil {
		return nil, err
	}
	s.interpose(ctx, id)
	return v, nil
}

func (s *midUpsertAssignStore) Transact(ctx context.Context, fn func(tx store.Tx) error, keys ...store.Key) error {
	for _, k := range keys {
		s.interpose(ctx, k.ID)
	}
	return s.Store.Transact(ctx, fn, keys...)
}

func TestVehicleLocationUpsertSurvivesConcurrentAssignment(t *testing.T) {
	m := store.NewMemoryStore()
	_ = m.PutVehicle(context.Background(), &models.Vehicle{ID: "v1", Status: models.VehicleIdle})
	srv := newTestServer(&midUpsertAssignStore{Store: m}, &recordingAssigner{}, &staticRebalancer{})

	body := `{"id":"v1","loc":{"lat":34.0,"lon":-118.0}}`
	req := httptest.NewRequest("POST", "/internal/vehicle/locations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	v, err := m.GetVehicle(context.Background(), "v1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Loc == nil || v.Loc.Lat != 34.0 {
		t.Fatalf("location not updated: %+v", v)
	}
	if len(v.Passengers) != 1 || v.Passengers[0] != "b-race" {
		t.Fatalf("concurrent assignment erased by upsert: %+v", v)
	}
}

func TestVehicleLocationRequiresID(t *testing.T) {
	srv := newTestServer(store.NewMemoryStore(), &recordingAssigner{}, &staticRebalancer{})
	req := httptest.NewRequest("POST", "/internal/vehicle/locations", strings.NewReader(`{"loc":{"lat":1,"lon":1}}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
