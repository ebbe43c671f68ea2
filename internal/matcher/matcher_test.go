package matcher

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/store"
)

type fakeNotifier struct {
	sent []notify.Notification
	fail bool
}

func (f *fakeNotifier) Send(ctx context.Context, n notify.Notification) error {
	f.sent = append(f.sent, n)
	if f.fail {
		return errors.New("delivery failed")
	}
	return nil
}

func seed(t *testing.T, m *store.MemoryStore, bookings []*models.Booking, vehicles []*models.Vehicle) {
	t.Helper()
	ctx := context.Background()
	for _, b := range bookings {
		if err := m.PutBooking(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	for _, v := range vehicles {
		if err := m.PutVehicle(ctx, v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAssignHappyPathAndIdempotent(t *testing.T) {
	m := store.NewMemoryStore()
	nf := &fakeNotifier{}
	seed(t, m,
		[]*models.Booking{{
			ID: "b1", Status: models.BookingPending, Phone: "+15551234567",
			Pickup: &models.Coord{Lat: 0, Lon: 0.01}, CreatedAt: time.Now(),
		}},
		[]*models.Vehicle{{
			ID: "v1", Status: models.VehicleIdle, Loc: &models.Coord{Lat: 0, Lon: 0}, PushToken: "tok",
		}},
	)
	s := &Service{Store: m, Notifier: nf}
	ctx := context.Background()
	if err := s.Assign(ctx, "b1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	b, _ := m.GetBooking(ctx, "b1")
	if b.Status != models.BookingAssigned || b.VehicleID != "v1" {
		t.Fatalf("booking not assigned: %+v", b)
	}
	if b.VerificationCode != "4567" {
		t.Fatalf("verification code = %q, want last four of phone", b.VerificationCode)
	}
	if b.AssignedAt.IsZero() {
		t.Fatal("assignment timestamp not set")
	}
	v, _ := m.GetVehicle(ctx, "v1")
	if len(v.Passengers) != 1 || v.Passengers[0] != "b1" {
		t.Fatalf("carried list = %v", v.Passengers)
	}
	if len(nf.sent) != 1 || nf.sent[0].Data["verification_code"] != "4567" {
		t.Fatalf("notification = %+v", nf.sent)
	}

	// second invocation is a benign no-op
	if err := s.Assign(ctx, "b1"); err != nil {
		t.Fatalf("re-assign errored: %v", err)
	}
	v, _ = m.GetVehicle(ctx, "v1")
	if len(v.Passengers) != 1 {
		t.Fatalf("double entry in carried list: %v", v.Passengers)
	}
}

func TestAssignSkipsFullVehicle(t *testing.T) {
	full := make([]string, models.MaxPassengers)
	for i := range full {
		full[i] = "x"
	}
	m := store.NewMemoryStore()
	seed(t, m,
		[]*models.Booking{{ID: "b1", Status: models.BookingPending, Pickup: &models.Coord{}}},
		[]*models.Vehicle{
			{ID: "near-full", Status: models.VehicleIdle, Loc: &models.Coord{Lat: 0, Lon: 0}, Passengers: full},
			{ID: "far-free", Status: models.VehicleIdle, Loc: &models.Coord{Lat: 1, Lon: 1}},
		},
	)
	s := &Service{Store: m}
	if err := s.Assign(context.Background(), "b1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	b, _ := m.GetBooking(context.Background(), "b1")
	if b.VehicleID != "far-free" {
		t.Fatalf("chose %q, full vehicle must never win", b.VehicleID)
	}
}

func TestAssignNearTieBrokenByFewerPassengers(t *testing.T) {
	// distance along a meridian is R*dLat, so these lats put the two
	// vehicles at ~10.0005 and ~10.0008 km from the pickup.
	latForKm := func(km float64) float64 { return km / 6371.0 * 180 / math.Pi }
	m := store.NewMemoryStore()
	seed(t, m,
		[]*models.Booking{{ID: "b1", Status: models.BookingPending, Pickup: &models.Coord{Lat: 0, Lon: 0}}},
		[]*models.Vehicle{
			{ID: "closer-busier", Status: models.VehicleIdle, Loc: &models.Coord{Lat: latForKm(10.0005)}, Passengers: []string{"p1", "p2", "p3"}},
			{ID: "farther-emptier", Status: models.VehicleIdle, Loc: &models.Coord{Lat: latForKm(10.0008)}, Passengers: []string{"p1"}},
		},
	)
	s := &Service{Store: m}
	if err := s.Assign(context.Background(), "b1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	b, _ := m.GetBooking(context.Background(), "b1")
	if b.VehicleID != "farther-emptier" {
		t.Fatalf("chose %q, near-tie must prefer fewer passengers", b.VehicleID)
	}
}

func TestAssignNoIdleVehiclesIsBenign(t *testing.T) {
	m := store.NewMemoryStore()
	seed(t, m,
		[]*models.Booking{{ID: "b1", Status: models.BookingPending, Pickup: &models.Coord{}}},
		nil,
	)
	s := &Service{Store: m}
	if err := s.Assign(context.Background(), "b1"); err != nil {
		t.Fatalf("expected benign no-op, got %v", err)
	}
	b, _ := m.GetBooking(context.Background(), "b1")
	if b.Status != models.BookingPending {
		t.Fatalf("status changed to %q", b.Status)
	}
}

func TestAssignMissingBooking(t *testing.T) {
	s := &Service{Store: store.NewMemoryStore()}
	if err := s.Assign(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignInvalidPickup(t *testing.T) {
	m := store.NewMemoryStore()
	seed(t, m,
		[]*models.Booking{
			{ID: "no-pickup", Status: models.BookingPending},
			{ID: "nan-pickup", Status: models.BookingPending, Pickup: &models.Coord{Lat: math.NaN()}},
		},
		[]*models.Vehicle{{ID: "v1", Status: models.VehicleIdle, Loc: &models.Coord{}}},
	)
	s := &Service{Store: m}
	for _, id := range []string{"no-pickup", "nan-pickup"} {
		if err := s.Assign(context.Background(), id); !errors.Is(err, ErrInvalidBooking) {
			t.Fatalf("%s: expected ErrInvalidBooking, got %v", id, err)
		}
	}
}

func TestAssignNotifyFailureDoesNotRollBack(t *testing.T) {
	m := store.NewMemoryStore()
	nf := &fakeNotifier{fail: true}
	seed(t, m,
		[]*models.Booking{{ID: "b1", Status: models.BookingPending, Pickup: &models.Coord{}}},
		[]*models.Vehicle{{ID: "v1", Status: models.VehicleIdle, Loc: &models.Coord{}, PushToken: "tok"}},
	)
	s := &Service{Store: m, Notifier: nf}
	if err := s.Assign(context.Background(), "b1"); err != nil {
		t.Fatalf("delivery failure leaked: %v", err)
	}
	b, _ := m.GetBooking(context.Background(), "b1")
	if b.Status != models.BookingAssigned {
		t.Fatalf("assignment rolled back: %+v", b)
	}
}

// barrierStore holds every IdleVehicles caller until all expected
// callers have taken their snapshot, forcing racing assignments to rank
// against the same fleet state.
type barrierStore struct {
	store.Store
	barrier *sync.WaitGroup
}

func (b *barrierStore) IdleVehicles(ctx context.Context) ([]models.Vehicle, error) {
	b.barrier.Done()
	b.barrier.Wait()
	return b.Store.IdleVehicles(ctx)
}

func TestAssignConcurrentRaceExactlyOneWins(t *testing.T) {
	m := store.NewMemoryStore()
	seed(t, m,
		[]*models.Booking{
			{ID: "b1", Status: models.BookingPending, Pickup: &models.Coord{}},
			{ID: "b2", Status: models.BookingPending, Pickup: &models.Coord{}},
		},
		[]*models.Vehicle{{ID: "v1", Status: models.VehicleIdle, Loc: &models.Coord{}}},
	)
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	s := &Service{Store: &barrierStore{Store: m, barrier: barrier}}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"b1", "b2"} {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Assign(context.Background(), id)
		}()
	}
	wg.Wait()

	ctx := context.Background()
	b1, _ := m.GetBooking(ctx, "b1")
	b2, _ := m.GetBooking(ctx, "b2")
	assigned, pending := 0, 0
	for _, b := range []*models.Booking{b1, b2} {
		switch b.Status {
		case models.BookingAssigned:
			assigned++
		case models.BookingPending:
			pending++
		}
	}
	if assigned != 1 || pending != 1 {
		t.Fatalf("want exactly one winner, got assigned=%d pending=%d", assigned, pending)
	}
	v, _ := m.GetVehicle(ctx, "v1")
	if len(v.Passengers) != 1 {
		t.Fatalf("carried list = %v, want single entry", v.Passengers)
	}
	conflicts := 0
	for _, err := range errs {
		if errors.Is(err, store.ErrConflict) {
			conflicts++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if conflicts != 1 {
		t.Fatalf("want one conflict outcome, got %d", conflicts)
	}
}

func TestVerificationCodeFallback(t *testing.T) {
	code := verificationCode("")
	if len(code) != 4 {
		t.Fatalf("fallback code %q, want 4 digits", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("fallback code %q not numeric", code)
		}
	}
	if got := verificationCode("12"); len(got) != 4 {
		t.Fatalf("short phone should fall back, got %q", got)
	}
}
