// Package matcher assigns pending bookings to the nearest eligible
// idle vehicle.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/example/fleet-dispatch/internal/geo"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/observability"
	"github.com/example/fleet-dispatch/internal/payments"
	"github.com/example/fleet-dispatch/internal/store"
)

// ErrInvalidBooking means the booking is missing a usable pickup point.
var ErrInvalidBooking = errors.New("matcher: invalid booking")

// nearTieKm is the distance delta under which two candidates count as
// equally far and the one carrying fewer passengers wins.
const nearTieKm = 0.001

type Service struct {
	Store    store.Store
	Notifier notify.Notifier
	Payments payments.Holder   // optional deposit holds
	Log      store.DispatchLog // optional audit log
	Logger   *slog.Logger

	DepositCents    int64
	DepositCurrency string
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Assign matches one pending booking to the nearest idle, non-full
// vehicle and commits the assignment atomically. Benign outcomes
// (already handled, no eligible vehicle) return nil; a concurrent state
// change surfaces as store.ErrConflict, which callers treat as
// retry-later, not failure.
func (s *Service) Assign(ctx context.Context, bookingID string) error {
	start := time.Now()
	defer func() { observability.AssignLatency.Observe(time.Since(start).Seconds()) }()

	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("load booking %s: %w", bookingID, err)
	}
	if b.Status != models.BookingPending {
		// already handled, possibly by a racing trigger
		s.logger().Debug("booking not pending, skipping", "booking_id", bookingID, "status", b.Status)
		return nil
	}
	if b.Pickup == nil || !geo.Finite(b.Pickup.Lat, b.Pickup.Lon) {
		return fmt.Errorf("%w: booking %s has no usable pickup", ErrInvalidBooking, bookingID)
	}

	idle, err := s.Store.IdleVehicles(ctx)
	if err != nil {
		return fmt.Errorf("scan idle vehicles: %w", err)
	}
	best, ok := pickNearest(*b.Pickup, idle)
	if !ok {
		observability.AssignNoCandidate.Inc()
		s.logger().Info("no eligible vehicle, booking stays pending", "booking_id", bookingID)
		return nil
	}

	// The re-check inside the transaction compares against this
	// snapshot so a concurrent assignment to the same vehicle aborts
	// even while raw capacity would still admit the booking.
	snapshotCarried := len(best.v.Passengers)
	code := verificationCode(b.Phone)
	now := time.Now()

	var committedBooking *models.Booking
	var committedVehicle *models.Vehicle
	err = s.Store.Transact(ctx, func(tx store.Tx) error {
		cb, err := tx.GetBooking(bookingID)
		if err != nil {
			return err
		}
		if cb.Status != models.BookingPending {
			return store.ErrConflict
		}
		cv, err := tx.GetVehicle(best.v.ID)
		if err != nil {
			return err
		}
		if cv.Status != models.VehicleIdle || cv.Full() {
			return store.ErrConflict
		}
		if len(cv.Passengers) != snapshotCarried {
			return store.ErrConflict
		}
		cb.Status = models.BookingAssigned
		cb.VehicleID = cv.ID
		cb.VerificationCode = code
		cb.AssignedAt = now
		cv.Passengers = append(cv.Passengers, cb.ID)
		tx.PutBooking(cb)
		tx.PutVehicle(cv)
		committedBooking, committedVehicle = cb, cv
		return nil
	}, store.BookingKey(bookingID), store.VehicleKey(best.v.ID))
	if errors.Is(err, store.ErrConflict) {
		observability.AssignConflicts.Inc()
		s.logger().Info("assignment aborted by concurrent change", "booking_id", bookingID, "vehicle_id", best.v.ID)
		return fmt.Errorf("assign %s: %w", bookingID, err)
	}
	if err != nil {
		return fmt.Errorf("assign %s: %w", bookingID, err)
	}

	observability.AssignmentsTotal.Inc()
	s.logger().Info("booking assigned",
		"booking_id", committedBooking.ID,
		"vehicle_id", committedVehicle.ID,
		"distance_km", best.dist,
	)
	s.afterAssign(ctx, committedBooking, committedVehicle, best.dist)
	return nil
}

// afterAssign runs the best-effort side effects outside the atomic step.
// Nothing here may roll back the assignment.
func (s *Service) afterAssign(ctx context.Context, b *models.Booking, v *models.Vehicle, distKm float64) {
	if s.Notifier != nil {
		n := notify.Notification{
			VehicleID: v.ID,
			Token:     v.PushToken,
			Title:     "New pickup assigned",
			Body:      fmt.Sprintf("Booking %s, verification code %s", b.ID, b.VerificationCode),
			Data: map[string]string{
				"booking_id":        b.ID,
				"verification_code": b.VerificationCode,
			},
		}
		if err := s.Notifier.Send(ctx, n); err != nil {
			observability.NotifyFailures.Inc()
			s.logger().Warn("notification delivery failed", "vehicle_id", v.ID, "error", err)
		}
	}
	if s.Payments != nil && s.DepositCents > 0 {
		if piID, err := s.Payments.Hold(ctx, s.DepositCents, s.DepositCurrency, b.RiderID); err != nil {
			s.logger().Warn("deposit hold failed", "booking_id", b.ID, "error", err)
		} else {
			s.logger().Info("deposit held", "booking_id", b.ID, "payment_intent", piID)
		}
	}
	if s.Log != nil {
		if err := s.Log.RecordAssignment(ctx, b, v, distKm); err != nil {
			s.logger().Warn("dispatch log write failed", "booking_id", b.ID, "error", err)
		}
	}
}

type candidate struct {
	v    models.Vehicle
	dist float64
}

// pickNearest scans idle vehicles and keeps the closest eligible one.
// A single min-scan with better() avoids feeding the near-tie rule into
// sort.Slice, where it would not be a strict ordering.
func pickNearest(pickup models.Coord, idle []models.Vehicle) (candidate, bool) {
	var best candidate
	found := false
	for _, v := range idle {
		if v.Full() || v.Loc == nil {
			continue
		}
		c := candidate{v: v, dist: geo.DistanceKm(pickup.Lat, pickup.Lon, v.Loc.Lat, v.Loc.Lon)}
		if !found || better(c, best) {
			best = c
			found = true
		}
	}
	return best, found
}

func better(a, b candidate) bool {
	if math.Abs(a.dist-b.dist) < nearTieKm {
		return len(a.v.Passengers) < len(b.v.Passengers)
	}
	return a.dist < b.dist
}

// verificationCode derives the rider's pickup code from the last four
// characters of the phone field, falling back to a random 4-digit code.
// The code is advisory, not security material.
func verificationCode(phone string) string {
	p := strings.TrimSpace(phone)
	if len(p) >= 4 {
		return p[len(p)-4:]
	}
	return fmt.Sprintf("%04d", rand.Intn(10000))
}
