package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
)

var (
	// ErrNotFound means the requested document does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict means a transactional re-check failed because the entity
	// changed state concurrently. Expected under racing assignments.
	ErrConflict = errors.New("store: conflict")
)

// Key names one document for transaction watch purposes.
type Key struct {
	Collection string
	ID         string
}

func BookingKey(id string) Key { return Key{Collection: "bookings", ID: id} }
func VehicleKey(id string) Key { return Key{Collection: "vehicles", ID: id} }

// Tx is the view of the store inside a transaction. Reads observe the
// pre-transaction state; writes are staged and applied atomically when
// the transaction function returns nil.
type Tx interface {
	GetBooking(id string) (*models.Booking, error)
	GetVehicle(id string) (*models.Vehicle, error)
	PutBooking(b *models.Booking)
	PutVehicle(v *models.Vehicle)
}

// Store is the persistence boundary for fleet and booking state. The
// dispatch core depends only on this interface; MemoryStore backs tests
// and RedisStore backs production.
type Store interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	PutBooking(ctx context.Context, b *models.Booking) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	PutVehicle(ctx context.Context, v *models.Vehicle) error

	// IdleVehicles returns a snapshot of vehicles with status idle.
	IdleVehicles(ctx context.Context) ([]models.Vehicle, error)
	// BookingsSince returns bookings created at or after cutoff, any status.
	BookingsSince(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
	// SetVehicleTarget writes a rebalancing target onto one vehicle.
	SetVehicleTarget(ctx context.Context, id string, t models.Target) error

	// Transact runs fn as an all-or-nothing unit against the keys it
	// watches. Implementations retry automatically when a concurrent
	// write touches a watched key; an error returned by fn aborts
	// without applying staged writes.
	Transact(ctx context.Context, fn func(tx Tx) error, keys ...Key) error
}

func cloneBooking(b *models.Booking) *models.Booking {
	if b == nil {
		return nil
	}
	cp := *b
	if b.Pickup != nil {
		p := *b.Pickup
		cp.Pickup = &p
	}
	return &cp
}

func cloneVehicle(v *models.Vehicle) *models.Vehicle {
	if v == nil {
		return nil
	}
	cp := *v
	if v.Loc != nil {
		l := *v.Loc
		cp.Loc = &l
	}
	if v.Target != nil {
		t := *v.Target
		cp.Target = &t
	}
	if v.Passengers != nil {
		cp.Passengers = append([]string(nil), v.Passengers...)
	}
	return &cp
}
