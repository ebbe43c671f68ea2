package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
)

// MemoryStore keeps everything in maps behind one mutex. Transactions
// hold the lock for their whole duration, which makes them serializable.
type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
	vehicles map[string]*models.Vehicle
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*models.Booking),
		vehicles: make(map[string]*models.Vehicle),
	}
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBooking(b), nil
}

func (m *MemoryStore) PutBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (m *MemoryStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVehicle(v), nil
}

func (m *MemoryStore) PutVehicle(ctx context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.ID] = cloneVehicle(v)
	return nil
}

func (m *MemoryStore) IdleVehicles(ctx context.Context) ([]models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		if v.Status == models.VehicleIdle {
			out = append(out, *cloneVehicle(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) BookingsSince(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Booking, 0)
	for _, b := range m.bookings {
		if !b.CreatedAt.Before(cutoff) {
			out = append(out, *cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SetVehicleTarget(ctx context.Context, id string, t models.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return ErrNotFound
	}
	tt := t
	v.Target = &tt
	return nil
}

type memTx struct {
	m        *MemoryStore
	bookings map[string]*models.Booking
	vehicles map[string]*models.Vehicle
}

func (t *memTx) GetBooking(id string) (*models.Booking, error) {
	b, ok := t.m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBooking(b), nil
}

func (t *memTx) GetVehicle(id string) (*models.Vehicle, error) {
	v, ok := t.m.vehicles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVehicle(v), nil
}

func (t *memTx) PutBooking(b *models.Booking) { t.bookings[b.ID] = cloneBooking(b) }
func (t *memTx) PutVehicle(v *models.Vehicle) { t.vehicles[v.ID] = cloneVehicle(v) }

func (m *MemoryStore) Transact(ctx context.Context, fn func(tx Tx) error, keys ...Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{
		m:        m,
		bookings: make(map[string]*models.Booking),
		vehicles: make(map[string]*models.Vehicle),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, b := range tx.bookings {
		m.bookings[id] = b
	}
	for id, v := range tx.vehicles {
		m.vehicles[id] = v
	}
	return nil
}
