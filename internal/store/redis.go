package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fleet-dispatch/internal/models"
)

const (
	bookingPrefix    = "booking:"
	vehiclePrefix    = "vehicle:"
	bookingIndexKey  = "bookings"
	vehicleIndexKey  = "vehicles"
	bookingsByCreate = "bookings_by_created"
)

// RedisStore persists bookings and vehicles as JSON documents. Atomic
// read-modify-write goes through WATCH/MULTI/EXEC; a concurrent write to
// a watched key fails the EXEC and the transaction is retried with fresh
// reads, which is the retry behavior the dispatch core relies on.
type RedisStore struct {
	client     *redis.Client
	maxRetries int
}

func NewRedisStore(addr, password string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, maxRetries: 16}
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	raw, err := s.client.Get(ctx, bookingPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var b models.Booking
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decode booking %s: %w", id, err)
	}
	return &b, nil
}

func (s *RedisStore) PutBooking(ctx context.Context, b *models.Booking) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, bookingPrefix+b.ID, raw, 0)
		pipe.SAdd(ctx, bookingIndexKey, b.ID)
		pipe.ZAdd(ctx, bookingsByCreate, redis.Z{Score: float64(b.CreatedAt.Unix()), Member: b.ID})
		return nil
	})
	return err
}

func (s *RedisStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	raw, err := s.client.Get(ctx, vehiclePrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v models.Vehicle
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode vehicle %s: %w", id, err)
	}
	return &v, nil
}

func (s *RedisStore) PutVehicle(ctx context.Context, v *models.Vehicle) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, vehiclePrefix+v.ID, raw, 0)
		pipe.SAdd(ctx, vehicleIndexKey, v.ID)
		return nil
	})
	return err
}

func (s *RedisStore) IdleVehicles(ctx context.Context) ([]models.Vehicle, error) {
	ids, err := s.client.SMembers(ctx, vehicleIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Vehicle, 0, len(ids))
	for _, id := range ids {
		v, err := s.GetVehicle(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if v.Status == models.VehicleIdle {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (s *RedisStore) BookingsSince(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	ids, err := s.client.ZRangeByScore(ctx, bookingsByCreate, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Booking, 0, len(ids))
	for _, id := range ids {
		b, err := s.GetBooking(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

func (s *RedisStore) SetVehicleTarget(ctx context.Context, id string, t models.Target) error {
	return s.Transact(ctx, func(tx Tx) error {
		v, err := tx.GetVehicle(id)
		if err != nil {
			return err
		}
		tt := t
		v.Target = &tt
		tx.PutVehicle(v)
		return nil
	}, VehicleKey(id))
}

type redisWrite struct {
	key   string
	index string
	id    string
	raw   []byte
}

type redisTx struct {
	ctx    context.Context
	tx     *redis.Tx
	writes []redisWrite
	err    error // first staging failure, checked before EXEC
}

func (t *redisTx) GetBooking(id string) (*models.Booking, error) {
	raw, err := t.tx.Get(t.ctx, bookingPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var b models.Booking
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decode booking %s: %w", id, err)
	}
	return &b, nil
}

func (t *redisTx) GetVehicle(id string) (*models.Vehicle, error) {
	raw, err := t.tx.Get(t.ctx, vehiclePrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v models.Vehicle
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode vehicle %s: %w", id, err)
	}
	return &v, nil
}

// PutBooking stages a document rewrite. The created-at index is
// maintained by the create path; transactions only mutate existing docs.
func (t *redisTx) PutBooking(b *models.Booking) {
	raw, err := json.Marshal(b)
	if err != nil {
		if t.err == nil {
			t.err = fmt.Errorf("encode booking %s: %w", b.ID, err)
		}
		return
	}
	t.writes = append(t.writes, redisWrite{key: bookingPrefix + b.ID, index: bookingIndexKey, id: b.ID, raw: raw})
}

func (t *redisTx) PutVehicle(v *models.Vehicle) {
	raw, err := json.Marshal(v)
	if err != nil {
		if t.err == nil {
			t.err = fmt.Errorf("encode vehicle %s: %w", v.ID, err)
		}
		return
	}
	t.writes = append(t.writes, redisWrite{key: vehiclePrefix + v.ID, index: vehicleIndexKey, id: v.ID, raw: raw})
}

func (s *RedisStore) Transact(ctx context.Context, fn func(tx Tx) error, keys ...Key) error {
	watch := make([]string, 0, len(keys))
	for _, k := range keys {
		switch k.Collection {
		case "bookings":
			watch = append(watch, bookingPrefix+k.ID)
		case "vehicles":
			watch = append(watch, vehiclePrefix+k.ID)
		default:
			return fmt.Errorf("transact: unknown collection %q", k.Collection)
		}
	}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := &redisTx{ctx: ctx, tx: rtx}
			if err := fn(t); err != nil {
				return err
			}
			if t.err != nil {
				return t.err
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, w := range t.writes {
					pipe.Set(ctx, w.key, w.raw, 0)
					pipe.SAdd(ctx, w.index, w.id)
				}
				return nil
			})
			return err
		}, watch...)
		if errors.Is(err, redis.TxFailedErr) {
			continue // watched key changed underneath us, re-read and retry
		}
		return err
	}
	return fmt.Errorf("transact: %w after %d attempts", ErrConflict, s.maxRetries)
}
