// Package orchestrator wires the dispatch triggers together: booking
// creation and change-feed events fire the matcher, a timer and the
// manual endpoint fire the rebalancer. Failures on asynchronous paths
// are logged and never reach the request that triggered them.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/fleet-dispatch/internal/feed"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/rebalance"
	"github.com/example/fleet-dispatch/internal/store"
)

// Assigner is the matcher as the orchestrator sees it.
type Assigner interface {
	Assign(ctx context.Context, bookingID string) error
}

// Rebalancer runs one planning cycle.
type Rebalancer interface {
	Run(ctx context.Context, autoApply bool) (rebalance.Result, error)
}

const assignTimeout = 30 * time.Second

type Orchestrator struct {
	Assigner   Assigner
	Rebalancer Rebalancer
	Logger     *slog.Logger
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// AssignAsync fires the matcher in the background. The submitting
// request never observes the outcome; conflicts and failures land in
// the log only.
func (o *Orchestrator) AssignAsync(bookingID string) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				o.logger().Error("panic in assignment task", "booking_id", bookingID, "panic", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), assignTimeout)
		defer cancel()
		o.assignLogged(ctx, bookingID)
	}()
}

func (o *Orchestrator) assignLogged(ctx context.Context, bookingID string) {
	err := o.Assigner.Assign(ctx, bookingID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConflict):
		// expected under racing triggers, a later event retries
		o.logger().Info("assignment deferred on conflict", "booking_id", bookingID)
	default:
		o.logger().Error("assignment failed", "booking_id", bookingID, "error", err)
	}
}

// HandleEvent reacts to one change-feed event: newly added pending
// bookings go to the matcher, everything else is ignored.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev feed.Event) error {
	if ev.Collection != feed.CollectionBookings || ev.Kind != feed.KindAdded {
		return nil
	}
	if ev.ID == "" {
		return fmt.Errorf("%w: booking event without id", feed.ErrInvalidEvent)
	}
	if len(ev.Data) > 0 {
		var b models.Booking
		if err := json.Unmarshal(ev.Data, &b); err != nil {
			return fmt.Errorf("%w: %v", feed.ErrInvalidEvent, err)
		}
		if b.Status != "" && b.Status != models.BookingPending {
			return nil
		}
	}
	o.assignLogged(ctx, ev.ID)
	return nil
}

// RunFeed drains a subscription until the context ends. Bad events are
// counted and skipped; handler failures never stop the loop.
func (o *Orchestrator) RunFeed(ctx context.Context, sub feed.Subscription) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, feed.ErrInvalidEvent) {
				o.logger().Warn("skipping invalid feed event", "error", err)
				continue
			}
			return err
		}
		if err := o.HandleEvent(ctx, ev); err != nil {
			o.logger().Warn("feed event not handled", "event_id", ev.ID, "error", err)
		}
	}
}

// RunRebalanceLoop fires an auto-applying rebalance run at a fixed
// interval until the context ends.
func (o *Orchestrator) RunRebalanceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Rebalancer.Run(ctx, true); err != nil {
				o.logger().Error("scheduled rebalance failed", "error", err)
			}
		}
	}
}

// TriggerRebalance serves the on-demand path with caller-chosen apply
// behavior.
func (o *Orchestrator) TriggerRebalance(ctx context.Context, autoApply bool) (rebalance.Result, error) {
	return o.Rebalancer.Run(ctx, autoApply)
}
