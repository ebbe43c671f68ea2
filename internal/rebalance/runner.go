package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/observability"
	"github.com/example/fleet-dispatch/internal/store"
)

const (
	defaultWindow     = time.Hour
	defaultApplyLimit = 3
)

// Result is what one rebalance run produced: the full ranked suggestion
// list plus how many of the top entries were written to vehicles.
type Result struct {
	Suggestions []models.RebalanceSuggestion `json:"suggestions"`
	Applied     int                          `json:"applied"`
}

// Runner snapshots fleet and booking state, plans, and optionally
// applies a bounded number of suggestions.
type Runner struct {
	Store  store.Store
	Log    store.DispatchLog // optional audit log
	Logger *slog.Logger

	Window     time.Duration // trailing demand window, default 1h
	ApplyLimit int           // max auto-applied suggestions, default 3
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) window() time.Duration {
	if r.Window > 0 {
		return r.Window
	}
	return defaultWindow
}

func (r *Runner) applyLimit() int {
	if r.ApplyLimit > 0 {
		return r.ApplyLimit
	}
	return defaultApplyLimit
}

// Run computes suggestions over a fresh snapshot. With autoApply it
// writes target locations for the top suggestions by priority, bounding
// the number of simultaneous vehicle movements.
func (r *Runner) Run(ctx context.Context, autoApply bool) (Result, error) {
	observability.RebalanceRunsTotal.Inc()

	idle, err := r.Store.IdleVehicles(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("rebalance: scan idle vehicles: %w", err)
	}
	observability.VehiclesIdle.Set(float64(len(idle)))

	now := time.Now()
	recent, err := r.Store.BookingsSince(ctx, now.Add(-r.window()))
	if err != nil {
		return Result{}, fmt.Errorf("rebalance: booking window: %w", err)
	}

	res := Result{Suggestions: Plan(idle, recent, r.window(), now)}
	if autoApply {
		limit := r.applyLimit()
		if limit > len(res.Suggestions) {
			limit = len(res.Suggestions)
		}
		for i := 0; i < limit; i++ {
			s := &res.Suggestions[i]
			target := models.Target{Loc: s.To, Reason: s.Reason, SetAt: now}
			if err := r.Store.SetVehicleTarget(ctx, s.VehicleID, target); err != nil {
				r.logger().Warn("apply suggestion failed", "vehicle_id", s.VehicleID, "error", err)
				continue
			}
			s.Applied = true
			res.Applied++
			observability.SuggestionsApplied.Inc()
		}
	}

	if r.Log != nil {
		for _, s := range res.Suggestions {
			if err := r.Log.RecordSuggestion(ctx, s); err != nil {
				r.logger().Warn("suggestion log write failed", "vehicle_id", s.VehicleID, "error", err)
				break
			}
		}
	}

	r.logger().Info("rebalance run complete",
		"idle_vehicles", len(idle),
		"recent_bookings", len(recent),
		"suggestions", len(res.Suggestions),
		"applied", res.Applied,
	)
	return res, nil
}
