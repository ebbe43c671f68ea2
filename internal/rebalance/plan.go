// Package rebalance repositions idle vehicles toward anticipated demand.
package rebalance

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/example/fleet-dispatch/internal/cluster"
	"github.com/example/fleet-dispatch/internal/geo"
	"github.com/example/fleet-dispatch/internal/models"
)

const (
	// coverRadiusKm: a hotspot with another idle vehicle this close is
	// already served.
	coverRadiusKm = 1.0
	// minMoveKm: a vehicle closer than this to a hotspot is effectively
	// there and not worth moving.
	minMoveKm = 0.5
	// maxPriority caps the suggestion score.
	maxPriority = 10
)

// Plan pairs idle vehicles with under-served hotspots derived from the
// trailing booking window. Pure over its snapshot inputs: greedy, one
// suggestion per vehicle, no backtracking. Output is sorted by priority
// descending.
func Plan(idle []models.Vehicle, recent []models.Booking, window time.Duration, now time.Time) []models.RebalanceSuggestion {
	cutoff := now.Add(-window)
	windowed := make([]models.Booking, 0, len(recent))
	for _, b := range recent {
		if !b.CreatedAt.Before(cutoff) {
			windowed = append(windowed, b)
		}
	}
	if len(idle) == 0 || len(windowed) == 0 {
		return nil
	}

	spots := cluster.Hotspots(windowed)
	suggestions := make([]models.RebalanceSuggestion, 0, len(idle))
	for _, v := range idle {
		if v.Loc == nil {
			continue
		}
		for _, spot := range spots {
			if coveredByOther(spot, idle, v.ID) {
				continue
			}
			d := geo.DistanceKm(v.Loc.Lat, v.Loc.Lon, spot.Loc.Lat, spot.Loc.Lon)
			if d <= minMoveKm {
				continue
			}
			suggestions = append(suggestions, models.RebalanceSuggestion{
				VehicleID:  v.ID,
				From:       *v.Loc,
				To:         spot.Loc,
				DistanceKm: d,
				Priority:   priority(spot.Count, d),
				Reason:     fmt.Sprintf("%d recent pickups near %s", spot.Count, spot.ID),
			})
			break
		}
	}
	sort.SliceStable(suggestions, func(i, j int) bool { return suggestions[i].Priority > suggestions[j].Priority })
	return suggestions
}

func coveredByOther(spot models.Hotspot, idle []models.Vehicle, selfID string) bool {
	for _, other := range idle {
		if other.ID == selfID || other.Loc == nil {
			continue
		}
		if geo.DistanceKm(other.Loc.Lat, other.Loc.Lon, spot.Loc.Lat, spot.Loc.Lon) <= coverRadiusKm {
			return true
		}
	}
	return false
}

// priority rewards demand and penalizes distance:
// min(10, round(count*5 / max(1, distKm))).
func priority(count int, distKm float64) int {
	denom := distKm
	if denom < 1 {
		denom = 1
	}
	p := int(math.Round(float64(count) * 5 / denom))
	if p > maxPriority {
		p = maxPriority
	}
	return p
}
