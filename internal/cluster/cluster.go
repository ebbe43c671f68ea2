// Package cluster derives demand hotspots from recent pickup points.
package cluster

import (
	"sort"

	"github.com/mmcloughlin/geohash"

	"github.com/example/fleet-dispatch/internal/geo"
	"github.com/example/fleet-dispatch/internal/models"
)

// JoinRadiusKm is the distance within which a pickup point folds into an
// existing hotspot instead of starting a new one.
const JoinRadiusKm = 0.5

const hotspotGeohashPrecision = 7

// Hotspots groups pickup points by proximity with a single greedy pass.
// The representative point stays at the first pickup seen in the cluster;
// it is not recomputed as a centroid. Hotspots are advisory, so the
// approximation is acceptable. Output is ordered by count descending,
// ties keeping first-seen order.
func Hotspots(bookings []models.Booking) []models.Hotspot {
	spots := make([]models.Hotspot, 0)
	for _, b := range bookings {
		if b.Pickup == nil || !geo.Finite(b.Pickup.Lat, b.Pickup.Lon) {
			continue
		}
		joined := false
		for i := range spots {
			if geo.DistanceKm(b.Pickup.Lat, b.Pickup.Lon, spots[i].Loc.Lat, spots[i].Loc.Lon) <= JoinRadiusKm {
				spots[i].Count++
				joined = true
				break
			}
		}
		if !joined {
			spots = append(spots, models.Hotspot{
				ID:    geohash.EncodeWithPrecision(b.Pickup.Lat, b.Pickup.Lon, hotspotGeohashPrecision),
				Loc:   *b.Pickup,
				Count: 1,
			})
		}
	}
	sort.SliceStable(spots, func(i, j int) bool { return spots[i].Count > spots[j].Count })
	return spots
}
