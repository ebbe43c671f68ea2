package models

import "time"

// Booking lifecycle states. Only the pending->assigned transition is
// handled by the dispatcher; later states (picked_up, completed, ...)
// belong to the trip lifecycle and are out of scope here.
const (
	BookingPending  = "pending"
	BookingAssigned = "assigned"
)

// VehicleIdle is the only vehicle status eligible for new assignments.
const VehicleIdle = "idle"

// MaxPassengers is the hard capacity of a vehicle's carried-booking list.
const MaxPassengers = 7

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Booking struct {
	ID               string    `json:"id"`
	RiderID          string    `json:"rider_id,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Pickup           *Coord    `json:"pickup,omitempty"`
	Status           string    `json:"status"`
	VehicleID        string    `json:"vehicle_id,omitempty"`
	VerificationCode string    `json:"verification_code,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	AssignedAt       time.Time `json:"assigned_at,omitzero"`
}

// Target is a rebalancing destination written onto a vehicle.
type Target struct {
	Loc    Coord     `json:"loc"`
	Reason string    `json:"reason"`
	SetAt  time.Time `json:"set_at"`
}

type Vehicle struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Loc        *Coord    `json:"loc,omitempty"`
	Passengers []string  `json:"passengers,omitempty"` // carried booking ids, len <= MaxPassengers
	PushToken  string    `json:"push_token,omitempty"`
	Target     *Target   `json:"target,omitempty"`
	Updated    time.Time `json:"updated,omitzero"`
}

// Full reports whether the vehicle has no remaining passenger capacity.
func (v *Vehicle) Full() bool { return len(v.Passengers) >= MaxPassengers }

// Hotspot is a transient demand cluster, recomputed each rebalance cycle.
// The representative point is the first pickup seen in the cluster, not a
// centroid.
type Hotspot struct {
	ID    string `json:"id"` // geohash of the representative point
	Loc   Coord  `json:"loc"`
	Count int    `json:"count"`
}

type RebalanceSuggestion struct {
	VehicleID  string  `json:"vehicle_id"`
	From       Coord   `json:"from"`
	To         Coord   `json:"to"`
	DistanceKm float64 `json:"distance_km"`
	Priority   int     `json:"priority"` // 0..10
	Reason     string  `json:"reason"`
	Applied    bool    `json:"applied"`
}
