// Package feed models the change-notification stream the dispatcher
// reacts to. Events are sourced from Kafka in production and from a
// channel in tests; the reaction logic never knows the difference.
package feed

import (
	"context"
	"encoding/json"
	"errors"
)

const (
	CollectionBookings = "bookings"
	CollectionVehicles = "vehicles"

	KindAdded    = "added"
	KindModified = "modified"
	KindRemoved  = "removed"
)

// Event is one observed change to a stored document.
type Event struct {
	Collection string          `json:"collection"`
	Kind       string          `json:"kind"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ErrInvalidEvent marks a message that could not be decoded; consumers
// count it and move on.
var ErrInvalidEvent = errors.New("feed: invalid event")

// Subscription is a lazy, infinite stream of change events. Next blocks
// until an event arrives, the context is canceled, or the stream dies.
// Subscriptions are not restartable.
type Subscription interface {
	Next(ctx context.Context) (Event, error)
}
