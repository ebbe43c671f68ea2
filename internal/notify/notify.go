// Package notify delivers best-effort push messages to driver devices.
// Delivery failure must never affect booking or vehicle state; callers
// log and move on.
package notify

import "context"

// Notification is one message to a driver app.
type Notification struct {
	VehicleID string
	Token     string // push destination token, may be empty
	Title     string
	Body      string
	Data      map[string]string
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Nop discards every notification. Used when no channel is configured.
type Nop struct{}

func (Nop) Send(ctx context.Context, n Notification) error { return nil }
