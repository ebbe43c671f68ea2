package feed

import "context"

// ChanSubscription feeds events from a channel. Used by tests and the
// single-process mode where the HTTP layer is the only event source.
type ChanSubscription struct {
	C chan Event
}

func NewChanSubscription(buffer int) *ChanSubscription {
	return &ChanSubscription{C: make(chan Event, buffer)}
}

func (s *ChanSubscription) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.C:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
