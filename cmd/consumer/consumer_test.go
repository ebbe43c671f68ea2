package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/fleet-dispatch/internal/feed"
)

type scriptedSub struct {
	events []feed.Event
	errs   []error
	i      int
}

func (s *scriptedSub) Next(ctx context.Context) (feed.Event, error) {
	if s.i >= len(s.events) {
		return feed.Event{}, context.Canceled
	}
	ev, err := s.events[s.i], s.errs[s.i]
	s.i++
	return ev, err
}

func TestCountingSubscriptionCountsInvalid(t *testing.T) {
	sub := &scriptedSub{
		events: []feed.Event{
			{Collection: feed.CollectionBookings, Kind: feed.KindAdded, ID: "b1"},
			{},
			{Collection: feed.CollectionBookings, Kind: feed.KindAdded, ID: "b2"},
		},
		errs: []error{nil, fmt.Errorf("%w: bad json", feed.ErrInvalidEvent), nil},
	}
	c := &countingSubscription{inner: sub}
	ctx := context.Background()

	good, bad := 0, 0
	for i := 0; i < 3; i++ {
		_, err := c.Next(ctx)
		switch {
		case err == nil:
			good++
		case errors.Is(err, feed.ErrInvalidEvent):
			bad++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if good != 2 || bad != 1 {
		t.Fatalf("good=%d bad=%d", good, bad)
	}
}
