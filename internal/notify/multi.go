package notify

import (
	"context"
	"errors"
)

// Multi tries the live WebSocket session first and falls back to the
// push channel when the driver has no open session.
type Multi struct {
	WS   *WSRegistry
	Push Notifier
}

func (m *Multi) Send(ctx context.Context, n Notification) error {
	if m.WS != nil {
		err := m.WS.Send(ctx, n)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSession) && m.Push == nil {
			return err
		}
	}
	if m.Push != nil {
		return m.Push.Send(ctx, n)
	}
	return ErrNoSession
}
