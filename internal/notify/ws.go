package notify

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession represents a connected driver session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(map[string]any{"title": n.Title, "body": n.Body, "data": n.Data})
}

// WSRegistry holds live driver sessions keyed by vehicle id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(vehicleID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[vehicleID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(vehicleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, vehicleID)
}

func (r *WSRegistry) Send(ctx context.Context, n Notification) error {
	r.mu.RLock()
	s, ok := r.sessions[n.VehicleID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(n)
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
