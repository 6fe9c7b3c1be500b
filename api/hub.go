package api

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pyama86/queueline/monitoring"
)

// Session is one live WebSocket connection. The admin flag is scoped to the
// connection and only ever set after a successful adminAuth, it is never
// taken from a message payload.
type Session struct {
	conn       *websocket.Conn
	remoteAddr string

	// writeMu serializes writes, gorilla connections allow one writer at a time.
	writeMu sync.Mutex
	admin   bool
}

func NewSession(conn *websocket.Conn) *Session {
	return &Session{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
	}
}

func (s *Session) Send(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.sendRaw(payload)
}

func (s *Session) sendRaw(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub owns the set of connected sessions. It is only used for fan-out, a
// session carries no identity beyond its connection.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{
		sessions: map[*Session]struct{}{},
	}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	monitoring.SetConnectedSessions(h.Len())
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	monitoring.SetConnectedSessions(h.Len())
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast serializes the message once and delivers it to every session.
// A failed send is logged per socket and does not abort delivery to the
// others, the failing session is cleaned up by its own close event.
func (h *Hub) Broadcast(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal broadcast message", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if err := s.sendRaw(payload); err != nil {
			monitoring.IncBroadcastSendError()
			slog.Warn("failed to send broadcast",
				slog.String("remote", s.remoteAddr),
				slog.String("error", err.Error()),
			)
		}
	}
	monitoring.IncBroadcast()
}
