package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aegisdq/aegis/internal/api/middleware"
)

const wsWriteTimeout = 10 * time.Second

// wsUpgrader upgrades HTTP connections to WebSocket. Origin checking is
// delegated to the CORS layer; the event stream is read-only for clients.
var wsUpgrader = websocket.Upgrader{ //nolint: gochecknoglobals
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsSubscriber adapts one WebSocket connection to the notifier's Subscriber
// contract. Writes are serialized by a mutex since broadcasts and control
// frames may race.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send delivers one event payload to the client. An error marks the
// subscriber dead and the notifier drops it.
func (s *wsSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}

	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleWebSocket upgrades the connection and subscribes it to the event
// stream. The read loop only serves to detect client disconnects; inbound
// messages are discarded.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		return
	}

	subscriber := &wsSubscriber{conn: conn}
	s.deps.Notifier.Subscribe(subscriber)

	defer func() {
		s.deps.Notifier.Unsubscribe(subscriber)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
