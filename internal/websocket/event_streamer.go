// Package websocket streams shopkeeper events to browser clients.
package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shopkeeper/backend/internal/events"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second // must be < pongWait
	writeWait  = 10 * time.Second
	maxMsgSize = 4 * 1024
)

// Streamer upgrades requests and forwards the bus events for one identity.
type Streamer struct {
	bus      *events.EventBus
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamer accepts any origin when allowedOrigins is empty.
func NewStreamer(bus *events.EventBus, allowedOrigins []string, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins, logger),
		},
	}
}

func checkOrigin(allowedOrigins []string, logger *slog.Logger) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed[origin] {
			return true
		}
		logger.Info("[WebSocket] rejected origin", "origin", origin)
		return false
	}
}

// ServeHTTP streams events whose subject equals the "identity" query
// parameter. The parameter is required.
func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		http.Error(w, "identity query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("[WebSocket] upgrade failed", "error", err)
		return
	}

	sub := s.bus.Subscribe(identity)
	s.logger.Info("[WebSocket] client connected", "identity", identity)

	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, sub, done)

	s.bus.Unsubscribe(sub)
	conn.Close()
	s.logger.Info("[WebSocket] client disconnected", "identity", identity)
}

// writePump owns every write to conn.
func (s *Streamer) writePump(conn *websocket.Conn, sub *events.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Warn("[WebSocket] write failed", "identity", sub.Identity, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// readPump discards client frames and notices when the peer goes away.
func (s *Streamer) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("[WebSocket] read error", "error", err)
			}
			return
		}
	}
}
