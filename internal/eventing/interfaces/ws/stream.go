package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fleetpulse/internal/auth"
	"fleetpulse/internal/eventing"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHandler serves the per-user event stream over WebSocket. Each
// connection gets its own bus subscription scoped to the authenticated user.
type StreamHandler struct {
	bus    *eventing.Bus
	logger *log.Logger
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(bus *eventing.Bus, logger *log.Logger) (*StreamHandler, error) {
	if bus == nil {
		return nil, errors.New("ws stream: nil bus")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &StreamHandler{bus: bus, logger: logger}, nil
}

// ServeHTTP handles GET /ws.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ws stream: upgrade error: %v", err)
		return
	}

	sub := h.bus.Subscribe(userID)
	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)
	h.bus.Unsubscribe(sub)
	conn.Close()
}

// readPump drains client frames so pong handlers run and close frames are
// seen. Inbound payloads are ignored.
func (h *StreamHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("ws stream: read error: %v", err)
			}
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, sub *eventing.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			payload, err := json.Marshal(env)
			if err != nil {
				h.logger.Printf("ws stream: encode error: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
