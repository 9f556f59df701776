package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Hub pushes queue events to connected patients over WebSocket. A patient
// may hold several connections (multiple tabs); events go to all of them.
// An event for a patient with no connection is dropped after logging —
// real-time delivery is best effort, the ledger remains the source of truth.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[uuid.UUID]map[*websocket.Conn]struct{}
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser client is served from another origin; auth is
			// handled upstream of this service.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]map[*websocket.Conn]struct{}),
	}
}

// Subscribe upgrades the request and registers the connection under the
// given user until the peer goes away.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.register(userID, conn)
	h.log.Debug().Str("user_id", userID.String()).Msg("queue subscriber connected")

	go h.keepAlive(userID, conn)
	h.readLoop(userID, conn)
}

func (h *Hub) register(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

func (h *Hub) unregister(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
	_ = conn.Close()
}

// readLoop drains the connection until it errors, which is how peer
// disconnects are detected. Clients are not expected to send anything.
func (h *Hub) readLoop(userID uuid.UUID, conn *websocket.Conn) {
	defer h.unregister(userID, conn)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) keepAlive(userID uuid.UUID, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			h.unregister(userID, conn)
			return
		}
	}
}

// Dispatch sends the event to every live connection of the target user.
func (h *Hub) Dispatch(_ context.Context, ev Event) error {
	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns[ev.UserID]))
	for conn := range h.conns[ev.UserID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.log.Debug().
			Str("user_id", ev.UserID.String()).
			Str("booking_id", ev.BookingID.String()).
			Msg("no live connection for queue event, dropping")
		return nil
	}

	for _, conn := range targets {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.log.Warn().Err(err).Str("user_id", ev.UserID.String()).Msg("queue event write failed")
			h.unregister(ev.UserID, conn)
		}
	}
	return nil
}
