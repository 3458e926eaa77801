// Package realtime pushes ledger and trip events to connected clients over
// WebSocket. Each connection belongs to one authenticated user; events are
// routed by user ID and by wallet ID.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second

	// sendBuffer bounds per-connection queued messages. A client that
	// cannot keep up is disconnected rather than blocking the hub.
	sendBuffer = 32
)

// Message is the JSON frame pushed to clients.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type session struct {
	userID string
	conn   *websocket.Conn
	send   chan Message
	done   chan struct{}
	once   sync.Once
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub tracks connected sessions and fans events out to them. It implements
// events.Sink so services can publish without knowing about WebSockets.
type Hub struct {
	mu       sync.RWMutex
	byUser   map[string]map[*session]struct{}
	byWallet map[string]string // wallet ID -> owner user ID

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		byUser:   make(map[string]map[*session]struct{}),
		byWallet: make(map[string]string),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens via bearer token before the upgrade; the
			// origin check adds nothing for non-browser clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "realtime").Logger(),
	}
}

var _ events.Sink = (*Hub)(nil)

// BindWallet routes events addressed to a wallet to its owner's sessions.
func (h *Hub) BindWallet(walletID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byWallet[walletID] = userID
}

// Publish implements events.Sink. Delivery is best effort: slow or closed
// sessions are dropped, never waited on.
func (h *Hub) Publish(_ context.Context, ev events.Event) {
	userID := ev.UserID
	if userID == "" && ev.WalletID != "" {
		h.mu.RLock()
		userID = h.byWallet[ev.WalletID]
		h.mu.RUnlock()
	}
	if userID == "" {
		return
	}

	msg := Message{Event: ev.Name, Payload: ev.Payload}

	h.mu.RLock()
	sessions := make([]*session, 0, len(h.byUser[userID]))
	for s := range h.byUser[userID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		select {
		case s.send <- msg:
		case <-s.done:
		default:
			h.logger.Warn().Str("user_id", userID).Msg("dropping slow websocket session")
			h.remove(s)
		}
	}
}

// Connections returns the number of live sessions for a user.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// ServeUser upgrades the request and pumps events to the client until the
// connection drops. The caller has already authenticated userID.
func (h *Hub) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := &session{
		userID: userID,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		done:   make(chan struct{}),
	}
	h.add(s)

	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser[s.userID] == nil {
		h.byUser[s.userID] = make(map[*session]struct{})
	}
	h.byUser[s.userID][s] = struct{}{}
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	if sessions, ok := h.byUser[s.userID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.byUser, s.userID)
		}
	}
	h.mu.Unlock()
	s.close()
}

// readPump discards client frames and enforces pong deadlines.
func (h *Hub) readPump(s *session) {
	defer func() {
		h.remove(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
