// Package websocket streams call status changes to dashboard clients.
package websocket

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/logger"
)

const (
	defaultBuffer = 32

	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = (pongTimeout * 9) / 10
	maxReadBytes = 512
)

// MessageTypeCall tags a frame carrying one call snapshot.
const MessageTypeCall = "call"

// Message is one frame sent to subscribers.
type Message struct {
	Type string     `json:"type"`
	Call calls.Call `json:"call"`
}

// Config configures a Hub.
type Config struct {
	// Buffer is the number of undelivered updates a subscriber may hold before it
	// is disconnected.
	Buffer int
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

// Hub fans call snapshots out to connected clients. A client that falls Buffer
// updates behind is disconnected with CloseTryAgainLater and is expected to
// reconnect and reload the call list.
type Hub struct {
	cfg      Config
	upgrader gorillaws.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool

	evicted atomic.Int64
}

type subscriber struct {
	updates   chan calls.Call
	closeCode int
	done      chan struct{}
	doneOnce  sync.Once
}

func (s *subscriber) stop() {
	s.doneOnce.Do(func() { close(s.done) })
}

// NewHub returns an open hub.
func NewHub(cfg Config) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	h := &Hub{cfg: cfg, subs: map[*subscriber]struct{}{}}
	h.upgrader = gorillaws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Publish queues call for every subscriber without blocking.
func (h *Hub) Publish(call calls.Call) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.updates <- call:
		default:
			h.removeLocked(sub, gorillaws.CloseTryAgainLater)
			h.evicted.Add(1)
		}
	}
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Evicted reports how many clients were disconnected for falling behind.
func (h *Hub) Evicted() int64 {
	return h.evicted.Load()
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		h.removeLocked(sub, gorillaws.CloseGoingAway)
	}
}

// ServeHTTP upgrades the request and streams updates until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake so no update between the client's list
	// fetch and the upgrade is lost.
	sub, ok := h.subscribe()
	if !ok {
		http.Error(w, "call feed closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.unsubscribe(sub)
		logger.Base().Debug("call feed upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	logger.Base().Debug("call feed subscribed", zap.String("remote", r.RemoteAddr))

	go readLoop(conn, sub)
	h.writeLoop(conn, sub)
}

func (h *Hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{
		updates:   make(chan calls.Call, h.cfg.Buffer),
		closeCode: gorillaws.CloseNormalClosure,
		done:      make(chan struct{}),
	}
	h.subs[sub] = struct{}{}
	return sub, true
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, gorillaws.CloseNormalClosure)
}

func (h *Hub) removeLocked(sub *subscriber, code int) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.closeCode = code
	close(sub.updates)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// readLoop discards client frames and keeps the read deadline fresh on pongs.
func readLoop(conn *gorillaws.Conn, sub *subscriber) {
	defer sub.stop()
	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
				logger.Base().Debug("call feed read failed", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(conn *gorillaws.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.unsubscribe(sub)
		_ = conn.Close()
	}()

	for {
		select {
		case call, ok := <-sub.updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				h.mu.Lock()
				code := sub.closeCode
				h.mu.Unlock()
				_ = conn.WriteMessage(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(code, ""))
				return
			}
			if err := conn.WriteJSON(Message{Type: MessageTypeCall, Call: call}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}
