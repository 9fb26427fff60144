package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/grimoire/internal/models"
)

const (
	// subscriberBuffer is how many events a slow subscriber may lag behind
	// before it is dropped.
	subscriberBuffer = 32

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// Hub fans created sources out to websocket subscribers.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	send chan models.SourceEvent
	// done is closed when the hub drops the subscriber.
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local dev
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Publish sends src to every subscriber without blocking.
// Subscribers whose buffer is full are disconnected.
func (h *Hub) Publish(src models.Source) {
	event := models.SourceEvent{Type: models.EventSourceCreated, Source: src}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- event:
		default:
			h.logger.Warn("dropping slow stream subscriber", "source_id", src.ID)
			delete(h.subs, sub)
			sub.stop()
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.stop()
	}
}

func (h *Hub) add() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{
		send: make(chan models.SourceEvent, subscriberBuffer),
		done: make(chan struct{}),
	}
	h.subs[sub] = struct{}{}
	return sub, true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
	sub.stop()
}

// ServeWS upgrades the request and streams source events until the
// client disconnects or the hub is closed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, ok := h.add()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer h.remove(sub)
	h.logger.Debug("stream subscriber connected", "remote", r.RemoteAddr)

	// Reader: handles pongs and notices the client going away.
	go func() {
		defer h.remove(sub)
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
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-sub.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
