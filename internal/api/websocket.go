package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Browser push timings, grounded on the retrieval pack's dashboard hub:
// a ping cadence comfortably inside the pong wait, and a bounded
// per-client send buffer so one wedged browser can't stall the rest.
const (
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = (wsPongWait * 9) / 10
	wsSendQueueLength = 64
)

// Event is one push notification the hub fans out to every connected
// browser. The handlers publish "command_dispatched" and
// "broadcast_sent" events; host state changes and command completions
// are not published.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// browserClient wraps one browser's WebSocket connection with a
// bounded outbound queue, decoupling a slow client from the hub's
// broadcast loop.
type browserClient struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *browserClient) safeSend(data []byte) bool {
	defer func() { recover() }()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *browserClient) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub fans Events out to every connected browser over WebSocket,
// mirroring the retrieval pack's dashboard Hub but scoped to the
// browser-push half of it (C4/C5 own agent state; the hub only
// notifies).
type Hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*browserClient]struct{}

	register   chan *browserClient
	unregister chan *browserClient
	broadcast  chan []byte
	done       chan struct{}
}

// NewHub builds a running Hub.
func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		log:        log.With().Str("component", "api.hub").Logger(),
		clients:    make(map[*browserClient]struct{}),
		register:   make(chan *browserClient),
		unregister: make(chan *browserClient),
		broadcast:  make(chan []byte, wsSendQueueLength),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			c.close()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.safeSend(msg) {
					h.log.Debug().Msg("dropping message to slow browser client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish fans out an Event to every connected browser.
func (h *Hub) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn().Msg("broadcast queue full, dropping event")
	}
}

// Close stops the hub's run loop.
func (h *Hub) Close() {
	close(h.done)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &browserClient{conn: conn, send: make(chan []byte, wsSendQueueLength)}
	s.hub.register <- client

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) writePump(c *browserClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains and discards browser-originated frames; browsers
// only consume this channel, they never publish commands over it.
func (s *Server) readPump(c *browserClient) {
	defer func() {
		s.hub.unregister <- c
		_ = c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
