package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/mapprovider"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 20 * time.Second
	// maxMessage bounds client uploads; frames arrive as base64 PNG.
	maxMessage = 16 << 20
)

// ErrHubClosed is returned by Send after the hub is closed.
var ErrHubClosed = eris.New("server: hub closed")

// EventHandler consumes raw events read from a map client.
type EventHandler interface {
	HandleClientEvent(ctx context.Context, raw []byte) error
}

// Hub is a session's command sink. Commands fan out to every connected map
// client; while none is connected they queue, up to the backlog size, and
// are flushed to the next client that connects.
type Hub struct {
	id      string
	backlog int

	mu      sync.Mutex
	clients map[*client]struct{}
	pending [][]byte
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a hub for session id.
func NewHub(id string, backlog int) *Hub {
	if backlog <= 0 {
		backlog = 256
	}
	return &Hub{id: id, backlog: backlog, clients: make(map[*client]struct{})}
}

// Send delivers cmd to connected clients or queues it.
func (h *Hub) Send(_ context.Context, cmd mapprovider.Command) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return eris.Wrapf(err, "server: encode %s", cmd.Op)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if len(h.clients) == 0 {
		h.pending = append(h.pending, raw)
		if over := len(h.pending) - h.backlog; over > 0 {
			h.pending = h.pending[over:]
		}
		return nil
	}
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			zap.L().Warn("server: map client too slow, disconnecting", zap.String("session", h.id))
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Pending returns the number of queued commands.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Close disconnects every client and rejects further commands.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
	}
	h.clients = map[*client]struct{}{}
	h.pending = nil
}

// Serve runs a connected client until it disconnects, the hub closes or
// ctx ends. Events read from the client go to handler.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, handler EventHandler) {
	c, err := h.attach(conn)
	if err != nil {
		conn.Close()
		return
	}
	log := zap.L().With(zap.String("session", h.id))
	log.Info("server: map client connected")

	go h.writePump(c, log)
	h.readPump(ctx, c, handler, log)

	h.detach(c)
	c.close()
	log.Info("server: map client disconnected")
}

func (h *Hub) attach(conn *websocket.Conn) (*client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, h.backlog+64),
		done: make(chan struct{}),
	}
	for _, raw := range h.pending {
		c.send <- raw
	}
	h.pending = nil
	h.clients[c] = struct{}{}
	return c, nil
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) readPump(ctx context.Context, c *client, handler EventHandler, log *zap.Logger) {
	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Unblock ReadMessage when the hub or server shuts the client down.
	go func() {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
		c.conn.Close()
	}()

	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("server: map client read failed", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		if kind != websocket.TextMessage {
			continue
		}
		if err := handler.HandleClientEvent(ctx, msg); err != nil {
			log.Debug("server: client event rejected", zap.Error(err))
		}
	}
}

func (h *Hub) writePump(c *client, log *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(writeWait)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case raw := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Debug("server: map client write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug("server: map client ping failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}
