// Package hub manages the set of live WebSocket connections and fans events
// out to them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"verseroom/internal/document"
)

var ErrBufferFull = errors.New("send buffer full")

// Connection is a single WebSocket connection carrying one identity.
type Connection struct {
	ID       string
	Identity document.Identity
	Conn     *websocket.Conn
	Send     chan []byte

	mu sync.Mutex
}

type broadcastMessage struct {
	data       []byte
	exceptConn string
}

// Hub serializes membership changes and fan-out through its run loop.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan broadcastMessage

	logger zerolog.Logger
	mu     sync.RWMutex
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan broadcastMessage, 256),
		logger:      logger,
	}
}

// Run starts the hub's main loop and blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.logger.Debug().Str("conn_id", conn.ID).Str("user_id", conn.Identity.ID).Msg("connection registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				close(conn.Send)
			}
			h.mu.Unlock()
			h.logger.Debug().Str("conn_id", conn.ID).Msg("connection unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for id, conn := range h.connections {
				if id == msg.exceptConn {
					continue
				}
				select {
				case conn.Send <- msg.data:
				default:
					h.logger.Warn().Str("conn_id", id).Msg("send buffer full, dropping connection")
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection wraps a raw WebSocket connection; it is not yet registered.
func (h *Hub) NewConnection(ws *websocket.Conn, identity document.Identity, sendBuffer int) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Connection{
		ID:       uuid.New().String(),
		Identity: identity,
		Conn:     ws,
		Send:     make(chan []byte, sendBuffer),
	}
}

func (h *Hub) Register(conn *Connection)   { h.register <- conn }
func (h *Hub) Unregister(conn *Connection) { h.unregister <- conn }

// Broadcast sends data to every registered connection, including the sender.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- broadcastMessage{data: data}
}

// BroadcastExcept sends data to every connection except the named one.
func (h *Hub) BroadcastExcept(connID string, data []byte) {
	h.broadcast <- broadcastMessage{data: data, exceptConn: connID}
}

func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// SendToConnection queues data for one connection without blocking.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (h *Hub) SendJSONToConnection(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// WriteMessage writes to the underlying socket with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Connection) SetWriteDeadline(t time.Time) error { return c.Conn.SetWriteDeadline(t) }
func (c *Connection) SetReadDeadline(t time.Time) error  { return c.Conn.SetReadDeadline(t) }
func (c *Connection) Close() error                       { return c.Conn.Close() }
