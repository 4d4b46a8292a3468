// Package chatclient implements the room-side message pipeline used by client
// frontends: a realtime connection, an ordered local message list, thinking
// placeholders, and the directive-to-bot workflow.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"verseroom/internal/document"
	"verseroom/internal/protocol"
)

// Generator produces bot replies for directive messages, typically over the
// REST surface.
type Generator interface {
	Ask(ctx context.Context, message string) (string, *document.TokenUsage, error)
	AskPoem(ctx context.Context, message string) (string, *document.TokenUsage, error)
}

type Config struct {
	// ServerURL is the ws:// or wss:// base of the chat server.
	ServerURL string
	Identity  document.Identity
	Generator Generator
	Logger    zerolog.Logger

	// OnChange fires after every state mutation, with the display-ordered
	// message list (placeholders included).
	OnChange func(messages []Item)

	HandshakeTimeout time.Duration
}

// Item is one row of the local message list. Placeholder rows exist only on
// this client and are never sent to the server.
type Item struct {
	document.Message
	Placeholder bool `json:"placeholder,omitempty"`
}

type Client struct {
	cfg  Config
	conn *websocket.Conn

	// writeMu serializes socket writes; the bot workflow publishes from its
	// own goroutine.
	writeMu sync.Mutex

	mu           sync.Mutex
	messages     []Item
	placeholders map[string]struct{}
	presence     []document.PresenceEntry
	typing       map[string]bool
	ackSeq       int64

	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		cfg:          cfg,
		placeholders: make(map[string]struct{}),
		typing:       make(map[string]bool),
		done:         make(chan struct{}),
	}
}

// Connect dials the server and starts the read loop. The identity travels in
// the query string; the server rejects connections without one.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("userId", c.cfg.Identity.ID)
	q.Set("username", c.cfg.Identity.Username)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial chat server: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	return nil
}

// Close is safe to call more than once; the read loop and the owner may both
// tear the client down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done closes when the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.cfg.Logger.Debug().Err(err).Msg("read loop ended")
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.cfg.Logger.Warn().Err(err).Msg("malformed event")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventHistory:
		var msgs []document.Message
		if err := json.Unmarshal(env.Payload, &msgs); err != nil {
			return
		}
		c.setHistory(msgs)

	case protocol.EventMessage:
		var msg document.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return
		}
		c.addMessage(msg)

	case protocol.EventPresence:
		var entries []document.PresenceEntry
		if err := json.Unmarshal(env.Payload, &entries); err != nil {
			return
		}
		c.mu.Lock()
		c.presence = entries
		c.mu.Unlock()

	case protocol.EventUserTyping:
		var p protocol.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		c.mu.Lock()
		if p.IsTyping {
			c.typing[p.ID] = true
		} else {
			delete(c.typing, p.ID)
		}
		c.mu.Unlock()
	}
}

// setHistory replaces the local list with the server's, keeping any live
// placeholders at the tail.
func (c *Client) setHistory(msgs []document.Message) {
	c.mu.Lock()
	items := make([]Item, 0, len(msgs)+len(c.placeholders))
	for _, m := range msgs {
		items = append(items, Item{Message: m})
	}
	for _, it := range c.messages {
		if it.Placeholder {
			if _, live := c.placeholders[it.ID]; live {
				items = append(items, it)
			}
		}
	}
	c.messages = items
	c.resortLocked()
	c.mu.Unlock()
	c.notify()
}

// addMessage inserts an incoming message unless it is already present, then
// re-sorts by timestamp so out-of-order arrivals settle into place.
func (c *Client) addMessage(msg document.Message) {
	c.mu.Lock()
	for _, it := range c.messages {
		if !it.Placeholder && it.ID == msg.ID {
			c.mu.Unlock()
			return
		}
	}
	c.messages = append(c.messages, Item{Message: msg})
	c.resortLocked()
	c.mu.Unlock()
	c.notify()
}

func (c *Client) resortLocked() {
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].Timestamp < c.messages[j].Timestamp
	})
}

func (c *Client) notify() {
	if c.cfg.OnChange == nil {
		return
	}
	c.cfg.OnChange(c.Messages())
}

// Messages returns the display-ordered local list, placeholders included.
func (c *Client) Messages() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.messages))
	copy(out, c.messages)
	return out
}

// Presence returns the last presence snapshot, with live typing flags merged.
func (c *Client) Presence() []document.PresenceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]document.PresenceEntry, len(c.presence))
	copy(out, c.presence)
	for i := range out {
		out[i].IsTyping = c.typing[out[i].ID]
	}
	return out
}

// IsSelf reports whether a message was sent by this client's identity. The
// comparison is by id, never by display name.
func (c *Client) IsSelf(msg document.Message) bool {
	return msg.UserID == c.cfg.Identity.ID
}

// SetTyping publishes this client's typing state.
func (c *Client) SetTyping(isTyping bool) error {
	return c.sendEvent(protocol.EventTyping, protocol.TypingPayload{
		ID:       c.cfg.Identity.ID,
		IsTyping: isTyping,
	})
}

func (c *Client) sendEvent(event string, payload any) error {
	data, err := protocol.Marshal(event, time.Now().UnixMilli(), payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) nextAckID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackSeq++
	return c.cfg.Identity.ID + "-" + strconv.FormatInt(c.ackSeq, 10)
}
