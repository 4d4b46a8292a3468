// Package ws exposes the realtime broadcast channel over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"verseroom/internal/document"
	"verseroom/internal/hub"
	"verseroom/internal/ledger"
	"verseroom/internal/metrics"
	"verseroom/internal/presence"
	"verseroom/internal/protocol"
)

type Server struct {
	hub      *hub.Hub
	presence *presence.Tracker
	ledger   *ledger.Ledger
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	readTimeout    time.Duration
	writeTimeout   time.Duration
	pingInterval   time.Duration
	maxMessageSize int64
	sendBuffer     int

	upgrader websocket.Upgrader
}

type Config struct {
	Hub      *hub.Hub
	Presence *presence.Tracker
	Ledger   *ledger.Ledger
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func NewServer(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	return &Server{
		hub:            cfg.Hub,
		presence:       cfg.Presence,
		ledger:         cfg.Ledger,
		logger:         cfg.Logger,
		metrics:        m,
		readTimeout:    cfg.ReadTimeout,
		writeTimeout:   cfg.WriteTimeout,
		pingInterval:   cfg.PingInterval,
		maxMessageSize: cfg.MaxMessageSize,
		sendBuffer:     cfg.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.HandleWebSocket(w, r) }

// HandleWebSocket upgrades the connection, validates the identity carried in
// the query string, and runs the connection lifecycle.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := document.Identity{
		ID:       r.URL.Query().Get("userId"),
		Username: r.URL.Query().Get("username"),
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	// Missing identity: immediate disconnect, no registration, no broadcast.
	if identity.ID == "" || identity.Username == "" {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "identity required"),
			time.Now().Add(s.writeTimeout))
		_ = ws.Close()
		return
	}

	conn := s.hub.NewConnection(ws, identity, s.sendBuffer)
	s.hub.Register(conn)
	ws.SetReadLimit(s.maxMessageSize)

	ctx := context.Background()
	if _, err := s.presence.Connect(ctx, identity, conn.ID); err != nil {
		s.logger.Error().Err(err).Str("user_id", identity.ID).Msg("presence connect failed")
		s.hub.Unregister(conn)
		_ = ws.Close()
		return
	}
	s.metrics.Connections.Inc()
	s.metrics.ActiveConnections.Inc()
	s.logger.Info().Str("user_id", identity.ID).Str("username", identity.Username).Msg("user connected")

	go s.writePump(conn)
	go s.readPump(conn)

	s.pushHistory(ctx, conn)
	s.broadcastPresence()
}

func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		_ = conn.Close()
		s.metrics.ActiveConnections.Dec()

		ctx := context.Background()
		if err := s.presence.Disconnect(ctx, conn.ID); err != nil {
			s.logger.Error().Err(err).Str("conn_id", conn.ID).Msg("presence disconnect failed")
		}
		s.broadcastPresence()
		s.logger.Info().Str("user_id", conn.Identity.ID).Msg("user disconnected")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("websocket read error")
			}
			return
		}
		s.handleEvent(conn, data)
	}
}

func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-conn.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvent dispatches one inbound event. A failure here must only affect
// this connection, never the server.
func (s *Server) handleEvent(conn *hub.Connection, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON event")
		return
	}

	switch env.Event {
	case protocol.EventMessageSend:
		s.handleSend(conn, env.Payload)
	case protocol.EventTyping:
		s.handleTyping(conn, env.Payload)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown event: "+env.Event)
	}
}

func (s *Server) handleSend(conn *hub.Connection, payload json.RawMessage) {
	var msg protocol.SendPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid message payload")
		return
	}

	appended, err := s.ledger.Append(context.Background(), ledger.Draft{
		Content:  msg.Content,
		UserID:   msg.UserID,
		Username: msg.Username,
		Type:     msg.Type,
		Tokens:   msg.Tokens,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", msg.UserID).Msg("append failed")
		s.ack(conn, msg.AckID, false)
		return
	}

	s.ack(conn, msg.AckID, true)
	s.metrics.MessagesBroadcast.Inc()
	s.broadcastEvent(protocol.EventMessage, appended)
}

func (s *Server) handleTyping(conn *hub.Connection, payload json.RawMessage) {
	var typing protocol.TypingPayload
	if err := json.Unmarshal(payload, &typing); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid typing payload")
		return
	}
	s.presence.SetTyping(typing.ID, typing.IsTyping)

	data, err := protocol.Marshal(protocol.EventUserTyping, time.Now().UnixMilli(), typing)
	if err != nil {
		return
	}
	s.hub.BroadcastExcept(conn.ID, data)
}

func (s *Server) pushHistory(ctx context.Context, conn *hub.Connection) {
	history, err := s.ledger.History(ctx, ledger.Filter{})
	if err != nil {
		s.logger.Error().Err(err).Msg("load history failed")
		s.sendError(conn, protocol.ErrorCodeLedgerFailure, "history unavailable")
		return
	}
	data, err := protocol.Marshal(protocol.EventHistory, time.Now().UnixMilli(), history)
	if err != nil {
		return
	}
	if err := s.hub.SendToConnection(conn, data); err != nil {
		s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("history push dropped")
	}
}

func (s *Server) broadcastPresence() {
	data, err := protocol.Marshal(protocol.EventPresence, time.Now().UnixMilli(), s.presence.List())
	if err != nil {
		return
	}
	s.hub.Broadcast(data)
}

func (s *Server) broadcastEvent(event string, payload any) {
	data, err := protocol.Marshal(event, time.Now().UnixMilli(), payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("marshal broadcast failed")
		return
	}
	s.hub.Broadcast(data)
}

func (s *Server) ack(conn *hub.Connection, ackID string, success bool) {
	if ackID == "" {
		return
	}
	data, err := protocol.Marshal(protocol.EventAck, time.Now().UnixMilli(), protocol.AckPayload{
		AckID:   ackID,
		Success: success,
	})
	if err != nil {
		return
	}
	if err := s.hub.SendToConnection(conn, data); err != nil {
		s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("ack dropped")
	}
}

func (s *Server) sendError(conn *hub.Connection, code, message string) {
	data, err := protocol.Marshal(protocol.EventError, time.Now().UnixMilli(), protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	_ = s.hub.SendToConnection(conn, data)
}
