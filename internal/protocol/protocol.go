// Package protocol defines the realtime event protocol between chat clients
// and the server.
package protocol

import (
	"encoding/json"

	"verseroom/internal/document"
)

// Events from client to server.
const (
	EventMessageSend = "message"
	EventTyping      = "typing"
)

// Events from server to client.
const (
	EventHistory     = "messages"
	EventPresence    = "users"
	EventMessage     = "message"
	EventUserTyping  = "userTyping"
	EventAck         = "ack"
	EventError       = "error"
)

// Envelope carries every event on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Ts      int64           `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendPayload is a client-composed outbound message. AckID, when set, asks the
// server to answer with an AckPayload carrying the same id.
type SendPayload struct {
	Content  string               `json:"content"`
	UserID   string               `json:"userId"`
	Username string               `json:"username"`
	Type     string               `json:"type,omitempty"`
	Tokens   *document.TokenUsage `json:"tokens,omitempty"`
	AckID    string               `json:"ackId,omitempty"`
}

type TypingPayload struct {
	ID       string `json:"id"`
	IsTyping bool   `json:"isTyping"`
}

type AckPayload struct {
	AckID   string `json:"ackId"`
	Success bool   `json:"success"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeLedgerFailure  = "ledger_failure"
)

func Marshal(event string, ts int64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Ts: ts, Payload: raw})
}
