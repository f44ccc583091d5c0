package ws

import (
	"encoding/json"

	"github.com/assistant-relay/backend/internal/engine"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeMessage MessageType = "message"
	MessageTypePing    MessageType = "ping"

	// Server -> Client message types
	MessageTypeTextDelta       MessageType = MessageType(engine.KindTextDelta)
	MessageTypeToolCallStarted MessageType = MessageType(engine.KindToolCallStarted)
	MessageTypeToolCallDelta   MessageType = MessageType(engine.KindToolCallDelta)
	MessageTypeToolOutputLog   MessageType = MessageType(engine.KindToolOutputLog)
	MessageTypeTurnEnd         MessageType = "turn_end"
	MessageTypePong            MessageType = "pong"
	MessageTypeError           MessageType = "error"
)

// Message represents a WebSocket message.
type Message struct {
	Type  MessageType `json:"type"`
	Data  string      `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// FragmentMessage wraps an engine fragment for the wire.
func FragmentMessage(f engine.Fragment) *Message {
	return &Message{Type: MessageType(f.Kind), Data: f.Data}
}

// ErrorMessage builds the error notice sent to a peer before its connection
// is closed.
func ErrorMessage(err error) *Message {
	return &Message{Type: MessageTypeError, Error: "Error: " + err.Error()}
}

// ParseInbound decodes a client frame. Frames that are not a JSON envelope
// are taken as a plain user message.
func ParseInbound(raw []byte) Message {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		return Message{Type: MessageTypeMessage, Data: string(raw)}
	}
	return msg
}
