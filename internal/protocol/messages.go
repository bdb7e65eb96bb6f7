// Package protocol defines the WebSocket event types and structures exchanged
// between chat clients and the realtime gateway. All frames are JSON objects
// with a "type" discriminator. Client frames carry their fields next to it and
// may include an "ack" id. Server frames carry the payload under "data" so a
// record's own fields, "type" included, reach the client unchanged.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeConversationJoin = "conversation:join"
	TypeMessageNew       = "message:new"
	TypeMessageRead      = "message:read"
	TypePing             = "ping"
)

// Server -> Client event types. message:new and message:read are also
// broadcast to conversation rooms under the same names.
const (
	TypeConnected         = "connected"
	TypeNotificationNew   = "notification:new"
	TypeApplicationUpdate = "application:update"
	TypeAck               = "ack"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the event type, the optional acknowledgement id and the raw
// JSON payload for deferred parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Ack  string          `json:"ack,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" and "ack"
// fields so the rest can be decoded later into the concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string          `json:"type"`
		Ack  json.RawMessage `json:"ack"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	e.Ack = ackString(partial.Ack)
	return nil
}

// ackString accepts both string and numeric ack ids.
func ackString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// ConversationJoinMsg subscribes the connection to a conversation room that
// was not part of its initial join set (e.g. a conversation started later).
type ConversationJoinMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// MessageNewMsg appends a message to a conversation.
type MessageNewMsg struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversationId"`
	Text           string   `json:"text"`
	Attachments    []string `json:"attachments,omitempty"`
}

// MessageReadMsg marks a message in a conversation as read.
type MessageReadMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent once the connection has been authenticated and joined
// to its rooms.
type ConnectedMsg struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Rooms        int    `json:"rooms"`
}

// AckPayload is the body of an acknowledgement: {ok:true, message:<record>}
// on success, {ok:false, message:<error text>} on failure.
type AckPayload struct {
	OK      bool        `json:"ok"`
	Message interface{} `json:"message,omitempty"`
}

// AckMsg answers a client event that carried an ack id.
type AckMsg struct {
	Type string     `json:"type"`
	Ack  string     `json:"ack"`
	Data AckPayload `json:"data"`
}

// ReadReceiptMsg is broadcast to a conversation room after message:read.
type ReadReceiptMsg struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ReadBy         string `json:"readBy"`
}

// ApplicationUpdateMsg is sent to both participants' user rooms when an
// application changes status.
type ApplicationUpdateMsg struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	InitiatedBy   string `json:"initiatedBy"`
}

// ErrorMsg is sent for frames that cannot be parsed or routed.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct{}

// ServerMessage is the frame for every server event except acks.
type ServerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ErrUnknownType is returned by ParseClientMessage for event types clients may
// not send. Any other parse error means the frame itself is malformed.
var ErrUnknownType = errors.New("protocol: unknown client message type")

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the envelope (type and ack id), the decoded struct, and any
// error encountered. Unknown or server-only event types are an error; the
// envelope is still returned so the caller can acknowledge the failure.
func ParseClientMessage(data []byte) (Envelope, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeConversationJoin:
		var m ConversationJoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageNew:
		var m MessageNewMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageRead:
		var m MessageReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env, msg, nil
}

// NewServerMessage encodes a server event as {"type": msgType, "data": payload}.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	out, err := json.Marshal(ServerMessage{Type: msgType, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q message: %w", msgType, err)
	}
	return out, nil
}

// NewAck builds an acknowledgement frame for the given ack id.
func NewAck(ackID string, payload AckPayload) ([]byte, error) {
	out, err := json.Marshal(AckMsg{Type: TypeAck, Ack: ackID, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal ack: %w", err)
	}
	return out, nil
}
