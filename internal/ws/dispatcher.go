package ws

import (
	"errors"
	"log"
	"time"

	"github.com/admitly/chat-core/internal/metrics"
	"github.com/admitly/chat-core/internal/protocol"
)

// MessageHandler handles one parsed client event. ack is the client's
// acknowledgement id, empty when the client did not ask for one. msg is the
// concrete struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, ack string, msg interface{})

// MessageDispatcher routes incoming frames to registered handlers by event
// type. It answers ping itself and reports malformed or unsupported frames to
// the client without closing the connection.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{handlers: make(map[string]MessageHandler)}
}

// Register associates a handler with an event type, replacing any previous
// one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	env, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		metrics.EventsTotal.WithLabelValues("invalid").Inc()
		switch {
		case errors.Is(err, protocol.ErrUnknownType):
			d.reject(conn, env.Ack, "unsupported_type", "unsupported message type")
		case env.Type != "":
			d.reject(conn, env.Ack, "parse_error", "invalid message payload")
		default:
			d.reject(conn, env.Ack, "parse_error", "invalid message format")
		}
		return
	}

	metrics.EventsTotal.WithLabelValues(env.Type).Inc()

	if env.Type == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[env.Type]
	if !ok {
		log.Printf("ws: unsupported message type=%q conn=%s", env.Type, conn.ID)
		d.reject(conn, env.Ack, "unsupported_type", "unsupported message type")
		return
	}

	start := time.Now()
	handler(conn, env.Ack, msg)
	metrics.EventLatency.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
}

// reject answers a frame that could not be routed: as a failed ack when the
// client supplied an ack id, otherwise as an error event.
func (d *MessageDispatcher) reject(conn *Connection, ack, code, message string) {
	var (
		data []byte
		err  error
	)
	if ack != "" {
		data, err = protocol.NewAck(ack, protocol.AckPayload{OK: false, Message: message})
	} else {
		data, err = protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
	}
	if err != nil {
		log.Printf("ws: failed to build error message conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.Send(data); err != nil {
		log.Printf("ws: failed to send error message conn=%s: %v", conn.ID, err)
	}
}

// sendPong responds to a client ping with a pong event.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("ws: failed to build pong message conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.Send(data); err != nil {
		log.Printf("ws: failed to send pong message conn=%s: %v", conn.ID, err)
	}
}
