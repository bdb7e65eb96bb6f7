package presence

import (
	"log"
	"strings"

	"github.com/admitly/chat-core/internal/metrics"
	"github.com/admitly/chat-core/internal/protocol"
)

// Fanout pushes server events to user and conversation rooms. Emission is
// fire-and-forget: failures are logged and never surface to the caller.
type Fanout interface {
	EmitToUser(userID, event string, payload interface{})
	EmitToUsers(userIDs []string, event string, payload interface{})
	EmitToConversation(conversationID, event string, payload interface{})
}

// Nop is a Fanout that drops every event. Services use it when no realtime
// layer is attached.
type Nop struct{}

func (Nop) EmitToUser(string, string, interface{})         {}
func (Nop) EmitToUsers([]string, string, interface{})      {}
func (Nop) EmitToConversation(string, string, interface{}) {}

// Bus carries encoded frames to every instance that may hold members of a
// room.
type Bus interface {
	Publish(room string, frame []byte) error
}

// LocalBus delivers straight into a Hub. It is the bus for single-instance
// deployments.
type LocalBus struct {
	Hub *Hub
}

// Publish delivers frame to the local members of room.
func (b LocalBus) Publish(room string, frame []byte) error {
	b.Hub.Deliver(room, frame)
	return nil
}

// Broadcaster implements Fanout on top of a Bus.
type Broadcaster struct {
	bus Bus
}

// NewBroadcaster creates a Broadcaster. A nil bus drops all events.
func NewBroadcaster(bus Bus) *Broadcaster {
	return &Broadcaster{bus: bus}
}

// EmitToUser sends an event to every connection of userID.
func (b *Broadcaster) EmitToUser(userID, event string, payload interface{}) {
	if userID == "" {
		return
	}
	b.emit([]string{UserRoom(userID)}, event, payload)
}

// EmitToUsers sends one event to the personal rooms of the given users.
// Each user receives it once even if listed more than once.
func (b *Broadcaster) EmitToUsers(userIDs []string, event string, payload interface{}) {
	ids := Unique(userIDs)
	rooms := make([]string, len(ids))
	for i, id := range ids {
		rooms[i] = UserRoom(id)
	}
	b.emit(rooms, event, payload)
}

// EmitToConversation sends an event to the conversation's room.
func (b *Broadcaster) EmitToConversation(conversationID, event string, payload interface{}) {
	if conversationID == "" {
		return
	}
	b.emit([]string{ConversationRoom(conversationID)}, event, payload)
}

func (b *Broadcaster) emit(rooms []string, event string, payload interface{}) {
	if b == nil || b.bus == nil || len(rooms) == 0 {
		return
	}
	frame, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("presence: encode %s: %v", event, err)
		return
	}
	for _, room := range rooms {
		if err := b.bus.Publish(room, frame); err != nil {
			log.Printf("presence: publish %s to %s: %v", event, room, err)
			continue
		}
		metrics.FanoutTotal.WithLabelValues(roomKind(room), event).Inc()
	}
}

func roomKind(room string) string {
	if strings.HasPrefix(room, conversationRoomPrefix) {
		return "conversation"
	}
	return "user"
}
