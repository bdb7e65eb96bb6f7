// Package gateway is the connection-scoped realtime protocol. An
// authenticated connection joins its personal room and every conversation
// room of its user, then sends conversation:join, message:new and
// message:read events. Every event failure is reported through the
// acknowledgement and never closes the connection.
package gateway

import (
	"context"
	"log"
	"time"

	"github.com/admitly/chat-core/internal/apperr"
	"github.com/admitly/chat-core/internal/chat"
	"github.com/admitly/chat-core/internal/identity"
	"github.com/admitly/chat-core/internal/metrics"
	"github.com/admitly/chat-core/internal/notification"
	"github.com/admitly/chat-core/internal/presence"
	"github.com/admitly/chat-core/internal/protocol"
	"github.com/admitly/chat-core/internal/ratelimit"
	"github.com/admitly/chat-core/internal/ws"
)

// Client is an authenticated connection.
type Client interface {
	ConnID() string
	Identity() identity.Identity
	Send(frame []byte) error
}

// Tracker records connection counts per user.
type Tracker interface {
	Connected(ctx context.Context, userID string) error
	Disconnected(ctx context.Context, userID string) error
}

// Gateway wires realtime events to the chat and notification services.
type Gateway struct {
	chats   *chat.Service
	notes   *notification.Service
	hub     *presence.Hub
	fanout  presence.Fanout
	tracker Tracker
	limiter *ratelimit.Limiter
	timeout time.Duration
}

// Option configures optional Gateway collaborators.
type Option func(*Gateway)

// WithTracker records online state per user.
func WithTracker(t Tracker) Option { return func(g *Gateway) { g.tracker = t } }

// WithLimiter throttles message:new per user.
func WithLimiter(l *ratelimit.Limiter) Option { return func(g *Gateway) { g.limiter = l } }

// New creates a Gateway. fanout is where conversation events are published;
// hub holds this instance's room memberships.
func New(chats *chat.Service, notes *notification.Service, hub *presence.Hub, fanout presence.Fanout, opts ...Option) *Gateway {
	if fanout == nil {
		fanout = presence.Nop{}
	}
	g := &Gateway{
		chats:   chats,
		notes:   notes,
		hub:     hub,
		fanout:  fanout,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Attach registers the gateway's connect/disconnect hooks and event handlers
// on the server and dispatcher.
func (g *Gateway) Attach(srv *ws.Server, d *ws.MessageDispatcher) {
	srv.SetOnConnect(func(c *ws.Connection) { g.Connect(c) })
	srv.SetOnDisconnect(func(c *ws.Connection) { g.Disconnect(c) })

	d.Register(protocol.TypeConversationJoin, func(c *ws.Connection, ack string, msg interface{}) {
		g.HandleJoin(c, ack, msg.(protocol.ConversationJoinMsg))
	})
	d.Register(protocol.TypeMessageNew, func(c *ws.Connection, ack string, msg interface{}) {
		g.HandleMessageNew(c, ack, msg.(protocol.MessageNewMsg))
	})
	d.Register(protocol.TypeMessageRead, func(c *ws.Connection, ack string, msg interface{}) {
		g.HandleMessageRead(c, ack, msg.(protocol.MessageReadMsg))
	})
}

func (g *Gateway) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

// Connect joins the personal room and every conversation room of the user,
// computed once, and greets the client.
func (g *Gateway) Connect(c Client) {
	ctx, cancel := g.context()
	defer cancel()

	userID := c.Identity().UserID
	rooms := []string{presence.UserRoom(userID)}

	ids, err := g.chats.ConversationIDsForUser(ctx, userID)
	if err != nil {
		log.Printf("gateway: conversation rooms user=%s: %v", userID, err)
	}
	for _, id := range ids {
		rooms = append(rooms, presence.ConversationRoom(id))
	}
	g.hub.Join(c, rooms...)

	if g.tracker != nil {
		if err := g.tracker.Connected(ctx, userID); err != nil {
			log.Printf("gateway: presence connected user=%s: %v", userID, err)
		}
	}

	g.send(c, protocol.TypeConnected, protocol.ConnectedMsg{
		ConnectionID: c.ConnID(),
		UserID:       userID,
		Rooms:        len(g.hub.Rooms(c.ConnID())),
	})
}

// Disconnect drops the connection from every room and updates presence.
func (g *Gateway) Disconnect(c Client) {
	g.hub.LeaveAll(c.ConnID())

	if g.tracker == nil {
		return
	}
	ctx, cancel := g.context()
	defer cancel()
	if err := g.tracker.Disconnected(ctx, c.Identity().UserID); err != nil {
		log.Printf("gateway: presence disconnected user=%s: %v", c.Identity().UserID, err)
	}
}

// HandleJoin subscribes the connection to a conversation it takes part in.
// It covers conversations started after the connection joined.
func (g *Gateway) HandleJoin(c Client, ack string, msg protocol.ConversationJoinMsg) {
	ctx, cancel := g.context()
	defer cancel()

	conv, err := g.chats.GetForParticipant(ctx, msg.ConversationID, c.Identity().UserID)
	if err != nil {
		g.fail(c, ack, protocol.TypeConversationJoin, err)
		return
	}
	g.hub.Join(c, presence.ConversationRoom(conv.ID))
	g.ok(c, ack, nil)
}

// HandleMessageNew appends a message, publishes it to the conversation room
// and notifies the other participant.
func (g *Gateway) HandleMessageNew(c Client, ack string, msg protocol.MessageNewMsg) {
	ctx, cancel := g.context()
	defer cancel()

	userID := c.Identity().UserID
	if ok, _ := g.limiter.Allow(ctx, userID, ratelimit.RuleMessage); !ok {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		g.ack(c, ack, protocol.AckPayload{OK: false, Message: "rate limited"})
		return
	}

	m, conv, err := g.chats.Append(ctx, msg.ConversationID, userID, msg.Text, msg.Attachments)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		g.fail(c, ack, protocol.TypeMessageNew, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("appended").Inc()

	g.fanout.EmitToConversation(conv.ID, protocol.TypeMessageNew, m)
	g.notes.NotifyParticipants(ctx, conv.Others(userID), m.ID)

	g.ok(c, ack, m)
}

// HandleMessageRead marks a message read and publishes the receipt. A sender
// reading their own message gets the unchanged message and no receipt.
func (g *Gateway) HandleMessageRead(c Client, ack string, msg protocol.MessageReadMsg) {
	ctx, cancel := g.context()
	defer cancel()

	userID := c.Identity().UserID
	m, applied, err := g.chats.MarkRead(ctx, msg.ConversationID, msg.MessageID, userID)
	if err != nil {
		g.fail(c, ack, protocol.TypeMessageRead, err)
		return
	}

	if applied {
		metrics.MessagesTotal.WithLabelValues("read").Inc()
		g.fanout.EmitToConversation(m.ConversationID, protocol.TypeMessageRead, protocol.ReadReceiptMsg{
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			ReadBy:         userID,
		})
	}
	g.ok(c, ack, m)
}

func (g *Gateway) ok(c Client, ack string, message interface{}) {
	g.ack(c, ack, protocol.AckPayload{OK: true, Message: message})
}

// fail reports err through the ack. Errors without a domain kind are
// logged here; the client only sees the generic text.
func (g *Gateway) fail(c Client, ack, event string, err error) {
	if apperr.KindOf(err) == nil {
		log.Printf("gateway: %s conn=%s user=%s: %v", event, c.ConnID(), c.Identity().UserID, err)
	}
	g.ack(c, ack, protocol.AckPayload{OK: false, Message: apperr.Message(err)})
}

func (g *Gateway) ack(c Client, ack string, payload protocol.AckPayload) {
	if ack == "" {
		return
	}
	data, err := protocol.NewAck(ack, payload)
	if err != nil {
		log.Printf("gateway: build ack conn=%s: %v", c.ConnID(), err)
		return
	}
	if err := c.Send(data); err != nil {
		log.Printf("gateway: send ack conn=%s: %v", c.ConnID(), err)
	}
}

func (g *Gateway) send(c Client, event string, payload interface{}) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("gateway: build %s conn=%s: %v", event, c.ConnID(), err)
		return
	}
	if err := c.Send(data); err != nil {
		log.Printf("gateway: send %s conn=%s: %v", event, c.ConnID(), err)
	}
}
