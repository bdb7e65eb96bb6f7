// Package messaging provides a NATS client wrapper for pub/sub between chat
// core instances and the surrounding services. It carries room frames across
// instances and receives application events from the CRUD services.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/admitly/chat-core/internal/presence"
)

// NATS subjects used by the chat core.
const (
	SubjectRooms = "rooms" // + .<room>

	SubjectApplicationCreated = "events.application.created"
	SubjectApplicationUpdated = "events.application.updated"
	SubjectAccessRequested    = "events.access_request.created"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chat-core",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[subject]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeSubject subscribes handler to the raw payloads of subject.
func (c *NATSClient) SubscribeSubject(subject string, handler func(data []byte)) error {
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Unsubscribe removes the subscription for subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Flush waits until the server has processed everything sent so far.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// RoomSubject returns the subject that carries frames for room.
func RoomSubject(room string) string {
	return SubjectRooms + "." + room
}

// RoomFromSubject is the inverse of RoomSubject.
func RoomFromSubject(subject string) (string, bool) {
	room := strings.TrimPrefix(subject, SubjectRooms+".")
	if room == subject || room == "" {
		return "", false
	}
	return room, true
}

// RoomBus is a presence.Bus that publishes room frames on NATS so every
// instance can deliver them to its own members.
type RoomBus struct {
	client *NATSClient
}

// NewRoomBus creates a RoomBus on client.
func NewRoomBus(client *NATSClient) *RoomBus {
	return &RoomBus{client: client}
}

// Publish sends frame to all instances subscribed to room.
func (b *RoomBus) Publish(room string, frame []byte) error {
	if err := b.client.Publish(RoomSubject(room), frame); err != nil {
		return fmt.Errorf("nats publish room %s: %w", room, err)
	}
	return nil
}

// Attach subscribes to every room subject and delivers frames to the local
// hub.
func (b *RoomBus) Attach(hub *presence.Hub) error {
	return b.client.Subscribe(SubjectRooms+".>", func(msg *nats.Msg) {
		room, ok := RoomFromSubject(msg.Subject)
		if !ok {
			return
		}
		hub.Deliver(room, msg.Data)
	})
}
