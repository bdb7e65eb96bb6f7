package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for presence hashes.
	KeyPrefix = "presence:"

	// TTL bounds how long a presence hash survives without activity, so a
	// crashed instance cannot leave users online forever.
	TTL = 1 * time.Hour
)

// Status is a user's presence record stored in Redis.
type Status struct {
	UserID      string `redis:"user_id"`
	Server      string `redis:"server"`      // last instance that saw the user
	Connections int64  `redis:"connections"` // open sockets across instances
	LastActive  int64  `redis:"last_active"` // unix timestamp
}

// Online reports whether the user has at least one open connection.
func (s *Status) Online() bool { return s != nil && s.Connections > 0 }

// Tracker records presence and last-activity in Redis.
type Tracker struct {
	client     *redis.Client
	serverName string
}

// NewTracker connects to Redis at addr and verifies the connection.
func NewTracker(addr, serverName string) (*Tracker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return NewTrackerWithClient(client, serverName), nil
}

// NewTrackerWithClient wraps an existing client.
func NewTrackerWithClient(client *redis.Client, serverName string) *Tracker {
	return &Tracker{client: client, serverName: serverName}
}

// Touch records that userID was just active. It satisfies identity.Toucher.
func (t *Tracker) Touch(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	pipe := t.client.Pipeline()
	pipe.HSet(ctx, key, "user_id", userID, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: touch %s: %w", userID, err)
	}
	return nil
}

// Connected increments the user's connection count.
func (t *Tracker) Connected(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	pipe := t.client.Pipeline()
	pipe.HIncrBy(ctx, key, "connections", 1)
	pipe.HSet(ctx, key, "user_id", userID, "server", t.serverName, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: connected %s: %w", userID, err)
	}
	return nil
}

// Disconnected decrements the user's connection count, never below zero.
func (t *Tracker) Disconnected(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	n, err := t.client.HIncrBy(ctx, key, "connections", -1).Result()
	if err != nil {
		return fmt.Errorf("presence: disconnected %s: %w", userID, err)
	}
	fields := []interface{}{"last_active", time.Now().Unix()}
	if n < 0 {
		fields = append(fields, "connections", 0)
	}
	pipe := t.client.Pipeline()
	pipe.HSet(ctx, key, fields...)
	pipe.Expire(ctx, key, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: disconnected %s: %w", userID, err)
	}
	return nil
}

// Get returns the user's presence record, or nil if none exists.
func (t *Tracker) Get(ctx context.Context, userID string) (*Status, error) {
	var st Status
	if err := t.client.HGetAll(ctx, KeyPrefix+userID).Scan(&st); err != nil {
		return nil, fmt.Errorf("presence: get %s: %w", userID, err)
	}
	if st.UserID == "" {
		return nil, nil
	}
	return &st, nil
}

// Close closes the Redis connection.
func (t *Tracker) Close() error {
	return t.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (t *Tracker) Client() *redis.Client {
	return t.client
}
