// Package presence keeps track of who is connected where. The Hub maps rooms
// to local connections, the Broadcaster turns application events into room
// frames, and the Tracker records per-user online state in Redis.
//
// Two room kinds exist: a personal room per user, joined by every connection
// of that user, and a room per conversation, joined by participants.
package presence

import (
	"log"
	"sort"
	"sync"

	"github.com/admitly/chat-core/internal/metrics"
)

const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
)

// UserRoom returns the personal room name for userID.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// ConversationRoom returns the room name for conversationID.
func ConversationRoom(conversationID string) string {
	return conversationRoomPrefix + conversationID
}

// Unique returns ids with duplicates and empty strings removed, preserving
// first-seen order.
func Unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Member is a local connection that can be placed in rooms.
type Member interface {
	ConnID() string
	Send(frame []byte) error
}

// Hub is a thread-safe room registry for connections on this instance.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Member // room -> connID -> member
	byConn map[string]map[string]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]Member),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds m to each of the given rooms. Joining a room twice is a no-op.
func (h *Hub) Join(m Member, rooms ...string) {
	id := m.ConnID()

	h.mu.Lock()
	joined := h.byConn[id]
	if joined == nil {
		joined = make(map[string]struct{})
		h.byConn[id] = joined
	}
	for _, room := range rooms {
		members := h.rooms[room]
		if members == nil {
			members = make(map[string]Member)
			h.rooms[room] = members
		}
		members[id] = m
		joined[room] = struct{}{}
	}
	n := len(h.rooms)
	h.mu.Unlock()

	metrics.RoomsActive.Set(float64(n))
}

// LeaveAll removes the connection from every room it joined.
func (h *Hub) LeaveAll(connID string) {
	h.mu.Lock()
	for room := range h.byConn[connID] {
		h.removeLocked(connID, room)
	}
	delete(h.byConn, connID)
	n := len(h.rooms)
	h.mu.Unlock()

	metrics.RoomsActive.Set(float64(n))
}

func (h *Hub) removeLocked(connID, room string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Rooms returns the sorted rooms the connection belongs to.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.byConn[connID]))
	for room := range h.byConn[connID] {
		out = append(out, room)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Members returns a snapshot of the room's members.
func (h *Hub) Members(room string) []Member {
	h.mu.RLock()
	out := make([]Member, 0, len(h.rooms[room]))
	for _, m := range h.rooms[room] {
		out = append(out, m)
	}
	h.mu.RUnlock()
	return out
}

// Deliver writes frame to every local member of room. Write failures are
// logged; the heartbeat reaps broken connections. It returns the number of
// members the frame was written to.
func (h *Hub) Deliver(room string, frame []byte) int {
	sent := 0
	for _, m := range h.Members(room) {
		if err := m.Send(frame); err != nil {
			log.Printf("presence: deliver room=%s conn=%s: %v", room, m.ConnID(), err)
			continue
		}
		sent++
	}
	return sent
}
