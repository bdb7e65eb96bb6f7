package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
// A single mutex serialises writes, which gives the same per-conversation
// ordering as the row lock in PostgresStore.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	byPair        map[[2]string]string
	messages      map[string][]*Message // conversation id -> append order
	now           func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		byPair:        make(map[[2]string]string),
		messages:      make(map[string][]*Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// stamp returns a timestamp strictly after prev, at microsecond precision.
func (s *MemoryStore) stamp(prev time.Time) time.Time {
	t := s.now().Truncate(time.Microsecond)
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

func (s *MemoryStore) FindOrCreate(_ context.Context, id string, pair [2]string, relatedApplication string) (*Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byPair[pair]; ok {
		c := *s.conversations[existing]
		return &c, false, nil
	}

	now := s.stamp(time.Time{})
	c := &Conversation{
		ID:                 id,
		Participants:       pair,
		RelatedApplication: relatedApplication,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.conversations[id] = c
	s.byPair[pair] = id
	out := *c
	return &out, true, nil
}

func (s *MemoryStore) Conversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) userConversations(userID string) []Conversation {
	var out []Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *MemoryStore) ConversationsFor(_ context.Context, userID string, limit, offset int) ([]Conversation, int, error) {
	s.mu.RLock()
	all := s.userConversations(userID)
	s.mu.RUnlock()
	return window(all, limit, offset), len(all), nil
}

func (s *MemoryStore) ConversationIDsFor(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	all := s.userConversations(userID)
	s.mu.RUnlock()
	ids := make([]string, len(all))
	for i, c := range all {
		ids[i] = c.ID
	}
	return ids, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m Message, guard func(*Conversation) error) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return nil, ErrConversationMissing
	}
	if guard != nil {
		snapshot := *c
		if err := guard(&snapshot); err != nil {
			return nil, err
		}
	}

	c.UpdatedAt = s.stamp(c.UpdatedAt)
	m.CreatedAt = c.UpdatedAt
	m.IsRead = false
	m.Attachments = append([]string{}, m.Attachments...)

	stored := m
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &stored)
	return copyMessage(&stored), nil
}

func (s *MemoryStore) find(conversationID, messageID string) *Message {
	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func (s *MemoryStore) Message(_ context.Context, conversationID, messageID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.find(conversationID, messageID)
	if m == nil {
		return nil, nil
	}
	return copyMessage(m), nil
}

func (s *MemoryStore) Messages(_ context.Context, conversationID string, limit, offset int) ([]Message, int, error) {
	s.mu.RLock()
	entries := s.messages[conversationID]
	newest := make([]Message, len(entries))
	for i, m := range entries {
		newest[len(entries)-1-i] = *copyMessage(m)
	}
	s.mu.RUnlock()
	return window(newest, limit, offset), len(newest), nil
}

func (s *MemoryStore) MarkMessageRead(_ context.Context, conversationID, messageID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.find(conversationID, messageID)
	if m == nil {
		return nil, nil
	}
	m.IsRead = true
	return copyMessage(m), nil
}

func copyMessage(m *Message) *Message {
	out := *m
	out.Attachments = append([]string{}, m.Attachments...)
	return &out
}

func window[T any](items []T, limit, offset int) []T {
	if offset < 0 || limit <= 0 || offset >= len(items) {
		return []T{}
	}
	if limit > len(items)-offset {
		limit = len(items) - offset
	}
	return items[offset : offset+limit]
}
