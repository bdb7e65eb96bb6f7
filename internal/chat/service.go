package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/admitly/chat-core/internal/pagination"
)

// Eligibility decides whether two users may start a conversation.
type Eligibility interface {
	CanMessage(ctx context.Context, userA, userB string) (bool, error)
}

// Service implements the conversation and message operations on top of a
// Store.
type Service struct {
	store Store
	gate  Eligibility
}

// NewService creates a Service.
func NewService(store Store, gate Eligibility) *Service {
	return &Service{store: store, gate: gate}
}

// StartOrGet returns the conversation between a and b, creating it when the
// pair is eligible and has none yet. relatedApplication is only recorded on
// creation.
func (s *Service) StartOrGet(ctx context.Context, a, b, relatedApplication string) (*Conversation, bool, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if b == "" {
		return nil, false, ErrMissingParticipant
	}
	if a == b {
		return nil, false, ErrSelfConversation
	}

	ok, err := s.gate.CanMessage(ctx, a, b)
	if err != nil {
		return nil, false, fmt.Errorf("chat: eligibility: %w", err)
	}
	if !ok {
		return nil, false, ErrNotEligible
	}

	return s.store.FindOrCreate(ctx, uuid.NewString(), Pair(a, b), strings.TrimSpace(relatedApplication))
}

// ListForUser returns the user's conversations, most recently active first.
func (s *Service) ListForUser(ctx context.Context, userID string, p pagination.Params) (pagination.Page[Conversation], error) {
	items, total, err := s.store.ConversationsFor(ctx, userID, p.Limit, p.Offset())
	if err != nil {
		return pagination.Page[Conversation]{}, err
	}
	return pagination.NewPage(items, p, total), nil
}

// ConversationIDsForUser returns every conversation id the user takes part in.
func (s *Service) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.store.ConversationIDsFor(ctx, userID)
}

// Get returns the conversation or ErrConversationMissing.
func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	c, err := s.store.Conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrConversationMissing
	}
	return c, nil
}

// AssertParticipant fails with ErrNotParticipant unless userID belongs to c.
func AssertParticipant(c *Conversation, userID string) error {
	if c == nil || !c.HasParticipant(userID) {
		return ErrNotParticipant
	}
	return nil
}

// GetForParticipant loads the conversation and checks that userID is in it.
func (s *Service) GetForParticipant(ctx context.Context, id, userID string) (*Conversation, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := AssertParticipant(c, userID); err != nil {
		return nil, err
	}
	return c, nil
}

// Append adds a message from senderID. The conversation's updatedAt moves
// forward in the same write.
func (s *Service) Append(ctx context.Context, conversationID, senderID, text string, attachments []string) (*Message, *Conversation, error) {
	text, err := NormalizeText(text)
	if err != nil {
		return nil, nil, err
	}
	refs, err := NormalizeAttachments(attachments)
	if err != nil {
		return nil, nil, err
	}

	var conv Conversation
	m, err := s.store.AppendMessage(ctx, Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         senderID,
		Text:           text,
		Attachments:    refs,
	}, func(c *Conversation) error {
		conv = *c
		return AssertParticipant(c, senderID)
	})
	if err != nil {
		return nil, nil, err
	}
	conv.UpdatedAt = m.CreatedAt
	return m, &conv, nil
}

// ListForConversation returns a page of messages, newest first.
func (s *Service) ListForConversation(ctx context.Context, conversationID string, p pagination.Params) (pagination.Page[Message], error) {
	items, total, err := s.store.Messages(ctx, conversationID, p.Limit, p.Offset())
	if err != nil {
		return pagination.Page[Message]{}, err
	}
	return pagination.NewPage(items, p, total), nil
}

// MarkRead marks a message read on behalf of readerID. When the reader is the
// sender nothing changes and applied is false.
func (s *Service) MarkRead(ctx context.Context, conversationID, messageID, readerID string) (m *Message, applied bool, err error) {
	c, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if err := AssertParticipant(c, readerID); err != nil {
		return nil, false, err
	}

	m, err = s.store.Message(ctx, conversationID, messageID)
	if err != nil {
		return nil, false, err
	}
	if m == nil {
		return nil, false, ErrMessageMissing
	}
	if m.Sender == readerID {
		return m, false, nil
	}
	if m.IsRead {
		return m, true, nil
	}

	m, err = s.store.MarkMessageRead(ctx, conversationID, messageID)
	if err != nil {
		return nil, false, err
	}
	if m == nil {
		return nil, false, ErrMessageMissing
	}
	return m, true, nil
}
