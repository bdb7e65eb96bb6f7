// Package chat owns conversations and their messages. A conversation joins
// exactly two users, identified by their canonical sorted pair; at most one
// conversation exists per pair. Messages are an append-only log per
// conversation whose only mutable field is the read flag.
package chat

import (
	"context"
	"time"

	"github.com/admitly/chat-core/internal/apperr"
)

// Conversation is a two-party chat.
type Conversation struct {
	ID                 string    `json:"id"`
	Participants       [2]string `json:"participants"`
	RelatedApplication string    `json:"relatedApplication,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Others returns the participants other than userID.
func (c *Conversation) Others(userID string) []string {
	out := make([]string, 0, 1)
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// Message is one entry in a conversation's log.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	Attachments    []string  `json:"attachments"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
}

var (
	ErrSelfConversation    = apperr.New(apperr.ErrInvalidRequest, "cannot start a conversation with yourself")
	ErrMissingParticipant  = apperr.New(apperr.ErrInvalidRequest, "participantUserId is required")
	ErrNotEligible         = apperr.New(apperr.ErrForbidden, "you are not allowed to message this user")
	ErrNotParticipant      = apperr.New(apperr.ErrForbidden, "not a participant of this conversation")
	ErrConversationMissing = apperr.New(apperr.ErrNotFound, "conversation not found")
	ErrMessageMissing      = apperr.New(apperr.ErrNotFound, "message not found")
)

// Pair returns a and b in canonical (sorted) order.
func Pair(a, b string) [2]string {
	if b < a {
		return [2]string{b, a}
	}
	return [2]string{a, b}
}

// Store persists conversations and messages.
//
// Lookups return nil with no error when the row does not exist.
type Store interface {
	// FindOrCreate atomically returns the conversation for pair, creating
	// it with the given id and related application when absent. created
	// reports whether this call inserted it.
	FindOrCreate(ctx context.Context, id string, pair [2]string, relatedApplication string) (conv *Conversation, created bool, err error)
	Conversation(ctx context.Context, id string) (*Conversation, error)
	ConversationsFor(ctx context.Context, userID string, limit, offset int) ([]Conversation, int, error)
	ConversationIDsFor(ctx context.Context, userID string) ([]string, error)

	// AppendMessage locks the conversation, runs guard against it, bumps
	// updatedAt and inserts m with createdAt set to the new updatedAt. It
	// returns ErrConversationMissing when the conversation is absent and
	// the guard's error unchanged.
	AppendMessage(ctx context.Context, m Message, guard func(*Conversation) error) (*Message, error)
	Message(ctx context.Context, conversationID, messageID string) (*Message, error)
	Messages(ctx context.Context, conversationID string, limit, offset int) ([]Message, int, error)
	MarkMessageRead(ctx context.Context, conversationID, messageID string) (*Message, error)
}
