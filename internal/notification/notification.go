// Package notification is the per-user durable notification queue. Every
// stored notification is also pushed to the owner's personal room.
package notification

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/admitly/chat-core/internal/apperr"
	"github.com/admitly/chat-core/internal/metrics"
	"github.com/admitly/chat-core/internal/pagination"
	"github.com/admitly/chat-core/internal/presence"
	"github.com/admitly/chat-core/internal/protocol"
)

// Type is the kind of event a notification refers to.
type Type string

const (
	TypeAccessRequest Type = "access_request"
	TypeApplication   Type = "application"
	TypeStatusUpdate  Type = "status_update"
	TypeMessage       Type = "message"
	TypeGeneric       Type = "notification"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeAccessRequest, TypeApplication, TypeStatusUpdate, TypeMessage, TypeGeneric:
		return true
	}
	return false
}

// Notification is one entry in a user's queue.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      Type      `json:"type"`
	RelatedID string    `json:"relatedId"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// List is a window of a user's notifications plus the overall count.
type List struct {
	Items []Notification `json:"items"`
	Total int            `json:"total"`
}

// Store persists notifications. Reads and updates are always scoped by the
// owning user; a miss returns nil with no error.
type Store interface {
	Insert(ctx context.Context, n Notification) (*Notification, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]Notification, int, error)
	MarkRead(ctx context.Context, userID, id string) (*Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// Service enqueues notifications and fans them out.
type Service struct {
	store  Store
	fanout presence.Fanout
}

// NewService creates a Service. A nil fanout behaves like presence.Nop.
func NewService(store Store, fanout presence.Fanout) *Service {
	if fanout == nil {
		fanout = presence.Nop{}
	}
	return &Service{store: store, fanout: fanout}
}

// Enqueue stores a notification for userID and pushes notification:new to the
// user's room. Delivery is best-effort; only the write can fail the call.
func (s *Service) Enqueue(ctx context.Context, userID string, typ Type, relatedID string) (*Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.New(apperr.ErrInvalidRequest, "notification recipient is required")
	}
	if !typ.Valid() {
		return nil, apperr.New(apperr.ErrInvalidRequest, fmt.Sprintf("unknown notification type %q", typ))
	}

	n, err := s.store.Insert(ctx, Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		RelatedID: relatedID,
	})
	if err != nil {
		return nil, err
	}
	metrics.NotificationsTotal.WithLabelValues(string(typ)).Inc()

	s.fanout.EmitToUser(userID, protocol.TypeNotificationNew, n)
	return n, nil
}

// ListForUser returns up to limit notifications after skipping skip, newest
// first.
func (s *Service) ListForUser(ctx context.Context, userID string, skip, limit int) (List, error) {
	if skip < 0 {
		skip = 0
	}
	if limit < 1 {
		limit = pagination.DefaultLimit
	}
	items, total, err := s.store.ListForUser(ctx, userID, limit, skip)
	if err != nil {
		return List{}, err
	}
	if items == nil {
		items = []Notification{}
	}
	return List{Items: items, Total: total}, nil
}

// Page returns the same listing wrapped in the pagination envelope.
func (s *Service) Page(ctx context.Context, userID string, p pagination.Params) (pagination.Page[Notification], error) {
	list, err := s.ListForUser(ctx, userID, p.Offset(), p.Limit)
	if err != nil {
		return pagination.Page[Notification]{}, err
	}
	return pagination.NewPage(list.Items, p, list.Total), nil
}

// MarkRead marks the user's notification read. It returns nil with no error
// when the id does not exist or belongs to someone else.
func (s *Service) MarkRead(ctx context.Context, userID, id string) (*Notification, error) {
	return s.store.MarkRead(ctx, userID, id)
}

// UnreadCount returns how many of the user's notifications are unread.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// MarkAllRead marks every unread notification of the user and returns how
// many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllRead(ctx, userID)
}

// notifyAll enqueues one notification per recipient, logging failures so one
// bad write does not starve the rest.
func (s *Service) notifyAll(ctx context.Context, recipients []string, typ Type, relatedID string) {
	for _, id := range presence.Unique(recipients) {
		if _, err := s.Enqueue(ctx, id, typ, relatedID); err != nil {
			log.Printf("notification: enqueue %s for %s: %v", typ, id, err)
		}
	}
}

// NotifyParticipants enqueues a message notification for each recipient.
func (s *Service) NotifyParticipants(ctx context.Context, recipients []string, messageID string) {
	s.notifyAll(ctx, recipients, TypeMessage, messageID)
}
