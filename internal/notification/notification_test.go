package notification

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitly/chat-core/internal/apperr"
	"github.com/admitly/chat-core/internal/messaging"
	"github.com/admitly/chat-core/internal/pagination"
	"github.com/admitly/chat-core/internal/presence"
	"github.com/admitly/chat-core/internal/protocol"
)

type emission struct {
	users   []string
	event   string
	payload interface{}
}

type recordingFanout struct {
	mu  sync.Mutex
	out []emission
}

func (r *recordingFanout) EmitToUser(userID, event string, payload interface{}) {
	r.EmitToUsers([]string{userID}, event, payload)
}

func (r *recordingFanout) EmitToUsers(userIDs []string, event string, payload interface{}) {
	r.mu.Lock()
	r.out = append(r.out, emission{users: userIDs, event: event, payload: payload})
	r.mu.Unlock()
}

func (r *recordingFanout) EmitToConversation(string, string, interface{}) {}

func (r *recordingFanout) events(event string) []emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emission
	for _, e := range r.out {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type frameSink struct {
	id     string
	frames [][]byte
}

func (f *frameSink) ConnID() string { return f.id }

func (f *frameSink) Send(frame []byte) error {
	f.frames = append(f.frames, frame)
	return nil
}

type failingStore struct{ *MemoryStore }

func (*failingStore) Insert(context.Context, Notification) (*Notification, error) {
	return nil, errors.New("disk full")
}

func TestEnqueue_PersistsAndEmits(t *testing.T) {
	fan := &recordingFanout{}
	svc := NewService(NewMemoryStore(), fan)

	n, err := svc.Enqueue(context.Background(), "u1", TypeMessage, "m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, TypeMessage, n.Type)
	assert.Equal(t, "m1", n.RelatedID)
	assert.False(t, n.IsRead)
	assert.NotEmpty(t, n.ID)

	got := fan.events(protocol.TypeNotificationNew)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"u1"}, got[0].users)
	assert.Equal(t, n, got[0].payload)
}

func TestEnqueue_FrameKeepsNotificationType(t *testing.T) {
	hub := presence.NewHub()
	member := &frameSink{id: "c1"}
	hub.Join(member, presence.UserRoom("u1"))
	svc := NewService(NewMemoryStore(), presence.NewBroadcaster(presence.LocalBus{Hub: hub}))

	n, err := svc.Enqueue(context.Background(), "u1", TypeMessage, "m1")
	require.NoError(t, err)

	require.Len(t, member.frames, 1)
	var frame struct {
		Type string       `json:"type"`
		Data Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(member.frames[0], &frame))
	assert.Equal(t, protocol.TypeNotificationNew, frame.Type)
	assert.Equal(t, TypeMessage, frame.Data.Type)
	assert.Equal(t, n.ID, frame.Data.ID)
	assert.Equal(t, "m1", frame.Data.RelatedID)
}

func TestEnqueue_Rejects(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	_, err := svc.Enqueue(context.Background(), "u1", Type("spam"), "x")
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = svc.Enqueue(context.Background(), " ", TypeMessage, "x")
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestEnqueue_StoreFailureSkipsFanout(t *testing.T) {
	fan := &recordingFanout{}
	svc := NewService(&failingStore{NewMemoryStore()}, fan)
	_, err := svc.Enqueue(context.Background(), "u1", TypeMessage, "m1")
	assert.Error(t, err)
	assert.Empty(t, fan.events(protocol.TypeNotificationNew))
}

func TestListAndMarkRead(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	ctx := context.Background()

	var ids []string
	for _, rel := range []string{"a", "b", "c"} {
		n, err := svc.Enqueue(ctx, "owner", TypeGeneric, rel)
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	_, err := svc.Enqueue(ctx, "other", TypeGeneric, "z")
	require.NoError(t, err)

	list, err := svc.ListForUser(ctx, "owner", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "c", list.Items[0].RelatedID, "newest first")
	assert.Equal(t, "b", list.Items[1].RelatedID)

	list, err = svc.ListForUser(ctx, "owner", 5, 2)
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.NotNil(t, list.Items)

	list, err = svc.ListForUser(ctx, "owner", math.MaxInt, 2)
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.Equal(t, 3, list.Total)

	// Another user's id is a miss, not an error.
	n, err := svc.MarkRead(ctx, "other", ids[0])
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = svc.MarkRead(ctx, "owner", ids[0])
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.IsRead)

	unread, err := svc.UnreadCount(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	changed, err := svc.MarkAllRead(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	unread, _ = svc.UnreadCount(ctx, "owner")
	assert.Zero(t, unread)
	unread, _ = svc.UnreadCount(ctx, "other")
	assert.Equal(t, 1, unread)

	page, err := svc.Page(ctx, "owner", pagination.New(2, 2))
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, pagination.Info{Page: 2, Limit: 2, Total: 3, TotalPages: 2}, page.Pagination)
}

func TestApplicationUpdated(t *testing.T) {
	fan := &recordingFanout{}
	svc := NewService(NewMemoryStore(), fan)
	ctx := context.Background()

	err := svc.ApplicationUpdated(ctx, ApplicationEvent{
		ApplicationID:    "app-1",
		StudentUserID:    "S",
		UniversityUserID: "U",
		Status:           "accepted",
		InitiatedBy:      "U",
	})
	require.NoError(t, err)

	updates := fan.events(protocol.TypeApplicationUpdate)
	require.Len(t, updates, 1)
	assert.ElementsMatch(t, []string{"S", "U"}, updates[0].users)
	assert.Equal(t, protocol.ApplicationUpdateMsg{ApplicationID: "app-1", Status: "accepted", InitiatedBy: "U"}, updates[0].payload)

	notes := fan.events(protocol.TypeNotificationNew)
	require.Len(t, notes, 1)
	assert.Equal(t, []string{"S"}, notes[0].users)
	n := notes[0].payload.(*Notification)
	assert.Equal(t, TypeStatusUpdate, n.Type)
	assert.Equal(t, "app-1", n.RelatedID)

	err = svc.ApplicationUpdated(ctx, ApplicationEvent{ApplicationID: "app-1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestApplicationCreatedAndAccessRequested(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	require.NoError(t, svc.ApplicationCreated(ctx, ApplicationEvent{
		ApplicationID: "app-2", StudentUserID: "S", UniversityUserID: "U", Status: "pending", InitiatedBy: "S",
	}))
	require.NoError(t, svc.AccessRequested(ctx, AccessRequestEvent{
		AccessRequestID: "ar-1", RequesterUserID: "U", TargetUserID: "S",
	}))

	u, _ := svc.ListForUser(ctx, "U", 0, 10)
	require.Len(t, u.Items, 1)
	assert.Equal(t, TypeApplication, u.Items[0].Type)

	s, _ := svc.ListForUser(ctx, "S", 0, 10)
	require.Len(t, s.Items, 1)
	assert.Equal(t, TypeAccessRequest, s.Items[0].Type)
	assert.Equal(t, "ar-1", s.Items[0].RelatedID)
}

type fakeSubscriber struct {
	handlers map[string]func([]byte)
}

func (f *fakeSubscriber) SubscribeSubject(subject string, handler func([]byte)) error {
	f.handlers[subject] = handler
	return nil
}

func TestBridge_RoutesSubjects(t *testing.T) {
	fan := &recordingFanout{}
	svc := NewService(NewMemoryStore(), fan)
	sub := &fakeSubscriber{handlers: map[string]func([]byte){}}

	require.NoError(t, NewBridge(svc).Start(sub))
	require.Len(t, sub.handlers, 3)

	sub.handlers[messaging.SubjectApplicationUpdated]([]byte(
		`{"applicationId":"a1","studentUserId":"S","universityUserId":"U","status":"rejected","initiatedBy":"U"}`))
	sub.handlers[messaging.SubjectAccessRequested]([]byte(`{"accessRequestId":"r1","targetUserId":"S"}`))
	sub.handlers[messaging.SubjectApplicationCreated]([]byte(`not json`))

	assert.Len(t, fan.events(protocol.TypeApplicationUpdate), 1)
	list, err := svc.ListForUser(context.Background(), "S", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
}
