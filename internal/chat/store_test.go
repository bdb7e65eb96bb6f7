package chat

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitly/chat-core/internal/database"
)

// storeFactories returns the stores every contract test runs against. The
// PostgreSQL store joins only when TEST_DATABASE_URL is set.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory":   func(*testing.T) Store { return NewMemoryStore() },
		"postgres": newPostgresTestStore,
	}
}

func newPostgresTestStore(t *testing.T) Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := database.Migrate(url); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	db, err := database.Open(context.Background(), url)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE messages, conversations`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db)
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStore_FindOrCreateFirstWriteWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		pair := Pair("b-user", "a-user")

		c1, created, err := s.FindOrCreate(ctx, "conv-1", pair, "app-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, [2]string{"a-user", "b-user"}, c1.Participants)
		assert.Equal(t, "app-1", c1.RelatedApplication)

		c2, created, err := s.FindOrCreate(ctx, "conv-2", pair, "app-2")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "conv-1", c2.ID)
		assert.Equal(t, "app-1", c2.RelatedApplication)
	})
}

func TestStore_FindOrCreateConcurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		pair := Pair("x", "y")

		const workers = 16
		ids := make([]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c, _, err := s.FindOrCreate(ctx, fmt.Sprintf("race-%d", i), pair, "")
				if err == nil {
					ids[i] = c.ID
				}
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
		got, total, err := s.ConversationsFor(ctx, "x", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, got, 1)
	})
}

func TestStore_AppendOrdersAndBumps(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		older, _, err := s.FindOrCreate(ctx, "older", Pair("u", "v"), "")
		require.NoError(t, err)
		newer, _, err := s.FindOrCreate(ctx, "newer", Pair("u", "w"), "")
		require.NoError(t, err)

		var appended []*Message
		for i := 0; i < 5; i++ {
			m, err := s.AppendMessage(ctx, Message{
				ID:             fmt.Sprintf("m-%d", i),
				ConversationID: older.ID,
				Sender:         "u",
				Text:           fmt.Sprintf("hello %d", i),
			}, nil)
			require.NoError(t, err)
			assert.False(t, m.IsRead)
			assert.NotNil(t, m.Attachments)
			appended = append(appended, m)
		}
		for i := 1; i < len(appended); i++ {
			assert.True(t, appended[i].CreatedAt.After(appended[i-1].CreatedAt),
				"createdAt must strictly increase")
		}

		// The conversation with the latest message now sorts first.
		list, total, err := s.ConversationsFor(ctx, "u", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, older.ID, list[0].ID)
		assert.Equal(t, newer.ID, list[1].ID)
		assert.True(t, list[0].UpdatedAt.Equal(appended[4].CreatedAt))

		page, total, err := s.Messages(ctx, older.ID, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, page, 2)
		assert.Equal(t, "m-4", page[0].ID)
		assert.Equal(t, "m-3", page[1].ID)

		tail, _, err := s.Messages(ctx, older.ID, 2, 4)
		require.NoError(t, err)
		require.Len(t, tail, 1)
		assert.Equal(t, "m-0", tail[0].ID)
	})
}

func TestStore_AppendGuardAndMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _, err := s.FindOrCreate(ctx, "guarded", Pair("p", "q"), "")
		require.NoError(t, err)

		_, err = s.AppendMessage(ctx, Message{ID: "m", ConversationID: "nope", Sender: "p", Text: "x"}, nil)
		assert.ErrorIs(t, err, ErrConversationMissing)

		_, err = s.AppendMessage(ctx, Message{ID: "m", ConversationID: c.ID, Sender: "z", Text: "x"},
			func(c *Conversation) error { return AssertParticipant(c, "z") })
		assert.ErrorIs(t, err, ErrNotParticipant)

		msgs, total, err := s.Messages(ctx, c.ID, 10, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, msgs)
	})
}

func TestStore_MarkMessageRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _, err := s.FindOrCreate(ctx, "read", Pair("r1", "r2"), "")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, Message{ID: "rm", ConversationID: c.ID, Sender: "r1", Text: "hi", Attachments: []string{"f1"}}, nil)
		require.NoError(t, err)

		m, err := s.MarkMessageRead(ctx, c.ID, "rm")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.True(t, m.IsRead)
		assert.Equal(t, []string{"f1"}, m.Attachments)

		m, err = s.MarkMessageRead(ctx, "other", "rm")
		require.NoError(t, err)
		assert.Nil(t, m, "message must belong to the conversation")

		m, err = s.Message(ctx, c.ID, "missing")
		require.NoError(t, err)
		assert.Nil(t, m)
	})
}
