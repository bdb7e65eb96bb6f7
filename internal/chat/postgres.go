package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists conversations and messages in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const conversationColumns = `id, participant_low, participant_high, related_application, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c       Conversation
		related sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Participants[0], &c.Participants[1], &related, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.RelatedApplication = related.String
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// FindOrCreate inserts the conversation unless the pair already exists and
// then reads whichever row won. The unique pair constraint makes concurrent
// callers converge on one row.
func (s *PostgresStore) FindOrCreate(ctx context.Context, id string, pair [2]string, relatedApplication string) (*Conversation, bool, error) {
	const insert = `
		INSERT INTO conversations (id, participant_low, participant_high, related_application)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_low, participant_high) DO NOTHING
		RETURNING ` + conversationColumns

	related := sql.NullString{String: relatedApplication, Valid: relatedApplication != ""}
	c, err := scanConversation(s.db.QueryRowContext(ctx, insert, id, pair[0], pair[1], related))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("chat: insert conversation: %w", err)
	}

	const query = `SELECT ` + conversationColumns + ` FROM conversations WHERE participant_low = $1 AND participant_high = $2`
	c, err = scanConversation(s.db.QueryRowContext(ctx, query, pair[0], pair[1]))
	if err != nil {
		return nil, false, fmt.Errorf("chat: select conversation by pair: %w", err)
	}
	return c, false, nil
}

func (s *PostgresStore) Conversation(ctx context.Context, id string) (*Conversation, error) {
	const query = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	c, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ConversationsFor(ctx context.Context, userID string, limit, offset int) ([]Conversation, int, error) {
	var total int
	const count = `SELECT COUNT(*) FROM conversations WHERE participant_low = $1 OR participant_high = $1`
	if err := s.db.QueryRowContext(ctx, count, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("chat: count conversations: %w", err)
	}

	const query = `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant_low = $1 OR participant_high = $1
		ORDER BY updated_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("chat: list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, limit)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("chat: scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("chat: list conversations: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) ConversationIDsFor(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT id FROM conversations
		WHERE participant_low = $1 OR participant_high = $1
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: conversation ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chat: scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendMessage runs in one transaction: lock the conversation row, check the
// guard, move updated_at strictly forward and insert the message stamped with
// that value.
func (s *PostgresStore) AppendMessage(ctx context.Context, m Message, guard func(*Conversation) error) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chat: begin append: %w", err)
	}
	defer tx.Rollback()

	const lock = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1 FOR UPDATE`
	c, err := scanConversation(tx.QueryRowContext(ctx, lock, m.ConversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationMissing
	}
	if err != nil {
		return nil, fmt.Errorf("chat: lock conversation: %w", err)
	}
	if guard != nil {
		if err := guard(c); err != nil {
			return nil, err
		}
	}

	const bump = `
		UPDATE conversations
		SET updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
		WHERE id = $1
		RETURNING updated_at`

	var stamp time.Time
	if err := tx.QueryRowContext(ctx, bump, m.ConversationID).Scan(&stamp); err != nil {
		return nil, fmt.Errorf("chat: bump conversation: %w", err)
	}

	if m.Attachments == nil {
		m.Attachments = []string{}
	}
	const insert = `
		INSERT INTO messages (id, conversation_id, sender_id, text, attachments, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)`

	if _, err := tx.ExecContext(ctx, insert, m.ID, m.ConversationID, m.Sender, m.Text, pq.Array(m.Attachments), stamp); err != nil {
		return nil, fmt.Errorf("chat: insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("chat: commit append: %w", err)
	}

	m.IsRead = false
	m.CreatedAt = stamp.UTC()
	return &m, nil
}

const messageColumns = `id, conversation_id, sender_id, text, attachments, is_read, created_at`

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var attachments pq.StringArray
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Text, &attachments, &m.IsRead, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Attachments = []string(attachments)
	if m.Attachments == nil {
		m.Attachments = []string{}
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (s *PostgresStore) Message(ctx context.Context, conversationID, messageID string) (*Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND conversation_id = $2`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) Messages(ctx context.Context, conversationID string, limit, offset int) ([]Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("chat: count messages: %w", err)
	}

	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("chat: scan message: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("chat: list messages: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) MarkMessageRead(ctx context.Context, conversationID, messageID string) (*Message, error) {
	const query = `
		UPDATE messages SET is_read = TRUE
		WHERE id = $1 AND conversation_id = $2
		RETURNING ` + messageColumns

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: mark read: %w", err)
	}
	return m, nil
}
