package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const columns = `id, user_id, type, related_id, is_read, created_at`

func scan(row interface{ Scan(...interface{}) error }) (*Notification, error) {
	var (
		n   Notification
		typ string
	)
	if err := row.Scan(&n.ID, &n.UserID, &typ, &n.RelatedID, &n.IsRead, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Type = Type(typ)
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}

func (s *PostgresStore) Insert(ctx context.Context, n Notification) (*Notification, error) {
	const query = `
		INSERT INTO notifications (id, user_id, type, related_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + columns

	out, err := scan(s.db.QueryRowContext(ctx, query, n.ID, n.UserID, string(n.Type), n.RelatedID))
	if err != nil {
		return nil, fmt.Errorf("notification: insert: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string, limit, offset int) ([]Notification, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("notification: count: %w", err)
	}

	const query = `
		SELECT ` + columns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("notification: list: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("notification: scan: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("notification: list: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, userID, id string) (*Notification, error) {
	const query = `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND user_id = $2
		RETURNING ` + columns

	n, err := scan(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notification: mark read: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	const query = `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("notification: unread count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("notification: mark all read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("notification: mark all read: %w", err)
	}
	return int(n), nil
}

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu    sync.Mutex
	items []*Notification
	last  time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, n Notification) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	n.CreatedAt = now
	n.IsRead = false

	stored := n
	s.items = append(s.items, &stored)
	return &n, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string, limit, offset int) ([]Notification, int, error) {
	s.mu.Lock()
	var owned []Notification
	for _, n := range s.items {
		if n.UserID == userID {
			owned = append(owned, *n)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	total := len(owned)
	if offset < 0 || limit <= 0 || offset >= total {
		return []Notification{}, total, nil
	}
	if limit > total-offset {
		limit = total - offset
	}
	return owned[offset : offset+limit], total, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID, id string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			out := *n
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, n := range s.items {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			changed++
		}
	}
	return changed, nil
}
