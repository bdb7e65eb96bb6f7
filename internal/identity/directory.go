package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// PostgresDirectory reads users and their profile ids from the tables owned by
// the profile services.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory backed by db.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Lookup returns the user with the given id, or nil if there is none.
func (d *PostgresDirectory) Lookup(ctx context.Context, userID string) (*User, error) {
	const query = `
		SELECT u.id, u.role, u.email, u.is_blocked, COALESCE(s.id, un.id, '')
		FROM users u
		LEFT JOIN students s ON s.user_id = u.id
		LEFT JOIN universities un ON un.user_id = u.id
		WHERE u.id = $1`

	var (
		u    User
		role string
	)
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &role, &u.Email, &u.Blocked, &u.ProfileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: lookup: %w", err)
	}
	u.Role = Role(role)
	return &u, nil
}

// MemoryDirectory is an in-process directory for tests and local development.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory creates a directory seeded with users.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put adds or replaces a user.
func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// Lookup returns a copy of the user, or nil if unknown.
func (d *MemoryDirectory) Lookup(_ context.Context, userID string) (*User, error) {
	d.mu.RLock()
	u, ok := d.users[userID]
	d.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &u, nil
}
