// Package relationship decides whether two users may exchange messages. A
// pair is eligible when one is a student, the other a university, and the
// relationship ledger links their profiles.
//
// The ledger check is status-agnostic: any application or access request
// record is enough, even one that has not been accepted.
package relationship

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/admitly/chat-core/internal/identity"
)

// Ledger answers whether a student profile and a university profile are
// linked by at least one record.
type Ledger interface {
	Linked(ctx context.Context, studentProfileID, universityProfileID string) (bool, error)
}

// Gate implements the eligibility check.
type Gate struct {
	directory identity.Directory
	ledger    Ledger
}

// NewGate creates a Gate over the user directory and ledger.
func NewGate(directory identity.Directory, ledger Ledger) *Gate {
	return &Gate{directory: directory, ledger: ledger}
}

// CanMessage reports whether userA and userB may start a conversation.
// Unknown users, same-role pairs and missing profiles are not errors; they
// simply are not eligible.
func (g *Gate) CanMessage(ctx context.Context, userA, userB string) (bool, error) {
	a, err := g.directory.Lookup(ctx, userA)
	if err != nil {
		return false, fmt.Errorf("relationship: lookup %s: %w", userA, err)
	}
	b, err := g.directory.Lookup(ctx, userB)
	if err != nil {
		return false, fmt.Errorf("relationship: lookup %s: %w", userB, err)
	}
	if a == nil || b == nil {
		return false, nil
	}

	var student, university *identity.User
	switch {
	case a.Role == identity.RoleStudent && b.Role == identity.RoleUniversity:
		student, university = a, b
	case a.Role == identity.RoleUniversity && b.Role == identity.RoleStudent:
		student, university = b, a
	default:
		return false, nil
	}
	if student.ProfileID == "" || university.ProfileID == "" {
		return false, nil
	}

	linked, err := g.ledger.Linked(ctx, student.ProfileID, university.ProfileID)
	if err != nil {
		return false, fmt.Errorf("relationship: ledger: %w", err)
	}
	return linked, nil
}

// PostgresLedger checks the applications and access_requests tables.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger backed by db.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Linked returns true if any application or access request joins the pair.
func (l *PostgresLedger) Linked(ctx context.Context, studentProfileID, universityProfileID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM applications WHERE student_id = $1 AND university_id = $2
		) OR EXISTS (
			SELECT 1 FROM access_requests WHERE student_id = $1 AND university_id = $2
		)`

	var linked bool
	if err := l.db.QueryRowContext(ctx, query, studentProfileID, universityProfileID).Scan(&linked); err != nil {
		return false, fmt.Errorf("relationship: linked: %w", err)
	}
	return linked, nil
}

// MemoryLedger is an in-process ledger for tests and local development.
type MemoryLedger struct {
	mu    sync.RWMutex
	links map[[2]string]int
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{links: make(map[[2]string]int)}
}

// Record adds one record linking the pair.
func (l *MemoryLedger) Record(studentProfileID, universityProfileID string) {
	l.mu.Lock()
	l.links[[2]string{studentProfileID, universityProfileID}]++
	l.mu.Unlock()
}

// Linked reports whether the pair has at least one record.
func (l *MemoryLedger) Linked(_ context.Context, studentProfileID, universityProfileID string) (bool, error) {
	l.mu.RLock()
	n := l.links[[2]string{studentProfileID, universityProfileID}]
	l.mu.RUnlock()
	return n > 0, nil
}
