// Package identity authenticates bearer credentials and resolves them to a
// user identity with role and block status. It runs once per websocket
// handshake and once per REST request.
package identity

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/admitly/chat-core/internal/apperr"
)

// Role is the platform role of a user.
type Role string

const (
	RoleStudent    Role = "student"
	RoleUniversity Role = "university"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleUniversity || r == RoleAdmin
}

// Reasons reported when a handshake or request is refused.
const (
	ReasonUnauthorized = "Unauthorized"
	ReasonBlocked      = "Blocked"
)

// User is a directory record. ProfileID is the id of the student or university
// profile owned by the user; it is empty for admins.
type User struct {
	ID        string
	Role      Role
	Email     string
	Blocked   bool
	ProfileID string
}

// Identity is the authenticated principal attached to a connection or request.
type Identity struct {
	UserID  string `json:"userId"`
	Role    Role   `json:"role"`
	Email   string `json:"email"`
	Blocked bool   `json:"isBlocked"`
}

// Directory looks up users. It is owned by the profile services; Lookup
// returns (nil, nil) when the user does not exist.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*User, error)
}

// Toucher records that a user was active. Failures are never surfaced.
type Toucher interface {
	Touch(ctx context.Context, userID string) error
}

// Gate validates credentials against the token signer and the directory.
type Gate struct {
	tokens    *Tokens
	directory Directory
	toucher   Toucher // optional
}

// NewGate creates a Gate. toucher may be nil.
func NewGate(tokens *Tokens, directory Directory, toucher Toucher) *Gate {
	return &Gate{tokens: tokens, directory: directory, toucher: toucher}
}

// Authenticate validates credential and returns the identity behind it.
// Missing or invalid credentials and unknown users fail with
// ErrUnauthenticated; blocked users fail with ErrForbidden.
func (g *Gate) Authenticate(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, apperr.New(apperr.ErrUnauthenticated, ReasonUnauthorized)
	}

	claims, err := g.tokens.Parse(credential)
	if err != nil {
		return Identity{}, apperr.New(apperr.ErrUnauthenticated, ReasonUnauthorized)
	}

	user, err := g.directory.Lookup(ctx, claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: lookup user %s: %w", claims.Subject, err)
	}
	if user == nil {
		return Identity{}, apperr.New(apperr.ErrUnauthenticated, ReasonUnauthorized)
	}
	if user.Blocked {
		return Identity{}, apperr.New(apperr.ErrForbidden, ReasonBlocked)
	}

	g.touch(user.ID)

	return Identity{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
	}, nil
}

// touch updates last-active in the background. It must never delay or fail
// the surrounding request.
func (g *Gate) touch(userID string) {
	if g.toucher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.toucher.Touch(ctx, userID); err != nil {
			log.Printf("identity: touch last active user=%s: %v", userID, err)
		}
	}()
}

// ExtractCredential picks the bearer credential from a handshake. The auth
// payload token wins; otherwise an "Authorization: Bearer <token>" header is
// used. It returns "" when neither is usable.
func ExtractCredential(authToken, authorization string) string {
	if t := strings.TrimSpace(authToken); t != "" {
		return t
	}
	parts := strings.Fields(authorization)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
