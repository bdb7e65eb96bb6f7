package relationship

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitly/chat-core/internal/identity"
)

type failingLedger struct{}

func (failingLedger) Linked(context.Context, string, string) (bool, error) {
	return false, errors.New("db unavailable")
}

func testDirectory() *identity.MemoryDirectory {
	return identity.NewMemoryDirectory(
		identity.User{ID: "s1", Role: identity.RoleStudent, ProfileID: "sp1"},
		identity.User{ID: "s2", Role: identity.RoleStudent, ProfileID: "sp2"},
		identity.User{ID: "u1", Role: identity.RoleUniversity, ProfileID: "up1"},
		identity.User{ID: "u2", Role: identity.RoleUniversity, ProfileID: "up2"},
		identity.User{ID: "a1", Role: identity.RoleAdmin},
		identity.User{ID: "s-noprofile", Role: identity.RoleStudent},
	)
}

func TestCanMessage_RequiresLedgerRecord(t *testing.T) {
	ledger := NewMemoryLedger()
	gate := NewGate(testDirectory(), ledger)
	ctx := context.Background()

	ok, err := gate.CanMessage(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.False(t, ok, "no record yet")

	ledger.Record("sp1", "up1")

	ok, err = gate.CanMessage(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Order of arguments does not matter.
	ok, err = gate.CanMessage(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Another university is still not linked.
	ok, _ = gate.CanMessage(ctx, "s1", "u2")
	assert.False(t, ok)
}

func TestCanMessage_RolePairs(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.Record("sp1", "up1")
	ledger.Record("sp2", "up1")
	gate := NewGate(testDirectory(), ledger)
	ctx := context.Background()

	cases := []struct{ a, b string }{
		{"s1", "s2"},
		{"u1", "u2"},
		{"a1", "s1"},
		{"u1", "a1"},
		{"s1", "ghost"},
		{"s-noprofile", "u1"},
	}
	for _, tc := range cases {
		ok, err := gate.CanMessage(ctx, tc.a, tc.b)
		require.NoError(t, err)
		assert.False(t, ok, "%s/%s should not be eligible", tc.a, tc.b)
	}
}

func TestCanMessage_LedgerErrorPropagates(t *testing.T) {
	gate := NewGate(testDirectory(), failingLedger{})
	_, err := gate.CanMessage(context.Background(), "s1", "u1")
	assert.Error(t, err)
}
