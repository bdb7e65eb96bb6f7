package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(ErrUnauthenticated, "Unauthorized"), http.StatusUnauthorized},
		{New(ErrForbidden, "Blocked"), http.StatusForbidden},
		{fmt.Errorf("chat: start: %w", ErrInvalidRequest), http.StatusBadRequest},
		{New(ErrNotFound, "conversation not found"), http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{errors.New("dial tcp: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "err=%v", tc.err)
	}
}

func TestMessage_HidesInternalErrors(t *testing.T) {
	assert.Equal(t, "internal error", Message(errors.New("pq: password authentication failed")))
	assert.Equal(t, "Blocked", Message(fmt.Errorf("identity: %w", New(ErrForbidden, "Blocked"))))
	assert.Equal(t, "not found", Message(fmt.Errorf("lookup: %w", ErrNotFound)))
	assert.Equal(t, "", Message(nil))
}

func TestWrappedKindSurvivesErrorsIs(t *testing.T) {
	err := fmt.Errorf("gateway: %w", New(ErrForbidden, "not a participant"))
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, ErrForbidden, KindOf(err))
}
