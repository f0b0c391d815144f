package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	e := New(KindInvalidAPIKey, "bad key")
	assert.Equal(t, "[invalid-api-key] bad key", e.Error())

	e = e.WithCause(errors.New("underlying"))
	assert.Equal(t, "[invalid-api-key] bad key: underlying", e.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := New(KindStoreUnavailable, "store down").WithCause(cause)
	assert.Same(t, cause, errors.Unwrap(e))
}

func TestErrorIsMatchesByKind(t *testing.T) {
	e := New(KindConflict, "duplicate fingerprint")
	assert.True(t, errors.Is(e, ErrConflict))
	assert.False(t, errors.Is(e, ErrNotFound))
}

func TestErrorIsRejectsNonAPIError(t *testing.T) {
	e := New(KindConflict, "duplicate")
	assert.False(t, e.Is(errors.New("plain error")))
}

func TestWithHTTPStatusAndRetryable(t *testing.T) {
	e := New(KindUpstreamServerError, "5xx from upstream").WithHTTPStatus(502).WithRetryable(true)
	assert.Equal(t, 502, e.HTTPStatus)
	assert.True(t, e.Retryable)
}

func TestKindOf(t *testing.T) {
	e := New(KindNoUpstreamAvailable, "no keys left")
	assert.Equal(t, KindNoUpstreamAvailable, KindOf(e))

	wrapped := fmt.Errorf("context: %w", e)
	assert.Equal(t, KindNoUpstreamAvailable, KindOf(wrapped))

	assert.Equal(t, Kind(""), KindOf(errors.New("not an apierr")))
}

func TestSentinelsCarryHTTPStatus(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{ErrMissingAPIKey, 401},
		{ErrInvalidAPIKey, 401},
		{ErrClientRateLimited, 429},
		{ErrNoUpstreamAvailable, 503},
		{ErrConflict, 409},
		{ErrNotFound, 404},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, tc.err.HTTPStatus, tc.err.Kind)
	}
}
