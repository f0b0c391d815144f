package ctxkeys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestIDRoundTrips(t *testing.T) {
	ctx := WithRequestID(t.Context(), "req-123")
	id, ok := RequestID(ctx)
	require.True(t, ok)
	require.Equal(t, "req-123", id)
}

func TestRequestIDAbsentReturnsFalse(t *testing.T) {
	_, ok := RequestID(t.Context())
	require.False(t, ok)
}

func TestClientUserIDRoundTrips(t *testing.T) {
	ctx := WithClientUserID(t.Context(), "acme-corp")
	userID, ok := ClientUserID(ctx)
	require.True(t, ok)
	require.Equal(t, "acme-corp", userID)
}

func TestClientFingerprintRoundTrips(t *testing.T) {
	ctx := WithClientFingerprint(t.Context(), "fp-abc")
	fp, ok := ClientFingerprint(ctx)
	require.True(t, ok)
	require.Equal(t, "fp-abc", fp)
}

func TestClientIPRoundTrips(t *testing.T) {
	ctx := WithClientIP(t.Context(), "203.0.113.7")
	ip, ok := ClientIP(ctx)
	require.True(t, ok)
	require.Equal(t, "203.0.113.7", ip)
}

func TestEmptyValueTreatedAsAbsent(t *testing.T) {
	ctx := WithClientUserID(t.Context(), "")
	_, ok := ClientUserID(ctx)
	require.False(t, ok)
}
