package registry

import (
	"testing"
	"time"

	"github.com/openrouter-proxy/gateway/internal/store"
	"github.com/openrouter-proxy/gateway/internal/vault"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)

	st, err := store.New(store.Config{Addr: mr.Addr(), PoolSize: 5, MinIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	v, err := vault.New(vault.Config{}, st, zap.NewNop())
	require.NoError(t, err)

	return New(st, v, zap.NewNop())
}

func TestIssueClientKeyRejectsEmptyUserID(t *testing.T) {
	reg := newTestRegistry(t)
	_, _, err := reg.IssueClientKey(t.Context(), "", nil, 100)
	require.Error(t, err)
}

func TestIssueClientKeyDefaultsRateLimit(t *testing.T) {
	reg := newTestRegistry(t)
	plaintext, fp, err := reg.IssueClientKey(t.Context(), "user-1", nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, plaintext)
	require.NotEmpty(t, fp)

	ck, err := reg.ValidateClientKey(t.Context(), plaintext)
	require.NoError(t, err)
	require.Equal(t, 1000, ck.RateLimit)
}

func TestValidateClientKeyRoundTripsAndBumpsUsage(t *testing.T) {
	reg := newTestRegistry(t)
	plaintext, fp, err := reg.IssueClientKey(t.Context(), "user-1", []Permission{PermissionChatCompletions, PermissionModelsList}, 500)
	require.NoError(t, err)

	ck, err := reg.ValidateClientKey(t.Context(), plaintext)
	require.NoError(t, err)
	require.Equal(t, fp, ck.Fingerprint)
	require.Equal(t, "user-1", ck.UserID)
	require.True(t, ck.Active)
	require.True(t, ck.HasPermission(PermissionChatCompletions))
	require.True(t, ck.HasPermission(PermissionModelsList))
	require.False(t, ck.HasPermission(PermissionEmbeddings))
	require.EqualValues(t, 1, ck.UsageCount)

	ck2, err := reg.ValidateClientKey(t.Context(), plaintext)
	require.NoError(t, err)
	require.EqualValues(t, 2, ck2.UsageCount)
	require.NotNil(t, ck2.LastUsedAt)
}

func TestValidateClientKeyUnknownReturnsNilNil(t *testing.T) {
	reg := newTestRegistry(t)
	ck, err := reg.ValidateClientKey(t.Context(), "never-issued")
	require.NoError(t, err)
	require.Nil(t, ck)
}

func TestValidateClientKeyInactiveReturnsNilNil(t *testing.T) {
	reg := newTestRegistry(t)
	plaintext, fp, err := reg.IssueClientKey(t.Context(), "user-1", nil, 100)
	require.NoError(t, err)
	require.NoError(t, reg.DeactivateClientKey(t.Context(), fp))

	ck, err := reg.ValidateClientKey(t.Context(), plaintext)
	require.NoError(t, err)
	require.Nil(t, ck)
}

func TestReactivateClientKeyRestoresValidation(t *testing.T) {
	reg := newTestRegistry(t)
	plaintext, fp, err := reg.IssueClientKey(t.Context(), "user-1", nil, 100)
	require.NoError(t, err)
	require.NoError(t, reg.DeactivateClientKey(t.Context(), fp))
	require.NoError(t, reg.ReactivateClientKey(t.Context(), fp))

	ck, err := reg.ValidateClientKey(t.Context(), plaintext)
	require.NoError(t, err)
	require.NotNil(t, ck)
	require.True(t, ck.Active)
}

func TestDeleteClientKeyRemovesFromUserIndex(t *testing.T) {
	reg := newTestRegistry(t)
	_, fp, err := reg.IssueClientKey(t.Context(), "user-1", nil, 100)
	require.NoError(t, err)

	deleted, err := reg.DeleteClientKey(t.Context(), fp)
	require.NoError(t, err)
	require.True(t, deleted)

	keys, err := reg.ListClientKeysByUser(t.Context(), "user-1")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestDeleteClientKeyUnknownReturnsFalse(t *testing.T) {
	reg := newTestRegistry(t)
	deleted, err := reg.DeleteClientKey(t.Context(), "never-issued")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestListClientKeysByUserReturnsAllIssued(t *testing.T) {
	reg := newTestRegistry(t)
	_, _, err := reg.IssueClientKey(t.Context(), "user-1", nil, 100)
	require.NoError(t, err)
	_, _, err = reg.IssueClientKey(t.Context(), "user-1", nil, 200)
	require.NoError(t, err)
	_, _, err = reg.IssueClientKey(t.Context(), "user-2", nil, 100)
	require.NoError(t, err)

	keys, err := reg.ListClientKeysByUser(t.Context(), "user-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestCheckRateLimitAllowsThenBlocksWithinMinute(t *testing.T) {
	reg := newTestRegistry(t)

	r1 := reg.CheckRateLimit(t.Context(), "user-1", 60)
	require.True(t, r1.Allowed)
	require.Equal(t, 1, r1.Limit)
	require.Equal(t, 0, r1.Remaining)

	r2 := reg.CheckRateLimit(t.Context(), "user-1", 60)
	require.False(t, r2.Allowed)
	require.Equal(t, 0, r2.Remaining)
}

func TestCheckRateLimitDerivesPerMinuteFromHourly(t *testing.T) {
	reg := newTestRegistry(t)
	r := reg.CheckRateLimit(t.Context(), "user-1", 6000)
	require.True(t, r.Allowed)
	require.Equal(t, 100, r.Limit)
	require.Equal(t, 99, r.Remaining)
}

func TestAddUpstreamKeyThenDuplicateIsNoop(t *testing.T) {
	reg := newTestRegistry(t)
	fp, err := reg.AddUpstreamKey(t.Context(), "sk-or-v1-a")
	require.NoError(t, err)
	require.NotEmpty(t, fp)

	dupFP, err := reg.AddUpstreamKey(t.Context(), "sk-or-v1-a")
	require.NoError(t, err)
	require.Empty(t, dupFP)
}

func TestBulkAddUpstreamKeysIsolatesDuplicateFailures(t *testing.T) {
	reg := newTestRegistry(t)
	total, ok, failed, errs, fps := reg.BulkAddUpstreamKeys(t.Context(), []string{"sk-a", "sk-b", "sk-a"})
	require.Equal(t, 3, total)
	require.Equal(t, 2, ok)
	require.Equal(t, 1, failed)
	require.Empty(t, errs)
	require.Len(t, fps, 2)
}

func TestBulkAddUpstreamKeysCapsAtMax(t *testing.T) {
	reg := newTestRegistry(t)
	plaintexts := make([]string, maxBulkUpstreamKeys+10)
	for i := range plaintexts {
		plaintexts[i] = "sk-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
	}

	total, _, _, _, _ := reg.BulkAddUpstreamKeys(t.Context(), plaintexts)
	require.Equal(t, maxBulkUpstreamKeys, total)
}

func TestMarkUpstreamUnhealthyDisablesAfterThreshold(t *testing.T) {
	reg := newTestRegistry(t)
	fp, err := reg.AddUpstreamKey(t.Context(), "sk-or-v1-a")
	require.NoError(t, err)

	for i := 0; i < FailureDisableThreshold-1; i++ {
		require.NoError(t, reg.MarkUpstreamUnhealthy(t.Context(), fp, "timeout"))
	}

	eligible, err := reg.ListEligibleUpstreamKeys(t.Context())
	require.NoError(t, err)
	require.Len(t, eligible, 1)

	require.NoError(t, reg.MarkUpstreamUnhealthy(t.Context(), fp, "timeout"))

	eligible, err = reg.ListEligibleUpstreamKeys(t.Context())
	require.NoError(t, err)
	require.Empty(t, eligible)
}

func TestMarkUpstreamRateLimitedExcludesFromEligible(t *testing.T) {
	reg := newTestRegistry(t)
	fp, err := reg.AddUpstreamKey(t.Context(), "sk-or-v1-a")
	require.NoError(t, err)

	require.NoError(t, reg.MarkUpstreamRateLimited(t.Context(), fp, timeInFuture()))

	eligible, err := reg.ListEligibleUpstreamKeys(t.Context())
	require.NoError(t, err)
	require.Empty(t, eligible)
}

func TestMarkUpstreamSuccessClearsFailures(t *testing.T) {
	reg := newTestRegistry(t)
	fp, err := reg.AddUpstreamKey(t.Context(), "sk-or-v1-a")
	require.NoError(t, err)
	require.NoError(t, reg.MarkUpstreamUnhealthy(t.Context(), fp, "boom"))

	require.NoError(t, reg.MarkUpstreamSuccess(t.Context(), fp))

	all, err := reg.ListAllUpstreamKeys(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 0, all[0].FailureCount)
	require.True(t, all[0].Healthy)
}

func TestRecoverUpstreamKeyRestoresEligibility(t *testing.T) {
	reg := newTestRegistry(t)
	fp, err := reg.AddUpstreamKey(t.Context(), "sk-or-v1-a")
	require.NoError(t, err)
	require.NoError(t, reg.MarkUpstreamRateLimited(t.Context(), fp, timeInFuture()))

	require.NoError(t, reg.RecoverUpstreamKey(t.Context(), fp))

	eligible, err := reg.ListEligibleUpstreamKeys(t.Context())
	require.NoError(t, err)
	require.Len(t, eligible, 1)
}

func TestListAllUpstreamKeysIncludesIneligible(t *testing.T) {
	reg := newTestRegistry(t)
	fp, err := reg.AddUpstreamKey(t.Context(), "sk-or-v1-a")
	require.NoError(t, err)
	for i := 0; i < FailureDisableThreshold; i++ {
		require.NoError(t, reg.MarkUpstreamUnhealthy(t.Context(), fp, "boom"))
	}

	eligible, err := reg.ListEligibleUpstreamKeys(t.Context())
	require.NoError(t, err)
	require.Empty(t, eligible)

	all, err := reg.ListAllUpstreamKeys(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestDeleteUpstreamKeyRemovesFromActiveSet(t *testing.T) {
	reg := newTestRegistry(t)
	fp, err := reg.AddUpstreamKey(t.Context(), "sk-or-v1-a")
	require.NoError(t, err)

	deleted, err := reg.DeleteUpstreamKey(t.Context(), fp)
	require.NoError(t, err)
	require.True(t, deleted)

	all, err := reg.ListAllUpstreamKeys(t.Context())
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestDeleteUpstreamKeyUnknownReturnsFalse(t *testing.T) {
	reg := newTestRegistry(t)
	deleted, err := reg.DeleteUpstreamKey(t.Context(), "never-added")
	require.NoError(t, err)
	require.False(t, deleted)
}

func timeInFuture() time.Time {
	return time.Now().UTC().Add(time.Hour)
}
