package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.RecoveryTimeout)
	assert.Equal(t, 3, cfg.MaxHalfOpenCalls)
}

func TestNewAppliesDefaultsForZeroValues(t *testing.T) {
	b := New(Config{}, zap.NewNop())
	assert.Equal(t, 5, b.config.FailureThreshold)
	assert.Equal(t, 60*time.Second, b.config.RecoveryTimeout)
	assert.Equal(t, 3, b.config.MaxHalfOpenCalls)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTripsOpenAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, MaxHalfOpenCalls: 1}, zap.NewNop())

	require.True(t, b.CanExecute())
	b.ReportFailure()
	b.ReportFailure()
	require.Equal(t, StateClosed, b.State())
	b.ReportFailure()

	require.Equal(t, StateOpen, b.State())
	require.False(t, b.CanExecute())
}

func TestBreakerRecoversToHalfOpenAfterTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, MaxHalfOpenCalls: 2}, zap.NewNop())

	b.ReportFailure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.CanExecute())

	time.Sleep(20 * time.Millisecond)

	require.True(t, b.CanExecute())
	require.Equal(t, StateHalfOpen, b.State())
}

func TestHalfOpenSuccessClosesBreaker(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, MaxHalfOpenCalls: 2}, zap.NewNop())
	b.ReportFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.CanExecute())

	b.ReportSuccess()

	require.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopensBreaker(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, MaxHalfOpenCalls: 2}, zap.NewNop())
	b.ReportFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.CanExecute())

	b.ReportFailure()

	require.Equal(t, StateOpen, b.State())
}

func TestReserveBoundsHalfOpenConcurrency(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, MaxHalfOpenCalls: 1}, zap.NewNop())
	b.ReportFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.CanExecute())

	require.True(t, b.Reserve())
	require.False(t, b.Reserve())
}

func TestReserveIsNoopOutsideHalfOpen(t *testing.T) {
	b := New(DefaultConfig(), zap.NewNop())
	require.True(t, b.Reserve())
}

func TestResetForcesClosed(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, MaxHalfOpenCalls: 1}, zap.NewNop())
	b.ReportFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()

	require.Equal(t, StateClosed, b.State())
	require.True(t, b.CanExecute())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestRegistryReusesBreakerPerFingerprint(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), zap.NewNop())

	b1 := reg.Get("fp-a")
	b2 := reg.Get("fp-a")
	require.Same(t, b1, b2)

	b3 := reg.Get("fp-b")
	require.NotSame(t, b1, b3)
}

func TestRegistrySnapshotReflectsState(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, MaxHalfOpenCalls: 1}, zap.NewNop())
	reg.Get("fp-a").ReportFailure()
	reg.Get("fp-b")

	snapshot := reg.Snapshot()
	require.Equal(t, StateOpen, snapshot["fp-a"])
	require.Equal(t, StateClosed, snapshot["fp-b"])
}

func TestRegistryRemoveDropsBreaker(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), zap.NewNop())
	b1 := reg.Get("fp-a")
	reg.Remove("fp-a")
	b2 := reg.Get("fp-a")

	require.NotSame(t, b1, b2)
}
