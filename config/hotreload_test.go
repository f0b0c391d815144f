package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfigFile(t *testing.T, path, rotationStrategy string) {
	t.Helper()
	body := "rotation:\n  default_strategy: \"" + rotationStrategy + "\"\nbreaker:\n  failure_threshold: 7\n  max_half_open_calls: 3\nrate_limit:\n  default_hourly_limit: 1000\nlog:\n  level: \"debug\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestHotReloadManagerCurrentReturnsSeededConfig(t *testing.T) {
	seed := DefaultConfig()
	m := NewHotReloadManager(seed, "", "TESTGW", zap.NewNop())
	require.Equal(t, seed.Server.HTTPPort, m.Current().Server.HTTPPort)
}

func TestHotReloadManagerStartIsNoopWithoutConfigPath(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), "", "TESTGW", zap.NewNop())
	m.Start(t.Context())
	m.Stop()
}

func TestHotReloadManagerAppliesFileChangeAndInvokesCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "round_robin")

	seed, err := NewLoader().WithConfigPath(path).WithEnvPrefix("TESTGW").Load()
	require.NoError(t, err)

	m := NewHotReloadManager(seed, path, "TESTGW", zap.NewNop())

	var oldSeen, newSeen *Config
	done := make(chan struct{})
	m.OnReload(func(oldCfg, newCfg *Config) {
		oldSeen, newSeen = oldCfg, newCfg
		close(done)
	})

	ctx := t.Context()
	m.Start(ctx)
	defer m.Stop()

	writeConfigFile(t, path, "least_used")
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("hot reload callback was never invoked")
	}

	require.Equal(t, "round_robin", oldSeen.Rotation.DefaultStrategy)
	require.Equal(t, "least_used", newSeen.Rotation.DefaultStrategy)
	require.Equal(t, "least_used", m.Current().Rotation.DefaultStrategy)
}

func TestHotReloadManagerRejectsInvalidReloadedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "round_robin")

	seed, err := NewLoader().WithConfigPath(path).WithEnvPrefix("TESTGW").Load()
	require.NoError(t, err)

	m := NewHotReloadManager(seed, path, "TESTGW", zap.NewNop())
	called := false
	m.OnReload(func(oldCfg, newCfg *Config) { called = true })

	m.Start(t.Context())
	defer m.Stop()

	body := "rotation:\n  default_strategy: \"not-a-real-strategy\"\nbreaker:\n  failure_threshold: 7\n  max_half_open_calls: 3\nrate_limit:\n  default_hourly_limit: 1000\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	time.Sleep(4 * time.Second)
	require.False(t, called)
	require.Equal(t, "round_robin", m.Current().Rotation.DefaultStrategy)
}
