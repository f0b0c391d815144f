package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutConfigPathUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Server.HTTPPort, cfg.Server.HTTPPort)
}

func TestLoadFromMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Redis.Addr, cfg.Redis.Addr)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := "server:\n  http_port: 9000\nredis:\n  addr: \"redis.internal:6380\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.HTTPPort)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadFromFileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [this is not valid"), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoadEnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := "server:\n  http_port: 9000\nadmin:\n  enabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	t.Setenv("TESTGW_SERVER_HTTP_PORT", "7000")
	t.Setenv("TESTGW_ADMIN_ENABLED", "false")

	cfg, err := NewLoader().WithConfigPath(path).WithEnvPrefix("TESTGW").Load()
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.HTTPPort)
	require.False(t, cfg.Admin.Enabled)
}

func TestLoadEnvParsesDurationField(t *testing.T) {
	t.Setenv("TESTGW_SERVER_READ_TIMEOUT", "45s")

	cfg, err := NewLoader().WithEnvPrefix("TESTGW").Load()
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadEnvParsesStringSlice(t *testing.T) {
	t.Setenv("TESTGW_LOG_OUTPUT_PATHS", "stdout, /var/log/gateway.log")

	cfg, err := NewLoader().WithEnvPrefix("TESTGW").Load()
	require.NoError(t, err)
	require.Equal(t, []string{"stdout", "/var/log/gateway.log"}, cfg.Log.OutputPaths)
}

func TestLoadRunsRegisteredValidators(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(cfg *Config) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	require.True(t, called)
}

func TestLoadPropagatesValidatorError(t *testing.T) {
	_, err := NewLoader().WithValidator(func(cfg *Config) error {
		return require.AnError
	}).Load()
	require.Error(t, err)
}

func TestValidateRejectsOutOfRangeHTTPPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	require.Error(t, cfg.Validate())

	cfg.Server.HTTPPort = 70000
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveBreakerThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breaker.FailureThreshold = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownRotationStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rotation.DefaultStrategy = "not-a-strategy"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.DefaultHourlyLimit = 0
	require.Error(t, cfg.Validate())
}

func TestValidateAccumulatesMultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = -1
	cfg.Breaker.FailureThreshold = 0
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid HTTP port")
	require.Contains(t, err.Error(), "breaker.failure_threshold")
}

func TestMustLoadPanicsOnMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [this is not valid"), 0o600))

	defer func() {
		require.NotNil(t, recover())
	}()
	_ = MustLoad(path)
}

func TestMustLoadSucceedsOnValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 8081\n"), 0o600))

	cfg := MustLoad(path)
	require.Equal(t, 8081, cfg.Server.HTTPPort)
}
