// =============================================================================
// Gateway Default Configuration
// =============================================================================
// Provides sane defaults for every configuration item.
// =============================================================================
package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Upstream:  DefaultUpstreamConfig(),
		Rotation:  DefaultRotationConfig(),
		Breaker:   DefaultBreakerConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Vault:     DefaultVaultConfig(),
		Admin:     DefaultAdminConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute, // streaming completions can run long
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     20,
		MinIdleConns: 4,
	}
}

// DefaultUpstreamConfig returns the default upstream client configuration.
func DefaultUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		BaseURL:        "https://openrouter.ai/api/v1",
		RequestTimeout: 2 * time.Minute,
		MaxAttempts:    3,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// DefaultRotationConfig returns the default rotation engine configuration.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		DefaultStrategy: "health_based",
		CleanupInterval: 5 * time.Minute,
		CleanupRetry:    1 * time.Minute,
	}
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		MaxHalfOpenCalls: 3,
	}
}

// DefaultRateLimitConfig returns the default client rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		DefaultHourlyLimit: 3600,
	}
}

// DefaultVaultConfig returns the default vault configuration.
func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		MasterKeyHex: "",
	}
}

// DefaultAdminConfig returns the default admin API configuration.
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		Enabled:     true,
		Token:       "",
		IPRateLimit: 5,
		IPRateBurst: 10,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "openrouter-gateway",
		SampleRate:   0.1,
	}
}
