// =============================================================================
// Gateway Configuration Hot Reload Manager
// =============================================================================
// Re-reads the config file on change and merges a narrow set of fields
// into the held config, passing it to the registered callbacks: rotation
// strategy, breaker tuning, rate limits, and log level.
// Fields outside that set (ports, Redis address, vault key material)
// require a process restart to take effect.
// =============================================================================
package config

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultPollInterval = 3 * time.Second

// ReloadCallback is invoked with the old and new configuration after a
// successful hot reload.
type ReloadCallback func(oldConfig, newConfig *Config)

// HotReloadManager watches a config file and applies safe field updates.
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string
	envPrefix  string

	watcher   *FileWatcher
	callbacks []ReloadCallback

	logger *zap.Logger
}

// NewHotReloadManager creates a manager seeded with the given configuration.
func NewHotReloadManager(initial *Config, configPath, envPrefix string, logger *zap.Logger) *HotReloadManager {
	return &HotReloadManager{
		config:     initial,
		configPath: configPath,
		envPrefix:  envPrefix,
		logger:     logger.With(zap.String("component", "config_hotreload")),
	}
}

// OnReload registers a callback invoked after every applied reload.
func (m *HotReloadManager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Current returns the currently active configuration.
func (m *HotReloadManager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Start begins watching configPath for changes, reloading every time its
// modification time advances.
func (m *HotReloadManager) Start(ctx context.Context) {
	if m.configPath == "" {
		return
	}
	m.watcher = NewFileWatcher(m.configPath, defaultPollInterval, m.logger)
	m.watcher.OnChange(func(FileEvent) {
		m.reload()
	})
	m.watcher.Start(ctx)
}

// Stop halts the watcher.
func (m *HotReloadManager) Stop() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}

func (m *HotReloadManager) reload() {
	next, err := NewLoader().WithConfigPath(m.configPath).WithEnvPrefix(m.envPrefix).Load()
	if err != nil {
		m.logger.Error("hot reload: failed to load config", zap.Error(err))
		return
	}
	if err := next.Validate(); err != nil {
		m.logger.Error("hot reload: rejected invalid config", zap.Error(err))
		return
	}

	m.mu.Lock()
	old := m.config

	merged := *old
	merged.Rotation.DefaultStrategy = next.Rotation.DefaultStrategy
	merged.Breaker = next.Breaker
	merged.RateLimit = next.RateLimit
	merged.Log.Level = next.Log.Level

	m.config = &merged
	callbacks := append([]ReloadCallback{}, m.callbacks...)
	m.mu.Unlock()

	m.logger.Info("configuration hot reloaded",
		zap.String("rotation_strategy", merged.Rotation.DefaultStrategy),
		zap.String("log_level", merged.Log.Level),
	)

	for _, cb := range callbacks {
		cb(old, &merged)
	}
}
