// Package rotation implements the Rotation Engine (C4): selection of an
// eligible upstream key by a configurable strategy, consulting the
// Circuit Breaker registry and the Credential Registry, and driving the
// background sweep that un-disables recovered upstream keys.
package rotation

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openrouter-proxy/gateway/internal/breaker"
	"github.com/openrouter-proxy/gateway/internal/registry"

	"go.uber.org/zap"
)

// Config tunes the engine's background maintenance sweep.
type Config struct {
	DefaultStrategy Strategy
	CleanupInterval time.Duration
	CleanupRetry    time.Duration
}

// DefaultConfig matches the conventional tuning.
func DefaultConfig() Config {
	return Config{
		DefaultStrategy: StrategyHealthBased,
		CleanupInterval: 5 * time.Minute,
		CleanupRetry:    1 * time.Minute,
	}
}

// rotatorState holds the selector state private to one strategy, so
// switching strategies at runtime never loses another strategy's cursor
// or recency bookkeeping.
type rotatorState struct {
	cursor atomic.Int64

	mu           sync.Mutex
	lastSelected map[string]time.Time
}

func newRotatorState() *rotatorState {
	return &rotatorState{lastSelected: make(map[string]time.Time)}
}

func (s *rotatorState) recordSelection(fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSelected[fp] = time.Now()
}

func (s *rotatorState) lastSelectedAt(fp string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSelected[fp]
	return t, ok
}

// Engine is the Rotation Engine.
type Engine struct {
	registry *registry.Registry
	breakers *breaker.Registry
	logger   *zap.Logger

	mu             sync.RWMutex
	activeStrategy Strategy
	rotators       map[Strategy]*rotatorState

	cleanupInterval time.Duration
	cleanupRetry    time.Duration
}

// New creates a Rotation Engine sharing one breaker registry across all
// strategies.
func New(cfg Config, reg *registry.Registry, breakers *breaker.Registry, logger *zap.Logger) *Engine {
	if !cfg.DefaultStrategy.Valid() {
		cfg.DefaultStrategy = StrategyHealthBased
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.CleanupRetry <= 0 {
		cfg.CleanupRetry = time.Minute
	}

	e := &Engine{
		registry:        reg,
		breakers:        breakers,
		logger:          logger.With(zap.String("component", "rotation")),
		activeStrategy:  cfg.DefaultStrategy,
		rotators:        make(map[Strategy]*rotatorState),
		cleanupInterval: cfg.CleanupInterval,
		cleanupRetry:    cfg.CleanupRetry,
	}
	for _, s := range []Strategy{StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyWeighted, StrategyHealthBased} {
		e.rotators[s] = newRotatorState()
	}
	return e
}

// SetStrategy switches the active strategy without discarding any
// strategy's cursor/recency state, used by config hot-reload.
func (e *Engine) SetStrategy(s Strategy) {
	if !s.Valid() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s != e.activeStrategy {
		e.logger.Info("rotation strategy changed", zap.String("from", string(e.activeStrategy)), zap.String("to", string(s)))
	}
	e.activeStrategy = s
}

// Strategy returns the currently active strategy.
func (e *Engine) Strategy() Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeStrategy
}

// SelectUpstream picks one eligible upstream key per the active strategy.
func (e *Engine) SelectUpstream(ctx context.Context) (string, *registry.UpstreamKey, bool) {
	eligible, err := e.registry.ListEligibleUpstreamKeys(ctx)
	if err != nil {
		e.logger.Error("list eligible upstream keys failed", zap.Error(err))
		return "", nil, false
	}
	if len(eligible) == 0 {
		return "", nil, false
	}

	filtered := eligible[:0:0]
	for _, uk := range eligible {
		if e.breakers.CanExecute(uk.Fingerprint) {
			filtered = append(filtered, uk)
		}
	}
	if len(filtered) == 0 {
		return "", nil, false
	}

	strategy := e.Strategy()
	state := e.rotatorFor(strategy)

	selected := e.applyStrategy(strategy, state, filtered)
	if selected == nil {
		return "", nil, false
	}

	e.breakers.Get(selected.Fingerprint).Reserve()
	state.recordSelection(selected.Fingerprint)

	return selected.Fingerprint, selected, true
}

// ReportSuccess records a successful upstream call.
func (e *Engine) ReportSuccess(ctx context.Context, fingerprint string) {
	e.breakers.Get(fingerprint).ReportSuccess()
	if err := e.registry.MarkUpstreamSuccess(ctx, fingerprint); err != nil {
		e.logger.Error("mark upstream success failed", zap.Error(err))
	}
}

// ReportFailure records a failed upstream call. isRateLimit distinguishes
// a 429 (handled via resetAt) from a generic server/transport failure.
func (e *Engine) ReportFailure(ctx context.Context, fingerprint, reason string, isRateLimit bool, resetAt time.Time) {
	e.breakers.Get(fingerprint).ReportFailure()
	if isRateLimit {
		if err := e.registry.MarkUpstreamRateLimited(ctx, fingerprint, resetAt); err != nil {
			e.logger.Error("mark upstream rate limited failed", zap.Error(err))
		}
		return
	}
	if err := e.registry.MarkUpstreamUnhealthy(ctx, fingerprint, reason); err != nil {
		e.logger.Error("mark upstream unhealthy failed", zap.Error(err))
	}
}

func (e *Engine) rotatorFor(s Strategy) *rotatorState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rotators[s]
}

func (e *Engine) applyStrategy(s Strategy, state *rotatorState, candidates []*registry.UpstreamKey) *registry.UpstreamKey {
	switch s {
	case StrategyRoundRobin:
		idx := int(state.cursor.Add(1)-1) % len(candidates)
		if idx < 0 {
			idx += len(candidates)
		}
		return candidates[idx]

	case StrategyRandom:
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
		if err != nil {
			return candidates[0]
		}
		return candidates[n.Int64()]

	case StrategyLeastUsed:
		return leastUsed(candidates)

	case StrategyWeighted:
		return weightedPick(candidates, state)

	case StrategyHealthBased:
		return healthBasedPick(candidates)
	}

	return candidates[0]
}

func leastUsed(candidates []*registry.UpstreamKey) *registry.UpstreamKey {
	best := candidates[0]
	bestTime := lastUsedOrNegInf(best)
	for _, c := range candidates[1:] {
		t := lastUsedOrNegInf(c)
		if t.Before(bestTime) {
			best, bestTime = c, t
		}
	}
	return best
}

func lastUsedOrNegInf(k *registry.UpstreamKey) time.Time {
	if k.LastUsedAt == nil {
		return time.Time{} // zero value sorts before any real timestamp
	}
	return *k.LastUsedAt
}

func weightedPick(candidates []*registry.UpstreamKey, state *rotatorState) *registry.UpstreamKey {
	now := time.Now()
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, c := range candidates {
		w := keyWeight(c, state, now)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return candidates[0]
	}

	r, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return candidates[0]
	}
	target := (float64(r.Int64()) / float64(int64(1)<<53)) * total

	cum := 0.0
	for i, w := range weights {
		cum += w
		if target <= cum {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func keyWeight(c *registry.UpstreamKey, state *rotatorState, now time.Time) float64 {
	base := 1 - 0.2*float64(c.FailureCount)
	if base < 0.1 {
		base = 0.1
	}

	freshnessBonus := 0.5
	if c.LastUsedAt != nil {
		hours := now.Sub(*c.LastUsedAt).Hours()
		freshnessBonus = hours * 0.1
		if freshnessBonus > 0.5 {
			freshnessBonus = 0.5
		}
	}

	weight := base + freshnessBonus

	if t, ok := state.lastSelectedAt(c.Fingerprint); ok && now.Sub(t) < 60*time.Second {
		weight /= 2
	}

	return weight
}

func healthBasedPick(candidates []*registry.UpstreamKey) *registry.UpstreamKey {
	now := time.Now()

	maxUsage := int64(0)
	for _, c := range candidates {
		if c.UsageCount > maxUsage {
			maxUsage = c.UsageCount
		}
	}

	scored := make([]struct {
		key   *registry.UpstreamKey
		score float64
	}, len(candidates))

	for i, c := range candidates {
		score := 100.0
		score -= 10 * float64(c.FailureCount)
		if c.RateLimited(now) {
			score -= 30
		}
		normalizedUsage := 0.0
		if maxUsage > 0 {
			normalizedUsage = float64(c.UsageCount) / float64(maxUsage)
		}
		score -= 20 * normalizedUsage
		if c.LastUsedAt != nil && now.Sub(*c.LastUsedAt) < time.Hour {
			score += 10
		}
		scored[i] = struct {
			key   *registry.UpstreamKey
			score float64
		}{c, score}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored[0].key
}

// =============================================================================
// 🧹 Background maintenance
// =============================================================================

// Run starts the background sweep that re-enables upstream keys whose
// rate-limit cooldown has elapsed, blocking until ctx is cancelled. It
// finishes any in-progress sweep before returning.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.sweep(ctx); err != nil {
				e.logger.Error("rotation cleanup sweep failed, will retry", zap.Error(err), zap.Duration("retry_in", e.cleanupRetry))
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.cleanupRetry):
				}
				if err := e.sweep(ctx); err != nil {
					e.logger.Error("rotation cleanup retry failed", zap.Error(err))
				}
			}
		}
	}
}

func (e *Engine) sweep(ctx context.Context) error {
	all, err := e.registry.ListAllUpstreamKeys(ctx)
	if err != nil {
		return fmt.Errorf("list upstream keys: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, uk := range all {
		if uk.Healthy || uk.RateLimitResetAt == nil || uk.RateLimitResetAt.After(now) {
			continue
		}
		if err := e.registry.RecoverUpstreamKey(ctx, uk.Fingerprint); err != nil {
			e.logger.Error("failed to recover upstream key", zap.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		e.logger.Info("rotation cleanup sweep recovered upstream keys", zap.Int("count", recovered))
	}
	return nil
}
