package breaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry lazily creates and tracks one Breaker per upstream key
// fingerprint, matching the rotation engine's per-key bookkeeping.
type Registry struct {
	config  Config
	logger  *zap.Logger
	entries sync.Map // fingerprint -> *Breaker
}

// NewRegistry creates a registry that stamps out new breakers with config.
func NewRegistry(config Config, logger *zap.Logger) *Registry {
	return &Registry{config: config, logger: logger}
}

// Get returns the breaker for fingerprint, creating one in the closed
// state on first use.
func (r *Registry) Get(fingerprint string) *Breaker {
	if v, ok := r.entries.Load(fingerprint); ok {
		return v.(*Breaker)
	}
	b := New(r.config, r.logger.With(zap.String("fingerprint_bucket", bucket(fingerprint))))
	actual, _ := r.entries.LoadOrStore(fingerprint, b)
	return actual.(*Breaker)
}

// CanExecute is a convenience wrapper over Get(fingerprint).CanExecute().
func (r *Registry) CanExecute(fingerprint string) bool {
	return r.Get(fingerprint).CanExecute()
}

// Remove drops a fingerprint's breaker, used when an upstream key is deleted.
func (r *Registry) Remove(fingerprint string) {
	r.entries.Delete(fingerprint)
}

// Snapshot returns the current state of every tracked breaker, keyed by
// fingerprint, for admin inspection and metrics export.
func (r *Registry) Snapshot() map[string]State {
	out := make(map[string]State)
	r.entries.Range(func(key, value any) bool {
		out[key.(string)] = value.(*Breaker).State()
		return true
	})
	return out
}

// bucket truncates a fingerprint to a short, non-identifying label safe for
// high-cardinality-sensitive metric labels and log lines.
func bucket(fingerprint string) string {
	if len(fingerprint) <= 8 {
		return fingerprint
	}
	return fingerprint[:8]
}
