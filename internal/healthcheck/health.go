// Package healthcheck provides liveness/readiness HTTP handlers,
// generalized from the teacher's HealthHandler to run a pluggable set
// of readiness checks (here: State Store connectivity) before reporting
// ready.
package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/openrouter-proxy/gateway/internal/httpapi"

	"go.uber.org/zap"
)

// Check is a single readiness probe.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// Status is the JSON body returned by every handler in this package.
type Status struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one named check's outcome.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Handler serves /health, /healthz, /ready, /readyz, /version.
type Handler struct {
	logger *zap.Logger
	mu     sync.RWMutex
	checks []Check
}

// New creates a Handler with no registered checks.
func New(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// RegisterCheck adds a readiness check evaluated by HandleReady.
func (h *Handler) RegisterCheck(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// HandleHealth reports liveness unconditionally.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, Status{Status: "healthy", Timestamp: time.Now().UTC()})
}

// HandleReady runs every registered check and reports 503 if any fails.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := Status{Status: "healthy", Timestamp: time.Now().UTC(), Checks: make(map[string]CheckResult)}
	allHealthy := true

	for _, c := range checks {
		start := time.Now()
		err := c.Check(ctx)
		result := CheckResult{Status: "pass", Latency: time.Since(start).String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false
			h.logger.Warn("health check failed", zap.String("check", c.Name()), zap.Error(err))
		}
		status.Checks[c.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		httpapi.WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, status)
}

// HandleVersion returns build metadata.
func (h *Handler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// StoreCheck adapts a ping-capable state store into a Check.
type StoreCheck struct {
	Pinger func(ctx context.Context) error
}

func (c StoreCheck) Name() string { return "state_store" }
func (c StoreCheck) Check(ctx context.Context) error { return c.Pinger(ctx) }
