// Package authgate implements the Client Auth Gate (C6): a middleware
// guarding the proxy path prefixes, validating the client-supplied API
// key against the Credential Registry, enforcing the per-key rolling
// rate limit, and attaching the resolved identity to the request context.
package authgate

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/openrouter-proxy/gateway/internal/apierr"
	"github.com/openrouter-proxy/gateway/internal/ctxkeys"
	"github.com/openrouter-proxy/gateway/internal/httpapi"
	"github.com/openrouter-proxy/gateway/internal/metrics"
	"github.com/openrouter-proxy/gateway/internal/registry"

	"go.uber.org/zap"
)

// ClientAPIKeyHeader is the header clients present their key in.
const ClientAPIKeyHeader = "X-Client-API-Key"

// defaultProxyPrefixes are the path prefixes this gate authenticates.
// Requests outside these prefixes pass through unauthenticated.
var defaultProxyPrefixes = []string{"/v1/", "/openrouter/"}

// Gate is the Client Auth Gate.
type Gate struct {
	registry *registry.Registry
	metrics  *metrics.Collector
	logger   *zap.Logger
	prefixes []string
}

// New creates a Gate guarding the default proxy path prefixes.
func New(reg *registry.Registry, m *metrics.Collector, logger *zap.Logger) *Gate {
	return &Gate{
		registry: reg,
		metrics:  m,
		logger:   logger.With(zap.String("component", "authgate")),
		prefixes: defaultProxyPrefixes,
	}
}

// Middleware wraps next, authenticating any request matching a proxy prefix.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.matchesPrefix(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(ClientAPIKeyHeader)
		if key == "" {
			httpapi.WriteError(w, apierr.ErrMissingAPIKey, g.logger)
			return
		}

		ck, err := g.registry.ValidateClientKey(r.Context(), key)
		if err != nil {
			g.logger.Error("client key validation failed", zap.Error(err))
			httpapi.WriteError(w, apierr.New(apierr.KindStoreUnavailable, "validate client key").WithHTTPStatus(http.StatusServiceUnavailable).WithCause(err), g.logger)
			return
		}
		if ck == nil {
			httpapi.WriteError(w, apierr.ErrInvalidAPIKey, g.logger)
			return
		}

		result := g.registry.CheckRateLimit(r.Context(), ck.UserID, ck.RateLimit)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			g.metrics.RecordClientRateLimited(bucket(ck.UserID))
			httpapi.WriteError(w, apierr.ErrClientRateLimited, g.logger)
			return
		}

		ctx := ctxkeys.WithClientUserID(r.Context(), ck.UserID)
		ctx = ctxkeys.WithClientFingerprint(ctx, ck.Fingerprint)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) matchesPrefix(path string) bool {
	for _, p := range g.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func bucket(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
