// Package adminapi implements the Admin API (C10): a minimal JSON CRUD
// surface over the Credential Registry for operators — issuing, listing,
// deactivating, reactivating and deleting client keys; adding (singly or
// in bulk), listing and deleting upstream keys; and a pool/breaker/
// rotation stats summary. Grounded in the teacher's masked-secret DTO and
// r.PathValue routing idiom.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openrouter-proxy/gateway/internal/apierr"
	"github.com/openrouter-proxy/gateway/internal/breaker"
	"github.com/openrouter-proxy/gateway/internal/httpapi"
	"github.com/openrouter-proxy/gateway/internal/registry"
	"github.com/openrouter-proxy/gateway/internal/rotation"

	"go.uber.org/zap"
)

// Handlers groups the Admin API's HTTP handlers.
type Handlers struct {
	registry *registry.Registry
	breakers *breaker.Registry
	rotation *rotation.Engine
	logger   *zap.Logger
}

// New creates the Admin API handlers.
func New(reg *registry.Registry, breakers *breaker.Registry, rot *rotation.Engine, logger *zap.Logger) *Handlers {
	return &Handlers{registry: reg, breakers: breakers, rotation: rot, logger: logger.With(zap.String("component", "adminapi"))}
}

// Register wires the Admin API's routes onto mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/client-keys", h.IssueClientKey)
	mux.HandleFunc("GET /admin/client-keys", h.ListClientKeys)
	mux.HandleFunc("POST /admin/client-keys/{fingerprint}/deactivate", h.DeactivateClientKey)
	mux.HandleFunc("POST /admin/client-keys/{fingerprint}/reactivate", h.ReactivateClientKey)
	mux.HandleFunc("DELETE /admin/client-keys/{fingerprint}", h.DeleteClientKey)

	mux.HandleFunc("POST /admin/upstream-keys", h.AddUpstreamKey)
	mux.HandleFunc("POST /admin/upstream-keys/bulk", h.BulkAddUpstreamKeys)
	mux.HandleFunc("GET /admin/upstream-keys", h.ListUpstreamKeys)
	mux.HandleFunc("DELETE /admin/upstream-keys/{fingerprint}", h.DeleteUpstreamKey)

	mux.HandleFunc("GET /admin/stats", h.Stats)
}

// clientKeyResponse is the masked DTO returned for an issued/listed client key.
type clientKeyResponse struct {
	Fingerprint string               `json:"fingerprint"`
	UserID      string               `json:"user_id"`
	CreatedAt   time.Time            `json:"created_at"`
	LastUsedAt  *time.Time           `json:"last_used_at,omitempty"`
	Active      bool                 `json:"active"`
	Permissions []registry.Permission `json:"permissions"`
	UsageCount  int64                `json:"usage_count"`
	RateLimit   int                  `json:"rate_limit"`
}

func toClientKeyResponse(ck *registry.ClientKey) clientKeyResponse {
	return clientKeyResponse{
		Fingerprint: ck.Fingerprint,
		UserID:      ck.UserID,
		CreatedAt:   ck.CreatedAt,
		LastUsedAt:  ck.LastUsedAt,
		Active:      ck.Active,
		Permissions: ck.Permissions,
		UsageCount:  ck.UsageCount,
		RateLimit:   ck.RateLimit,
	}
}

type issueClientKeyRequest struct {
	UserID      string                 `json:"user_id"`
	Permissions []registry.Permission `json:"permissions"`
	RateLimit   int                    `json:"rate_limit"`
}

// IssueClientKey handles POST /admin/client-keys.
func (h *Handlers) IssueClientKey(w http.ResponseWriter, r *http.Request) {
	var req issueClientKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, apierr.New(apierr.KindInvalidAPIKey, "invalid request body").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		httpapi.WriteError(w, apierr.New(apierr.KindInvalidAPIKey, "user_id is required").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}
	if req.RateLimit <= 0 {
		req.RateLimit = 1000
	}

	plaintext, fp, err := h.registry.IssueClientKey(r.Context(), req.UserID, req.Permissions, req.RateLimit)
	if err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, httpapi.Response{
		Success: true,
		Data: map[string]any{
			"api_key":     plaintext,
			"fingerprint": fp,
		},
		Timestamp: time.Now().UTC(),
	})
}

// ListClientKeys handles GET /admin/client-keys?user_id=.
func (h *Handlers) ListClientKeys(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httpapi.WriteError(w, apierr.New(apierr.KindInvalidAPIKey, "user_id query parameter is required").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	keys, err := h.registry.ListClientKeysByUser(r.Context(), userID)
	if err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}

	resp := make([]clientKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, toClientKeyResponse(k))
	}
	httpapi.WriteSuccess(w, resp)
}

// DeactivateClientKey handles POST /admin/client-keys/{fingerprint}/deactivate.
func (h *Handlers) DeactivateClientKey(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fingerprint")
	if err := h.registry.DeactivateClientKey(r.Context(), fp); err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}
	httpapi.WriteSuccess(w, map[string]string{"fingerprint": fp, "status": "deactivated"})
}

// ReactivateClientKey handles POST /admin/client-keys/{fingerprint}/reactivate.
func (h *Handlers) ReactivateClientKey(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fingerprint")
	if err := h.registry.ReactivateClientKey(r.Context(), fp); err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}
	httpapi.WriteSuccess(w, map[string]string{"fingerprint": fp, "status": "active"})
}

// DeleteClientKey handles DELETE /admin/client-keys/{fingerprint}.
func (h *Handlers) DeleteClientKey(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fingerprint")
	deleted, err := h.registry.DeleteClientKey(r.Context(), fp)
	if err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}
	if !deleted {
		httpapi.WriteError(w, apierr.ErrNotFound, h.logger)
		return
	}
	httpapi.WriteSuccess(w, map[string]string{"fingerprint": fp, "status": "deleted"})
}

// upstreamKeyResponse is the masked DTO for an upstream key (the plaintext
// is never included; no admin response returns it, not even AddUpstreamKey's).
type upstreamKeyResponse struct {
	Fingerprint      string     `json:"fingerprint"`
	AddedAt          time.Time  `json:"added_at"`
	Active           bool       `json:"active"`
	Healthy          bool       `json:"healthy"`
	FailureCount     int        `json:"failure_count"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	RateLimitResetAt *time.Time `json:"rate_limit_reset_at,omitempty"`
	UsageCount       int64      `json:"usage_count"`
	LastError        string     `json:"last_error,omitempty"`
	BreakerState     string     `json:"breaker_state"`
}

func (h *Handlers) toUpstreamKeyResponse(uk *registry.UpstreamKey) upstreamKeyResponse {
	return upstreamKeyResponse{
		Fingerprint:      uk.Fingerprint,
		AddedAt:          uk.AddedAt,
		Active:           uk.Active,
		Healthy:          uk.Healthy,
		FailureCount:     uk.FailureCount,
		LastUsedAt:       uk.LastUsedAt,
		RateLimitResetAt: uk.RateLimitResetAt,
		UsageCount:       uk.UsageCount,
		LastError:        uk.LastError,
		BreakerState:     h.breakers.Get(uk.Fingerprint).State().String(),
	}
}

type addUpstreamKeyRequest struct {
	APIKey string `json:"api_key"`
}

// AddUpstreamKey handles POST /admin/upstream-keys.
func (h *Handlers) AddUpstreamKey(w http.ResponseWriter, r *http.Request) {
	var req addUpstreamKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, apierr.New(apierr.KindInvalidAPIKey, "invalid request body").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		httpapi.WriteError(w, apierr.New(apierr.KindInvalidAPIKey, "api_key is required").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	fp, err := h.registry.AddUpstreamKey(r.Context(), req.APIKey)
	if err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}
	if fp == "" {
		httpapi.WriteError(w, apierr.ErrConflict, h.logger)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, httpapi.Response{
		Success:   true,
		Data:      map[string]string{"fingerprint": fp},
		Timestamp: time.Now().UTC(),
	})
}

type bulkAddUpstreamKeysRequest struct {
	APIKeys []string `json:"api_keys"`
}

// BulkAddUpstreamKeys handles POST /admin/upstream-keys/bulk.
func (h *Handlers) BulkAddUpstreamKeys(w http.ResponseWriter, r *http.Request) {
	var req bulkAddUpstreamKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, apierr.New(apierr.KindInvalidAPIKey, "invalid request body").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	total, ok, failed, errs, fingerprints := h.registry.BulkAddUpstreamKeys(r.Context(), req.APIKeys)
	httpapi.WriteSuccess(w, map[string]any{
		"total":        total,
		"succeeded":    ok,
		"failed":       failed,
		"errors":       errs,
		"fingerprints": fingerprints,
	})
}

// ListUpstreamKeys handles GET /admin/upstream-keys.
func (h *Handlers) ListUpstreamKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.registry.ListAllUpstreamKeys(r.Context())
	if err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}

	resp := make([]upstreamKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, h.toUpstreamKeyResponse(k))
	}
	httpapi.WriteSuccess(w, resp)
}

// DeleteUpstreamKey handles DELETE /admin/upstream-keys/{fingerprint}.
func (h *Handlers) DeleteUpstreamKey(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fingerprint")
	deleted, err := h.registry.DeleteUpstreamKey(r.Context(), fp)
	if err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}
	if !deleted {
		httpapi.WriteError(w, apierr.ErrNotFound, h.logger)
		return
	}
	h.breakers.Remove(fp)
	httpapi.WriteSuccess(w, map[string]string{"fingerprint": fp, "status": "deleted"})
}

// statsResponse summarizes pool/breaker/rotation health for operators.
type statsResponse struct {
	Strategy          string         `json:"strategy"`
	TotalUpstreamKeys  int            `json:"total_upstream_keys"`
	EligibleUpstreamKeys int          `json:"eligible_upstream_keys"`
	BreakerStates      map[string]string `json:"breaker_states"`
}

// Stats handles GET /admin/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	all, err := h.registry.ListAllUpstreamKeys(r.Context())
	if err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}
	eligible, err := h.registry.ListEligibleUpstreamKeys(r.Context())
	if err != nil {
		httpapi.WriteError(w, storeErr(err), h.logger)
		return
	}

	breakerStates := make(map[string]string)
	for fp, state := range h.breakers.Snapshot() {
		breakerStates[fp] = state.String()
	}

	httpapi.WriteSuccess(w, statsResponse{
		Strategy:             string(h.rotation.Strategy()),
		TotalUpstreamKeys:    len(all),
		EligibleUpstreamKeys: len(eligible),
		BreakerStates:        breakerStates,
	})
}

func storeErr(err error) *apierr.Error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apierr.New(apierr.KindStoreUnavailable, "internal store error").WithHTTPStatus(http.StatusServiceUnavailable).WithCause(err)
}
