package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/openrouter-proxy/gateway/internal/apierr"
	"github.com/openrouter-proxy/gateway/internal/store"
	"github.com/openrouter-proxy/gateway/internal/vault"

	"go.uber.org/zap"
)

const (
	nsClientKey     = "client-key"
	nsUpstreamKey   = "upstream-key"
	nsUserIndex     = "user-index"
	setUpstreamActive = "upstream-active"

	maxBulkUpstreamKeys = 100
)

// Registry is the Credential Registry (C2): the exclusive owner of
// ClientKey and UpstreamKey records.
type Registry struct {
	store  *store.Store
	vault  *vault.Vault
	logger *zap.Logger
}

// New creates a Credential Registry over store, sealing upstream secrets
// through vault.
func New(s *store.Store, v *vault.Vault, logger *zap.Logger) *Registry {
	return &Registry{store: s, vault: v, logger: logger.With(zap.String("component", "registry"))}
}

// =============================================================================
// 🔑 Client Keys
// =============================================================================

// IssueClientKey generates a fresh client secret and returns its plaintext
// (shown exactly once) and fingerprint.
func (r *Registry) IssueClientKey(ctx context.Context, userID string, permissions []Permission, rateLimit int) (plaintext, fp string, err error) {
	if userID == "" {
		return "", "", fmt.Errorf("user id must not be empty")
	}
	if rateLimit <= 0 {
		rateLimit = 1000
	}

	plaintext, err = generateSecret()
	if err != nil {
		return "", "", fmt.Errorf("generate client secret: %w", err)
	}
	fp = fingerprint(plaintext)

	key := clientKeyRecordKey(fp)
	if _, err := r.store.GetRecord(ctx, key); err == nil {
		return "", "", apierr.ErrConflict.WithCause(fmt.Errorf("fingerprint collision"))
	} else if err != store.ErrNotFound {
		return "", "", apierr.New(apierr.KindStoreUnavailable, "check client key existence").WithCause(err)
	}

	permsJSON, err := json.Marshal(permissions)
	if err != nil {
		return "", "", fmt.Errorf("encode permissions: %w", err)
	}

	fields := map[string]string{
		"user_id":    userID,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		"active":     "true",
		"perms":      string(permsJSON),
		"usage":      "0",
		"rate_limit": strconv.Itoa(rateLimit),
	}
	if err := r.store.PutRecord(ctx, key, fields); err != nil {
		return "", "", apierr.New(apierr.KindStoreUnavailable, "persist client key").WithCause(err)
	}
	if err := r.store.SetAdd(ctx, userIndexKey(userID), fp); err != nil {
		r.logger.Error("failed to index client key by user", zap.String("user_id", userID), zap.Error(err))
	}

	return plaintext, fp, nil
}

// ValidateClientKey fingerprints plaintext, loads the record, and — on an
// active hit — atomically bumps last-used and usage count.
func (r *Registry) ValidateClientKey(ctx context.Context, plaintext string) (*ClientKey, error) {
	fp := fingerprint(plaintext)
	fields, err := r.store.GetRecord(ctx, clientKeyRecordKey(fp))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.New(apierr.KindStoreUnavailable, "load client key").WithCause(err)
	}

	ck := decodeClientKey(fp, fields)
	if !ck.Active {
		return nil, nil
	}

	now := time.Now().UTC()
	ck.LastUsedAt = &now
	ck.UsageCount++
	_ = r.store.PutRecord(ctx, clientKeyRecordKey(fp), map[string]string{
		"last_used_at": now.Format(time.RFC3339Nano),
		"usage":        strconv.FormatInt(ck.UsageCount, 10),
	})

	return ck, nil
}

// DeactivateClientKey flips a client key inactive, preserving history.
func (r *Registry) DeactivateClientKey(ctx context.Context, fp string) error {
	return r.store.PutRecord(ctx, clientKeyRecordKey(fp), map[string]string{"active": "false"})
}

// ReactivateClientKey flips a client key back to active.
func (r *Registry) ReactivateClientKey(ctx context.Context, fp string) error {
	return r.store.PutRecord(ctx, clientKeyRecordKey(fp), map[string]string{"active": "true"})
}

// DeleteClientKey irreversibly removes a client key and its user index entry.
func (r *Registry) DeleteClientKey(ctx context.Context, fp string) (bool, error) {
	fields, err := r.store.GetRecord(ctx, clientKeyRecordKey(fp))
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, apierr.New(apierr.KindStoreUnavailable, "load client key").WithCause(err)
	}

	if err := r.store.DeleteRecord(ctx, clientKeyRecordKey(fp)); err != nil {
		return false, apierr.New(apierr.KindStoreUnavailable, "delete client key").WithCause(err)
	}
	if userID := fields["user_id"]; userID != "" {
		_ = r.store.SetRemove(ctx, userIndexKey(userID), fp)
	}
	return true, nil
}

// ListClientKeysByUser returns every client key belonging to userID.
func (r *Registry) ListClientKeysByUser(ctx context.Context, userID string) ([]*ClientKey, error) {
	fps, err := r.store.SetMembers(ctx, userIndexKey(userID))
	if err != nil {
		return nil, apierr.New(apierr.KindStoreUnavailable, "list user keys").WithCause(err)
	}
	out := make([]*ClientKey, 0, len(fps))
	for _, fp := range fps {
		fields, err := r.store.GetRecord(ctx, clientKeyRecordKey(fp))
		if err != nil {
			continue
		}
		out = append(out, decodeClientKey(fp, fields))
	}
	return out, nil
}

func clientKeyRecordKey(fp string) string { return nsClientKey + ":" + fp }
func userIndexKey(userID string) string   { return nsUserIndex + ":" + userID }

func decodeClientKey(fp string, fields map[string]string) *ClientKey {
	ck := &ClientKey{
		Fingerprint: fp,
		UserID:      fields["user_id"],
		Active:      fields["active"] == "true",
		Permissions: decodePermissions(fields["perms"]),
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		ck.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["last_used_at"]); err == nil {
		ck.LastUsedAt = &t
	}
	if n, err := strconv.ParseInt(fields["usage"], 10, 64); err == nil {
		ck.UsageCount = n
	}
	if n, err := strconv.Atoi(fields["rate_limit"]); err == nil {
		ck.RateLimit = n
	}
	return ck
}

// decodePermissions parses the record's JSON-list permissions field,
// tolerating the empty string (a record written before permissions were
// ever set) and "null" (an explicitly empty permission set).
func decodePermissions(raw string) []Permission {
	if raw == "" {
		return nil
	}
	var out []Permission
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
