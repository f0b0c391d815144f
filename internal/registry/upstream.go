package registry

import (
	"context"
	"strconv"
	"time"

	"github.com/openrouter-proxy/gateway/internal/apierr"
	"github.com/openrouter-proxy/gateway/internal/store"

	"go.uber.org/zap"
)

// AddUpstreamKey registers a new upstream credential: computes its
// fingerprint, seals the plaintext in the Vault, and records it as active.
// Returns an empty fingerprint (no error) when the key is a duplicate.
func (r *Registry) AddUpstreamKey(ctx context.Context, plaintext string) (string, error) {
	fp := fingerprint(plaintext)

	if _, err := r.store.GetRecord(ctx, upstreamKeyRecordKey(fp)); err == nil {
		return "", nil
	} else if err != store.ErrNotFound {
		return "", apierr.New(apierr.KindStoreUnavailable, "check upstream key existence").WithCause(err)
	}

	fields := map[string]string{
		"added_at": time.Now().UTC().Format(time.RFC3339Nano),
		"active":   "true",
		"healthy":  "true",
		"failures": "0",
		"usage":    "0",
	}
	if err := r.store.PutRecord(ctx, upstreamKeyRecordKey(fp), fields); err != nil {
		return "", apierr.New(apierr.KindStoreUnavailable, "persist upstream key").WithCause(err)
	}
	if err := r.store.SetAdd(ctx, setUpstreamActive, fp); err != nil {
		r.logger.Error("failed to index upstream key as active", zap.String("fingerprint_bucket", bucket(fp)), zap.Error(err))
	}
	if err := r.vault.Seal(ctx, fp, plaintext); err != nil {
		r.logger.Error("failed to seal upstream secret", zap.String("fingerprint_bucket", bucket(fp)), zap.Error(err))
		return "", apierr.New(apierr.KindVaultUnavailable, "seal upstream secret").WithCause(err)
	}

	return fp, nil
}

// BulkAddUpstreamKeys imports up to maxBulkUpstreamKeys plaintexts,
// isolating per-key failures rather than aborting the whole batch.
func (r *Registry) BulkAddUpstreamKeys(ctx context.Context, plaintexts []string) (total, ok, failed int, errs []string, okFingerprints []string) {
	total = len(plaintexts)
	if total > maxBulkUpstreamKeys {
		plaintexts = plaintexts[:maxBulkUpstreamKeys]
		total = maxBulkUpstreamKeys
	}

	for _, pt := range plaintexts {
		fp, err := r.AddUpstreamKey(ctx, pt)
		if err != nil {
			failed++
			errs = append(errs, err.Error())
			continue
		}
		if fp == "" {
			// Duplicate of an existing key: nothing was added.
			failed++
			continue
		}
		ok++
		okFingerprints = append(okFingerprints, fp)
	}
	return
}

// MarkUpstreamUnhealthy increments the failure counter and, once it
// reaches FailureDisableThreshold, disables the key and drops it from the
// active set.
func (r *Registry) MarkUpstreamUnhealthy(ctx context.Context, fp, errorText string) error {
	fields, err := r.store.GetRecord(ctx, upstreamKeyRecordKey(fp))
	if err != nil {
		return apierr.New(apierr.KindStoreUnavailable, "load upstream key").WithCause(err)
	}

	failures := atoiDefault(fields["failures"], 0) + 1
	update := map[string]string{
		"failures":   strconv.Itoa(failures),
		"last_error": errorText,
	}

	if failures >= FailureDisableThreshold {
		update["healthy"] = "false"
		if err := r.store.SetRemove(ctx, setUpstreamActive, fp); err != nil {
			r.logger.Error("failed to remove upstream key from active set", zap.String("fingerprint_bucket", bucket(fp)), zap.Error(err))
		}
	}

	if err := r.store.PutRecord(ctx, upstreamKeyRecordKey(fp), update); err != nil {
		return apierr.New(apierr.KindStoreUnavailable, "update upstream key").WithCause(err)
	}
	return nil
}

// MarkUpstreamRateLimited records an upstream-imposed cooldown. The key
// remains in the active set; eligibility is re-derived from reset time.
func (r *Registry) MarkUpstreamRateLimited(ctx context.Context, fp string, resetAt time.Time) error {
	return r.store.PutRecord(ctx, upstreamKeyRecordKey(fp), map[string]string{
		"healthy":         "false",
		"rate_limit_reset": resetAt.UTC().Format(time.RFC3339Nano),
	})
}

// MarkUpstreamSuccess clears failure state and bumps usage bookkeeping.
func (r *Registry) MarkUpstreamSuccess(ctx context.Context, fp string) error {
	now := time.Now().UTC()
	fields, err := r.store.GetRecord(ctx, upstreamKeyRecordKey(fp))
	usage := int64(0)
	if err == nil {
		usage = atoi64Default(fields["usage"], 0) + 1
	}
	return r.store.PutRecord(ctx, upstreamKeyRecordKey(fp), map[string]string{
		"healthy":           "true",
		"failures":          "0",
		"rate_limit_reset":  "",
		"last_used_at":      now.Format(time.RFC3339Nano),
		"usage":             strconv.FormatInt(usage, 10),
	})
}

// RecoverUpstreamKey clears failure/rate-limit state without touching
// usage or last-used bookkeeping (unlike MarkUpstreamSuccess, this models
// a passage of time, not an actual successful call) and re-adds the
// fingerprint to the active set, used by the rotation engine's periodic
// cleanup sweep.
func (r *Registry) RecoverUpstreamKey(ctx context.Context, fp string) error {
	if err := r.store.PutRecord(ctx, upstreamKeyRecordKey(fp), map[string]string{
		"healthy":          "true",
		"failures":         "0",
		"rate_limit_reset": "",
	}); err != nil {
		return err
	}
	return r.store.SetAdd(ctx, setUpstreamActive, fp)
}

// ListEligibleUpstreamKeys returns the active-set members whose derived
// eligibility predicate holds. Breaker-state filtering happens in the
// rotation engine, not here.
func (r *Registry) ListEligibleUpstreamKeys(ctx context.Context) ([]*UpstreamKey, error) {
	fps, err := r.store.SetMembers(ctx, setUpstreamActive)
	if err != nil {
		return nil, apierr.New(apierr.KindStoreUnavailable, "list active upstream keys").WithCause(err)
	}

	now := time.Now().UTC()
	out := make([]*UpstreamKey, 0, len(fps))
	for _, fp := range fps {
		fields, err := r.store.GetRecord(ctx, upstreamKeyRecordKey(fp))
		if err != nil {
			continue
		}
		uk := decodeUpstreamKey(fp, fields)
		if uk.Eligible(now) {
			out = append(out, uk)
		}
	}
	return out, nil
}

// ListAllUpstreamKeys returns every upstream key record regardless of
// eligibility, for admin listing.
func (r *Registry) ListAllUpstreamKeys(ctx context.Context) ([]*UpstreamKey, error) {
	var out []*UpstreamKey
	err := r.store.Scan(ctx, nsUpstreamKey+":*", func(key string) error {
		fields, err := r.store.GetRecord(ctx, key)
		if err != nil {
			return nil
		}
		fp := key[len(nsUpstreamKey)+1:]
		out = append(out, decodeUpstreamKey(fp, fields))
		return nil
	})
	if err != nil {
		return nil, apierr.New(apierr.KindStoreUnavailable, "scan upstream keys").WithCause(err)
	}
	return out, nil
}

// DeleteUpstreamKey removes the record, active-set membership, and its
// vault entry.
func (r *Registry) DeleteUpstreamKey(ctx context.Context, fp string) (bool, error) {
	_, err := r.store.GetRecord(ctx, upstreamKeyRecordKey(fp))
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, apierr.New(apierr.KindStoreUnavailable, "load upstream key").WithCause(err)
	}

	if err := r.store.DeleteRecord(ctx, upstreamKeyRecordKey(fp)); err != nil {
		return false, apierr.New(apierr.KindStoreUnavailable, "delete upstream key").WithCause(err)
	}
	_ = r.store.SetRemove(ctx, setUpstreamActive, fp)
	if err := r.vault.Delete(ctx, fp); err != nil {
		r.logger.Error("failed to delete vault entry", zap.String("fingerprint_bucket", bucket(fp)), zap.Error(err))
	}
	return true, nil
}

func upstreamKeyRecordKey(fp string) string { return nsUpstreamKey + ":" + fp }

func decodeUpstreamKey(fp string, fields map[string]string) *UpstreamKey {
	uk := &UpstreamKey{
		Fingerprint:  fp,
		Active:       fields["active"] == "true",
		Healthy:      fields["healthy"] == "true",
		FailureCount: atoiDefault(fields["failures"], 0),
		UsageCount:   atoi64Default(fields["usage"], 0),
		LastError:    fields["last_error"],
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["added_at"]); err == nil {
		uk.AddedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["last_used_at"]); err == nil {
		uk.LastUsedAt = &t
	}
	if raw := fields["rate_limit_reset"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			uk.RateLimitResetAt = &t
		}
	}
	return uk
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func atoi64Default(s string, def int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func bucket(fp string) string {
	if len(fp) <= 8 {
		return fp
	}
	return fp[:8]
}
