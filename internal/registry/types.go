// Package registry implements the Credential Registry: the exclusive
// owner of ClientKey and UpstreamKey records, backed by the state store.
package registry

import "time"

// Permission is one of the closed set of client-key capabilities.
type Permission string

const (
	PermissionChatCompletions Permission = "chat-completions"
	PermissionModelsList      Permission = "models-list"
	PermissionEmbeddings      Permission = "embeddings"
	PermissionImagesGenerate  Permission = "images-generate"
)

// ClientKey is a client-issued credential, identified by its fingerprint.
type ClientKey struct {
	Fingerprint string
	UserID      string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	Active      bool
	Permissions []Permission
	UsageCount  int64
	// RateLimit is the number of requests allowed per rolling hour.
	RateLimit int
}

// HasPermission reports whether the key grants perm.
func (k *ClientKey) HasPermission(perm Permission) bool {
	for _, p := range k.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// UpstreamKey is one credential for the upstream provider.
type UpstreamKey struct {
	Fingerprint       string
	AddedAt           time.Time
	Active            bool
	Healthy           bool
	FailureCount      int
	LastUsedAt        *time.Time
	RateLimitResetAt  *time.Time
	UsageCount        int64
	LastError         string
}

// RateLimited reports whether the key is currently serving a rate-limit
// cooldown imposed by the upstream provider.
func (k *UpstreamKey) RateLimited(now time.Time) bool {
	return k.RateLimitResetAt != nil && k.RateLimitResetAt.After(now)
}

// Eligible reports whether the key may currently be selected by the
// rotation engine, independent of circuit-breaker state.
func (k *UpstreamKey) Eligible(now time.Time) bool {
	return k.Active && k.Healthy && !k.RateLimited(now)
}

// FailureDisableThreshold is the consecutive-failure count at which an
// upstream key is forcibly marked unhealthy and dropped from the active set.
const FailureDisableThreshold = 5
