// Package ctxkeys provides typed context keys for request-scoped values
// threaded through the dataplane (request id, resolved client identity).
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey       contextKey = "request_id"
	clientUserIDKey    contextKey = "client_user_id"
	clientFingerprintKey contextKey = "client_fingerprint"
	clientIPKey        contextKey = "client_ip"
)

// WithRequestID attaches the ingress-generated request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id attached earlier in the chain.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithClientUserID attaches the owning user id of the authenticated client key.
func WithClientUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, clientUserIDKey, userID)
}

// ClientUserID returns the authenticated client's owning user id.
func ClientUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clientUserIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithClientFingerprint attaches the authenticated client key's fingerprint.
func WithClientFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, clientFingerprintKey, fingerprint)
}

// ClientFingerprint returns the authenticated client key's fingerprint.
func ClientFingerprint(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clientFingerprintKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithClientIP attaches the caller's IP address, used for logging and for
// the proxy's X-Forwarded-For header.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the caller's IP address if attached.
func ClientIP(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clientIPKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
