package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RateLimitResult reports the outcome of a rolling per-minute check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
}

// CheckRateLimit enforces a rolling per-minute counter derived from the
// client key's hourly limit: max(1, hourly/60) requests per minute bucket.
// On state-store failure the limiter fails open (allows the request) —
// a deliberate availability-over-strictness tradeoff for a non-critical
// accounting path.
func (r *Registry) CheckRateLimit(ctx context.Context, userID string, hourlyLimit int) RateLimitResult {
	perMinute := hourlyLimit / 60
	if perMinute < 1 {
		perMinute = 1
	}

	key := rateLimitKey(userID, time.Now().UTC())
	count, err := r.store.AtomicIncrement(ctx, key, time.Minute)
	if err != nil {
		r.logger.Warn("rate limit check failed open due to store error",
			zap.String("user_id", userID), zap.Error(err))
		return RateLimitResult{Allowed: true, Limit: perMinute, Remaining: perMinute}
	}

	remaining := perMinute - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{
		Allowed:   int(count) <= perMinute,
		Limit:     perMinute,
		Remaining: remaining,
	}
}

func rateLimitKey(userID string, now time.Time) string {
	return fmt.Sprintf("rate:%s:%d", userID, now.Unix()/60)
}
