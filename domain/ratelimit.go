package domain

import (
	"context"
	"time"
)

// RateLimitDecision is the outcome of charging one request against a budget.
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller should wait before the window resets.
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.Before(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// RateLimitStore counts requests per key inside a fixed window. Take must be
// atomic per key: concurrent callers never observe the same count.
type RateLimitStore interface {
	Take(ctx context.Context, key string) (RateLimitDecision, error)
}
