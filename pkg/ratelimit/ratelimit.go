// Package ratelimit admits chargeable operations per organization using a
// sliding window sized by the organization's plan. An organization without a
// resolved plan is a data-integrity failure: that means an unauthenticated
// path reached the core, and the limiter must fail loud, never allow.
package ratelimit

import (
	"context"
	"time"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
)

// Result reports one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // > 0 iff Allowed is false
}

// Store records admission timestamps for a key within a window.
// Admit trims entries older than the window, counts survivors, and records
// the call iff the count is below quota. It returns the post-decision count
// and the age of the oldest in-window entry (zero when the window is empty).
type Store interface {
	Admit(ctx context.Context, key string, window time.Duration, quota int) (allowed bool, count int, oldestAge time.Duration, err error)
}

// Limiter is the per-organization sliding-window limiter.
type Limiter struct {
	store Store
}

// NewLimiter creates a limiter backed by the given store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// Check admits or rejects one operation for the organization. On rejection
// the returned error is a RateLimitExceeded carrying retry-after.
func (l *Limiter) Check(ctx context.Context, org domain.Organization) (Result, error) {
	plan, ok := domain.PlanFor(org.PlanID)
	if !ok {
		return Result{}, apierror.Newf(apierror.KindDataIntegrity,
			"organization %s has no resolved plan %q", org.ID, org.PlanID)
	}

	window, quota := plan.Rate.Window, plan.Rate.Quota
	allowed, count, oldestAge, err := l.store.Admit(ctx, "ratelimit:"+org.ID.String(), window, quota)
	if err != nil {
		return Result{}, apierror.Wrap(apierror.KindUpstream, "rate limiter store", err)
	}

	remaining := quota - count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{Allowed: allowed, Limit: quota, Remaining: remaining}
	if allowed {
		return res, nil
	}

	// retry_after is the time until the oldest in-window call ages out.
	retryAfter := window - oldestAge
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	res.RetryAfter = retryAfter
	return res, apierror.RateLimited(int(retryAfter.Seconds() + 0.999))
}
