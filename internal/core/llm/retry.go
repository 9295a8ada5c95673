package llm

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/logger"
)

// RetryPolicy bounds retries of transient provider failures.
type RetryPolicy struct {
	MaxRetries uint64
	Base       time.Duration
	Max        time.Duration
	Jitter     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 4, Base: 500 * time.Millisecond, Max: 20 * time.Second, Jitter: 100 * time.Millisecond}
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.Base)
	if p.Max > 0 {
		b = retry.WithCappedDuration(p.Max, b)
	}
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// withRetry retries fn while it fails with a rate limit or an unavailable
// provider. Malformed input and every other error return immediately.
func withRetry(ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && core.IsTransient(err) {
			logger.FromContext(ctx).Warn("transient provider error, retrying", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}
