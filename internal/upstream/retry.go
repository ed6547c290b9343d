package upstream

import (
	"context"
	"time"

	"github.com/ridewatch/transit-alerts/internal/domain"
)

// RetryPolicy bounds attempts against the upstream API: at most MaxAttempts
// tries with exponential backoff between them, capped at MaxDelay. Sleep is
// injectable so tests run retries with zero real delay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy builds the production policy: base, 2×base, 4×base...
// capped at 4× the base delay.
func DefaultRetryPolicy(maxAttempts int, baseDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    4 * baseDelay,
		Sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds or attempts are exhausted. Exhaustion wraps
// the last error in *domain.UpstreamError so callers can degrade to "no
// data" instead of failing the request.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if attempt < attempts {
				if serr := p.Sleep(ctx, p.delay(attempt)); serr != nil {
					return &domain.UpstreamError{Op: op, Attempts: attempt, Err: serr}
				}
			}
			continue
		}
		return nil
	}

	return &domain.UpstreamError{Op: op, Attempts: attempts, Err: lastErr}
}
