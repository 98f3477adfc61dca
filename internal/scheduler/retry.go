package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/flowmap/pkg/schema"
)

// RetryPolicy bounds how a failed snapshot is retried within one run.
type RetryPolicy struct {
	Attempts int           // total tries, including the first
	Delay    time.Duration // base delay, doubled after each failure
	MaxDelay time.Duration // zero means uncapped
}

// DefaultRetryPolicy retries transient store failures twice.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Delay:    200 * time.Millisecond,
	MaxDelay: 2 * time.Second,
}

// WithRetry replaces the retry policy of job runs.
func WithRetry(p RetryPolicy) Option {
	return func(s *Scheduler) {
		if p.Attempts < 1 {
			p.Attempts = 1
		}
		s.retry = p
	}
}

// isRetryable reports whether a snapshot failure may succeed on another try.
// Only store failures and step deadlines qualify; a missing map or a bad
// document fails the same way every time.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var fe *schema.FlowmapError
	return errors.As(err, &fe) && fe.Code == schema.ErrCodeStore
}

// backoff returns the delay before retry number attempt (0-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.Delay
	for i := 0; i < attempt && delay > 0; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
