// Package retry implements the capped exponential backoff shared by the
// outbound service adapters.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/emissionary/backend/internal/domain"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 8 * time.Second
)

// Policy describes how often and how long to retry a call
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Defaults to domain.IsRetryable.
	Retryable func(error) bool

	// OnRetry is called before sleeping between attempts, if set.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns 3 attempts with 500ms base delay capped at 8s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
		Retryable:   domain.IsRetryable,
	}
}

// withDefaults fills zero fields
func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Retryable == nil {
		p.Retryable = domain.IsRetryable
	}
	return p
}

// Backoff returns base * 2^attempt capped at MaxDelay. attempt is zero-based.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts
// run out. The context is checked before every attempt and while sleeping.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return contextError(err, lastErr)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !p.Retryable(lastErr) || attempt == p.MaxAttempts-1 {
			return lastErr
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return contextError(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return lastErr
}

func contextError(ctxErr, lastErr error) error {
	pe := domain.FromContextError("retry", ctxErr)
	if lastErr != nil {
		pe.Err = fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
	}
	return pe
}
