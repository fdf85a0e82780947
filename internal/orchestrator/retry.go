package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// RetryPolicy governs retries of ordered-log writes: topic creation and
// entry publishing. Only errors core.IsRetryable accepts are retried.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // fraction of the delay, 0 to 1

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy tries four times, backing off from 250ms to at most 5s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  4,
		BaseDelay:    250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.2,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxAttempts = n }
}

func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.BaseDelay = d }
}

func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxDelay = d }
}

func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.JitterFactor = math.Max(0, math.Min(1, factor)) }
}

// NewRetryPolicy applies opts over DefaultRetryPolicy. At least one attempt
// is always made.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	p.MaxAttempts = max(p.MaxAttempts, 1)
	return p
}

// RetryNotifyFunc is called before each wait with the failed attempt
// number, its error and the delay about to be slept.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// Execute runs fn until it succeeds, fails with a non-retryable error or
// runs out of attempts. notify may be nil.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error, notify RetryNotifyFunc) error {
	_, err := retryValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, notify)
	return err
}

// retryValue is Execute for operations that return a value, such as the
// sequence number of a published entry.
func retryValue[T any](ctx context.Context, p *RetryPolicy, fn func(ctx context.Context) (T, error), notify RetryNotifyFunc) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return zero, err
			}
			return zero, &RetryExhaustedError{Attempts: attempt - 1, LastErr: lastErr}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !core.IsRetryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt >= p.MaxAttempts {
			return zero, &RetryExhaustedError{Attempts: attempt, LastErr: err}
		}

		delay := p.Delay(attempt)
		if notify != nil {
			notify(attempt, err, delay)
		}
		if p.wait(ctx, delay) != nil {
			return zero, &RetryExhaustedError{Attempts: attempt, LastErr: err}
		}
	}
}

func (p *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay is Backoff spread by up to ±JitterFactor.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.Backoff(attempt))
	if p.JitterFactor > 0 {
		d += d * p.JitterFactor * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Backoff is BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 {
		d = math.Min(d, float64(p.MaxDelay))
	}
	return time.Duration(d)
}

// RetryExhaustedError reports a retryable failure that outlived the policy.
// It unwraps to the last error, so its code stays visible to GetCode.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted reports whether err wraps a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}
