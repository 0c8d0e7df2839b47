package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the attempts of one observer fetch.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay * (1 << p.Attempts)
	}
	return p
}

// backOff yields InitialDelay, 2x, 4x... without jitter.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	p = p.normalized()
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()
	return b
}

// retry runs op until it succeeds or the policy is exhausted. ctx only
// governs the sleeps between attempts. onRetry sees each failure with the
// delay before the next attempt.
func retry[T any](ctx context.Context, p RetryPolicy, op func() (T, error), onRetry func(error, time.Duration)) (T, error) {
	p = p.normalized()
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.Attempts)),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(onRetry))
	}
	return backoff.Retry(ctx, op, opts...)
}
