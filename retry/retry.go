/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry provides a small backoff-driven executor used as the optional
// retry collaborator of the gate. Retries are decided by transport-level
// signals only, never by response content.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IsRetryable tells if an error is transient as opposed to persistent.
type IsRetryable func(error) bool

// Fn is a unit of work that may be retried.
type Fn func(ctx context.Context) error

// Policy defines a backoff strategy.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// PolicyFunc adapts an ordinary function to the Policy interface.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// Do executes fn, retrying according to the policy while isRetryable reports
// the returned error as transient (nil isRetryable retries any error), with
// respect to ctx cancellation.
func Do(ctx context.Context, p Policy, isRetryable IsRetryable, fn Fn) error {
	b := backoff.WithContext(p.NewBackOff(), ctx)
	op := func() error {
		err := fn(b.Context())
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, b)
}

// ExponentialPolicy retries up to maxAttempts times with exponentially growing delays.
type ExponentialPolicy struct {
	initialInterval time.Duration
	maxAttempts     int
}

// NewExponentialPolicy returns an exponential backoff policy with the given
// initial interval and max retry attempt count.
func NewExponentialPolicy(initialInterval time.Duration, maxAttempts int) ExponentialPolicy {
	return ExponentialPolicy{initialInterval, maxAttempts}
}

// NewBackOff implements Policy.
func (p ExponentialPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initialInterval
	var b backoff.BackOff = eb
	if p.maxAttempts > 0 {
		b = backoff.WithMaxRetries(eb, uint64(p.maxAttempts))
	}
	b.Reset()
	return b
}

// ConstantPolicy retries up to maxAttempts times with a constant delay.
type ConstantPolicy struct {
	interval    time.Duration
	maxAttempts int
}

// NewConstantPolicy returns a constant backoff policy with the given interval
// and max retry attempt count.
func NewConstantPolicy(interval time.Duration, maxAttempts int) ConstantPolicy {
	return ConstantPolicy{interval, maxAttempts}
}

// NewBackOff implements Policy.
func (p ConstantPolicy) NewBackOff() backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.interval)
	if p.maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.maxAttempts))
	}
	b.Reset()
	return b
}
