/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"
)

// Rate describes the frequency of dispatched requests.
type Rate struct {
	Count    int
	Duration time.Duration
}

// BurstLimitAlg determines which algorithm guards against request bursts
// when quota is plentiful.
type BurstLimitAlg string

// Supported burst limiting algorithms.
const (
	BurstLimitAlgLeakyBucket   BurstLimitAlg = "leaky_bucket"
	BurstLimitAlgSlidingWindow BurstLimitAlg = "sliding_window"
)

// burstLimiter caps the dispatch rate per resource class independently of quota state.
type burstLimiter interface {
	Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error)
}

func newBurstLimiter(alg BurstLimitAlg, maxRate Rate, maxBurst int) (burstLimiter, error) {
	switch alg {
	case BurstLimitAlgSlidingWindow:
		return newSlidingWindowLimiter(maxRate), nil
	case BurstLimitAlgLeakyBucket, "":
		return newLeakyBucketLimiter(maxRate, maxBurst)
	}
	return nil, fmt.Errorf("unknown burst limit algorithm %q", alg)
}

// leakyBucketLimiter implements GCRA (a leaky bucket variant,
// see https://brandur.org/rate-limiting#gcra).
type leakyBucketLimiter struct {
	limiter *throttled.GCRARateLimiterCtx
}

func newLeakyBucketLimiter(maxRate Rate, maxBurst int) (*leakyBucketLimiter, error) {
	// Keys are a handful of fixed resource classes, so a tiny store suffices.
	gcraStore, err := memstore.NewCtx(64)
	if err != nil {
		return nil, fmt.Errorf("new in-memory store: %w", err)
	}
	gcraLimiter, err := throttled.NewGCRARateLimiterCtx(gcraStore, throttled.RateQuota{
		MaxRate:  throttled.PerDuration(maxRate.Count, maxRate.Duration),
		MaxBurst: maxBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("new GCRA rate limiter: %w", err)
	}
	return &leakyBucketLimiter{gcraLimiter}, nil
}

// Allow checks if the next dispatch for the key is within the rate.
func (l *leakyBucketLimiter) Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	limited, res, err := l.limiter.RateLimitCtx(ctx, key, 1)
	if err != nil {
		return false, 0, err
	}
	return !limited, res.RetryAfter, nil
}

// slidingWindowLimiter implements the sliding window rate limiting algorithm.
type slidingWindowLimiter struct {
	mu       sync.Mutex
	limiters map[string]*slidingwindow.Limiter
	maxRate  Rate
}

func newSlidingWindowLimiter(maxRate Rate) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		limiters: make(map[string]*slidingwindow.Limiter),
		maxRate:  maxRate,
	}
}

// Allow checks if the next dispatch for the key is within the rate.
func (l *slidingWindowLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim, _ = slidingwindow.NewLimiter(
			l.maxRate.Duration, int64(l.maxRate.Count), func() (slidingwindow.Window, slidingwindow.StopFunc) {
				return slidingwindow.NewLocalWindow()
			})
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	if lim.Allow() {
		return true, 0, nil
	}
	now := time.Now()
	retryAfter = now.Truncate(l.maxRate.Duration).Add(l.maxRate.Duration).Sub(now)
	return false, retryAfter, nil
}
