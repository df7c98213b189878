/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, opts ControllerOpts) *Controller {
	t.Helper()
	if opts.MinInterval == 0 {
		opts.MinInterval = time.Millisecond
	}
	if opts.DispatchDelay == 0 {
		opts.DispatchDelay = time.Millisecond
	}
	c, err := NewControllerWithOpts(opts)
	require.NoError(t, err)
	return c
}

func TestControllerPriorityOrdering(t *testing.T) {
	c := newTestController(t, ControllerOpts{})
	ctx := context.Background()

	release := make(chan struct{})
	var wg sync.WaitGroup

	// The blocker occupies the drain loop so that the next entries pile up in the queue.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Do(ctx, ResourceGeneral, PriorityHigh+100, func(ctx context.Context) (*Update, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	var mu sync.Mutex
	var order []int
	for _, p := range []int{1, 5, 3} {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Do(ctx, ResourceGeneral, Priority(p), func(ctx context.Context) (*Update, error) {
				mu.Lock()
				order = append(order, p)
				mu.Unlock()
				return nil, nil
			})
		}()
		time.Sleep(10 * time.Millisecond) // fix submission order for the FIFO tie-break guarantee
	}

	close(release)
	wg.Wait()
	require.Equal(t, []int{5, 3, 1}, order)
}

func TestControllerLowQuotaBlocksUntilReset(t *testing.T) {
	c := newTestController(t, ControllerOpts{})
	ctx := context.Background()

	resetAt := time.Now().Add(400 * time.Millisecond)
	err := c.Do(ctx, ResourceSearch, PriorityNormal, func(ctx context.Context) (*Update, error) {
		return &Update{Limit: 30, Remaining: 5, ResetAt: resetAt}, nil
	})
	require.NoError(t, err)

	var searchRanAt time.Time
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Do(ctx, ResourceSearch, PriorityNormal, func(ctx context.Context) (*Update, error) {
			searchRanAt = time.Now()
			return nil, nil
		})
	}()

	// A resource with ample quota must not be blocked by the search wait.
	start := time.Now()
	err = c.Do(ctx, ResourceGeneral, PriorityNormal, func(ctx context.Context) (*Update, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 200*time.Millisecond, "general resource must dispatch independently")

	wg.Wait()
	require.False(t, searchRanAt.Before(resetAt), "search task must wait until the quota reset")

	// After the reset elapsed the quota is restored to the full limit.
	st := c.Status()
	require.Equal(t, 30, st.Quotas[ResourceSearch].Remaining)
}

func TestControllerQuotaExhaustedError(t *testing.T) {
	c := newTestController(t, ControllerOpts{})
	ctx := context.Background()

	resetAt := time.Now().Add(300 * time.Millisecond)
	wantErr := &QuotaExhaustedError{Resource: ResourceGeneral, ResetAt: resetAt}
	err := c.Do(ctx, ResourceGeneral, PriorityNormal, func(ctx context.Context) (*Update, error) {
		return nil, wantErr
	})
	var qe *QuotaExhaustedError
	require.ErrorAs(t, err, &qe, "task error must propagate unchanged")
	require.True(t, IsQuotaExhausted(err))

	st := c.Status()
	require.Equal(t, 0, st.Quotas[ResourceGeneral].Remaining)
	require.Equal(t, resetAt.Unix(), st.Quotas[ResourceGeneral].ResetAt.Unix())

	// The next admission for the same resource defers until the reset.
	var ranAt time.Time
	err = c.Do(ctx, ResourceGeneral, PriorityNormal, func(ctx context.Context) (*Update, error) {
		ranAt = time.Now()
		return nil, nil
	})
	require.NoError(t, err)
	require.False(t, ranAt.Before(resetAt))
}

func TestControllerTransportErrorPropagates(t *testing.T) {
	c := newTestController(t, ControllerOpts{})

	wantErr := errors.New("boom")
	err := c.Do(context.Background(), ResourceGeneral, PriorityNormal, func(ctx context.Context) (*Update, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)

	st := c.Status()
	require.Equal(t, DefaultGeneralLimit, st.Quotas[ResourceGeneral].Remaining,
		"opaque transport errors must not touch the quota")
}

func TestControllerQuotaNeverNegative(t *testing.T) {
	c := newTestController(t, ControllerOpts{})

	err := c.Do(context.Background(), ResourceGeneral, PriorityNormal, func(ctx context.Context) (*Update, error) {
		return &Update{Limit: 100, Remaining: -42}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, c.Status().Quotas[ResourceGeneral].Remaining)
}

func TestControllerWaitForReset(t *testing.T) {
	c := newTestController(t, ControllerOpts{})
	ctx := context.Background()

	t.Run("no pending reset returns immediately", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, c.WaitForReset(ctx, ResourceGeneral))
		require.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("blocks until reset and restores quota", func(t *testing.T) {
		resetAt := time.Now().Add(200 * time.Millisecond)
		err := c.Do(ctx, ResourceGraphQL, PriorityNormal, func(ctx context.Context) (*Update, error) {
			return nil, &QuotaExhaustedError{Resource: ResourceGraphQL, ResetAt: resetAt}
		})
		require.Error(t, err)

		require.NoError(t, c.WaitForReset(ctx, ResourceGraphQL))
		require.False(t, time.Now().Before(resetAt))
		require.Equal(t, DefaultGraphQLLimit, c.Status().Quotas[ResourceGraphQL].Remaining)
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		err := c.Do(ctx, ResourceSearch, PriorityNormal, func(ctx context.Context) (*Update, error) {
			return nil, &QuotaExhaustedError{Resource: ResourceSearch, ResetAt: time.Now().Add(time.Hour)}
		})
		require.Error(t, err)

		cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, c.WaitForReset(cancelCtx, ResourceSearch), context.DeadlineExceeded)
	})
}

func TestControllerAbandonBeforeDispatch(t *testing.T) {
	c := newTestController(t, ControllerOpts{})

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Do(context.Background(), ResourceGeneral, PriorityNormal, func(ctx context.Context) (*Update, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	canceledCtx, cancel := context.WithCancel(context.Background())
	cancel()
	executed := false
	err := c.Do(canceledCtx, ResourceGeneral, PriorityNormal, func(ctx context.Context) (*Update, error) {
		executed = true
		return nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	require.False(t, executed, "a task abandoned before dispatch must be skipped")
}

type reportingResult struct {
	value  string
	update Update
}

func (r reportingResult) QuotaUpdate() (Update, bool) {
	return r.update, true
}

func TestDoGeneric(t *testing.T) {
	c := newTestController(t, ControllerOpts{})
	ctx := context.Background()

	t.Run("returns typed result", func(t *testing.T) {
		res, err := Do(ctx, c, ResourceGeneral, PriorityNormal, func(ctx context.Context) (int, error) {
			return 42, nil
		})
		require.NoError(t, err)
		require.Equal(t, 42, res)
	})

	t.Run("applies reported quota metadata", func(t *testing.T) {
		res, err := Do(ctx, c, ResourceGeneral, PriorityNormal, func(ctx context.Context) (reportingResult, error) {
			return reportingResult{
				value:  "ok",
				update: Update{Limit: 5000, Remaining: 4999},
			}, nil
		})
		require.NoError(t, err)
		require.Equal(t, "ok", res.value)
		require.Equal(t, 4999, c.Status().Quotas[ResourceGeneral].Remaining)
	})
}

func TestControllerStatus(t *testing.T) {
	c := newTestController(t, ControllerOpts{QuotaLimits: map[ResourceClass]int{ResourceSearch: 10}})

	st := c.Status()
	require.Len(t, st.Quotas, 3)
	require.Equal(t, 10, st.Quotas[ResourceSearch].Limit)
	require.Equal(t, 10, st.Quotas[ResourceSearch].Remaining)
	require.Equal(t, DefaultGeneralLimit, st.Quotas[ResourceGeneral].Limit)
	require.Empty(t, st.QueueLengths)
}

func TestControllerBurstGuard(t *testing.T) {
	c := newTestController(t, ControllerOpts{
		BurstRate: Rate{Count: 100, Duration: time.Second},
		BurstAlg:  BurstLimitAlgSlidingWindow,
	})

	for i := 0; i < 3; i++ {
		err := c.Do(context.Background(), ResourceGeneral, PriorityNormal, func(ctx context.Context) (*Update, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}
}
