/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-apigate/admission"
	"github.com/acronis/go-apigate/cache"
	"github.com/acronis/go-apigate/retry"
)

func fastAdmissionOpts() admission.ControllerOpts {
	return admission.ControllerOpts{
		MinInterval:   time.Millisecond,
		DispatchDelay: time.Millisecond,
	}
}

func newTestGate(t *testing.T, opts Opts) *Gate {
	t.Helper()
	if opts.Admission.MinInterval == 0 {
		opts.Admission = fastAdmissionOpts()
	}
	if opts.Cache == nil && !opts.DisableCache {
		c, err := cache.New(100, nil)
		require.NoError(t, err)
		opts.Cache = c
	}
	g, err := New(opts)
	require.NoError(t, err)
	return g
}

func countingFetcher(fetches *atomic.Int64, result interface{}) Fetcher {
	return func(ctx context.Context) (interface{}, error) {
		fetches.Inc()
		return result, nil
	}
}

func TestGateExecuteCaching(t *testing.T) {
	g := newTestGate(t, Opts{})
	ctx := context.Background()
	params := map[string]interface{}{"owner": "acme", "repo": "infra"}

	var fetches atomic.Int64
	fetch := countingFetcher(&fetches, "payload")

	t.Run("repeated call is served from cache", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			v, err := g.Execute(ctx, "get_repo", params, fetch)
			require.NoError(t, err)
			require.Equal(t, "payload", v)
		}
		require.Equal(t, int64(1), fetches.Load())
	})

	t.Run("different params fetch separately", func(t *testing.T) {
		v, err := g.Execute(ctx, "get_repo", map[string]interface{}{"owner": "globex", "repo": "infra"}, fetch)
		require.NoError(t, err)
		require.Equal(t, "payload", v)
		require.Equal(t, int64(2), fetches.Load())
	})

	t.Run("skip cache forces a fetch", func(t *testing.T) {
		_, err := g.Execute(ctx, "get_repo", params, fetch, WithSkipCache())
		require.NoError(t, err)
		require.Equal(t, int64(3), fetches.Load())
	})
}

func TestGateExecuteZeroTTLBypassesCache(t *testing.T) {
	g := newTestGate(t, Opts{})
	ctx := context.Background()
	params := map[string]interface{}{"owner": "acme"}

	var fetches atomic.Int64
	fetch := countingFetcher(&fetches, "fresh")

	for i := 0; i < 2; i++ {
		v, err := g.Execute(ctx, "get_repo", params, fetch, WithCacheTTL(0))
		require.NoError(t, err)
		require.Equal(t, "fresh", v)
	}
	require.Equal(t, int64(2), fetches.Load(), "a zero TTL must never cache")
}

func TestGateExecuteDeduplication(t *testing.T) {
	g := newTestGate(t, Opts{})
	ctx := context.Background()
	params := map[string]interface{}{"owner": "acme"}

	var fetches atomic.Int64
	release := make(chan struct{})
	fetch := func(ctx context.Context) (interface{}, error) {
		fetches.Inc()
		<-release
		return "collapsed", nil
	}

	const callsNum = 10
	var wg sync.WaitGroup
	for i := 0; i < callsNum; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// A zero TTL keeps the cache out of the way; dedup alone must collapse.
			v, err := g.Execute(ctx, "get_repo", params, fetch, WithCacheTTL(0))
			require.NoError(t, err)
			require.Equal(t, "collapsed", v)
		}()
	}

	require.Eventually(t, func() bool { return fetches.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), fetches.Load())
	require.Equal(t, int64(callsNum-1), g.Status().Dedup.Deduplicated)
}

func TestGateExecuteSkipDedup(t *testing.T) {
	g := newTestGate(t, Opts{DisableCache: true})
	ctx := context.Background()

	var fetches atomic.Int64
	for i := 0; i < 2; i++ {
		_, err := g.Execute(ctx, "get_repo", map[string]interface{}{"owner": "acme"},
			countingFetcher(&fetches, nil), WithSkipDedup())
		require.NoError(t, err)
	}
	require.Equal(t, int64(2), fetches.Load())
	require.Zero(t, g.Status().Dedup.Total, "skipped calls must not touch the deduplicator")
}

func TestGateExecuteErrorPropagation(t *testing.T) {
	g := newTestGate(t, Opts{})
	ctx := context.Background()
	params := map[string]interface{}{"owner": "acme"}

	wantErr := errors.New("remote unavailable")
	var fetches atomic.Int64
	_, err := g.Execute(ctx, "get_repo", params, func(ctx context.Context) (interface{}, error) {
		fetches.Inc()
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr, "transport errors must propagate unchanged")

	// Failures are not cached; the next call fetches again.
	v, err := g.Execute(ctx, "get_repo", params, countingFetcher(&fetches, "recovered"))
	require.NoError(t, err)
	require.Equal(t, "recovered", v)
	require.Equal(t, int64(2), fetches.Load())
}

func TestGateExecuteNilFetcher(t *testing.T) {
	g := newTestGate(t, Opts{})
	_, err := g.Execute(context.Background(), "get_repo", nil, nil)
	require.Error(t, err)
}

type searchResult struct {
	Items  []string
	update admission.Update
}

func (r searchResult) QuotaUpdate() (admission.Update, bool) {
	return r.update, true
}

func TestGateResourceRouting(t *testing.T) {
	g := newTestGate(t, Opts{DisableCache: true, DisableDedup: true})
	ctx := context.Background()

	t.Run("search operations use the search bucket", func(t *testing.T) {
		res := searchResult{
			Items:  []string{"hit"},
			update: admission.Update{Limit: 30, Remaining: 29},
		}
		v, err := g.Execute(ctx, "search_issues", map[string]interface{}{"q": "bug"},
			func(ctx context.Context) (interface{}, error) { return res, nil })
		require.NoError(t, err)
		require.Equal(t, res, v)

		st := g.Status()
		require.Equal(t, 29, st.Quotas[admission.ResourceSearch].Remaining)
		require.Equal(t, admission.DefaultGeneralLimit, st.Quotas[admission.ResourceGeneral].Remaining)
	})

	t.Run("WithResource pins the bucket", func(t *testing.T) {
		res := searchResult{update: admission.Update{Limit: 5000, Remaining: 4998}}
		_, err := g.Execute(ctx, "custom_op", nil,
			func(ctx context.Context) (interface{}, error) { return res, nil },
			WithResource(admission.ResourceGraphQL))
		require.NoError(t, err)
		require.Equal(t, 4998, g.Status().Quotas[admission.ResourceGraphQL].Remaining)
	})
}

func TestGateTTLRules(t *testing.T) {
	g := newTestGate(t, Opts{
		TTLRules: []TTLRule{
			{Pattern: "list_*", TTL: 0},
			{Pattern: "get_*", TTL: time.Hour},
		},
	})
	ctx := context.Background()

	var fetches atomic.Int64
	fetch := countingFetcher(&fetches, nil)

	for i := 0; i < 2; i++ {
		_, err := g.Execute(ctx, "list_repos", map[string]interface{}{"owner": "acme"}, fetch)
		require.NoError(t, err)
	}
	require.Equal(t, int64(2), fetches.Load(), "a zero-TTL rule must disable caching for matching operations")

	for i := 0; i < 2; i++ {
		_, err := g.Execute(ctx, "get_repo", map[string]interface{}{"owner": "acme"}, fetch)
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), fetches.Load())
}

func TestGateInvalidRules(t *testing.T) {
	_, err := New(Opts{TTLRules: []TTLRule{{Pattern: "", TTL: time.Minute}}})
	require.Error(t, err)

	_, err = New(Opts{ResourceRules: []ResourceRule{{Pattern: "x_*", Resource: ""}}})
	require.Error(t, err)
}

func TestGateDo(t *testing.T) {
	g := newTestGate(t, Opts{})
	ctx := context.Background()

	t.Run("returns typed result", func(t *testing.T) {
		v, err := Do(ctx, g, "get_count", map[string]interface{}{"owner": "acme"},
			func(ctx context.Context) (int, error) { return 7, nil })
		require.NoError(t, err)
		require.Equal(t, 7, v)
	})

	t.Run("propagates errors", func(t *testing.T) {
		wantErr := errors.New("boom")
		_, err := Do(ctx, g, "get_count", map[string]interface{}{"owner": "globex"},
			func(ctx context.Context) (int, error) { return 0, wantErr })
		require.ErrorIs(t, err, wantErr)
	})

	t.Run("rejects mismatched cached type", func(t *testing.T) {
		params := map[string]interface{}{"owner": "initech"}
		_, err := Do(ctx, g, "get_count", params,
			func(ctx context.Context) (string, error) { return "text", nil })
		require.NoError(t, err)

		// The cached value is a string now; asking for an int must fail loudly.
		_, err = Do(ctx, g, "get_count", params,
			func(ctx context.Context) (int, error) { return 0, nil })
		require.Error(t, err)
		require.Contains(t, err.Error(), "unexpected result type")
	})
}

func TestGateWithShape(t *testing.T) {
	g := newTestGate(t, Opts{DisableCache: true})
	ctx := context.Background()

	items := make([]interface{}, 20)
	for i := range items {
		items[i] = i
	}

	v, err := g.Execute(ctx, "list_issues", map[string]interface{}{"owner": "acme"},
		func(ctx context.Context) (interface{}, error) { return items, nil },
		WithShape(0, 5))
	require.NoError(t, err)
	require.Len(t, v, 5)
	require.Len(t, items, 20, "shaping must not mutate the fetched slice")
}

type recordingPerfMonitor struct {
	mu         sync.Mutex
	operations []string
}

func (m *recordingPerfMonitor) Measure(
	ctx context.Context, operation string, task func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	m.mu.Lock()
	m.operations = append(m.operations, operation)
	m.mu.Unlock()
	return task(ctx)
}

func TestGatePerfMonitor(t *testing.T) {
	pm := &recordingPerfMonitor{}
	g := newTestGate(t, Opts{PerfMonitor: pm, DisableCache: true})

	wantErr := errors.New("boom")
	_, err := g.Execute(context.Background(), "get_repo", nil,
		func(ctx context.Context) (interface{}, error) { return nil, wantErr })
	require.ErrorIs(t, err, wantErr, "measurement must be transparent to errors")
	require.Equal(t, []string{"get_repo"}, pm.operations)
}

func TestGateRetry(t *testing.T) {
	t.Run("retries transient fetch errors", func(t *testing.T) {
		g := newTestGate(t, Opts{
			DisableCache: true,
			RetryPolicy:  retry.NewConstantPolicy(time.Millisecond, 5),
		})

		var attempts atomic.Int64
		v, err := g.Execute(context.Background(), "get_repo", nil,
			func(ctx context.Context) (interface{}, error) {
				if attempts.Inc() < 3 {
					return nil, errors.New("transient")
				}
				return "ok", nil
			})
		require.NoError(t, err)
		require.Equal(t, "ok", v)
		require.Equal(t, int64(3), attempts.Load())
	})

	t.Run("never retries quota exhaustion", func(t *testing.T) {
		g := newTestGate(t, Opts{
			DisableCache: true,
			RetryPolicy:  retry.NewConstantPolicy(time.Millisecond, 5),
		})

		var attempts atomic.Int64
		_, err := g.Execute(context.Background(), "get_repo", nil,
			func(ctx context.Context) (interface{}, error) {
				attempts.Inc()
				return nil, &admission.QuotaExhaustedError{
					Resource: admission.ResourceGeneral,
					ResetAt:  time.Now().Add(time.Hour),
				}
			})
		require.True(t, admission.IsQuotaExhausted(err))
		require.Equal(t, int64(1), attempts.Load())
	})
}

func TestGateFetchContentAndProfile(t *testing.T) {
	g := newTestGate(t, Opts{})
	ctx := context.Background()

	var fetches atomic.Int64
	fetch := countingFetcher(&fetches, "doc")

	for i := 0; i < 2; i++ {
		v, err := g.FetchContent(ctx, "get_file_contents", map[string]interface{}{"path": "README"}, fetch)
		require.NoError(t, err)
		require.Equal(t, "doc", v)
	}
	require.Equal(t, int64(1), fetches.Load())

	for i := 0; i < 2; i++ {
		_, err := g.FetchProfile(ctx, "get_user", map[string]interface{}{"login": "octocat"}, fetch)
		require.NoError(t, err)
	}
	require.Equal(t, int64(2), fetches.Load())

	// An explicit zero TTL wins over the convenience default.
	_, err := g.FetchContent(ctx, "get_file_contents", map[string]interface{}{"path": "README"}, fetch, WithCacheTTL(0))
	require.NoError(t, err)
	require.Equal(t, int64(3), fetches.Load())
}

func TestGateListPaged(t *testing.T) {
	g := newTestGate(t, Opts{DisableCache: true})
	ctx := context.Background()

	makeCall := func(total int) func(ctx context.Context, params map[string]interface{}) ([]interface{}, error) {
		return func(ctx context.Context, params map[string]interface{}) ([]interface{}, error) {
			page := params["page"].(int)
			perPage := params["per_page"].(int)
			start := (page - 1) * perPage
			if start >= total {
				return nil, nil
			}
			end := start + perPage
			if end > total {
				end = total
			}
			items := make([]interface{}, 0, end-start)
			for i := start; i < end; i++ {
				items = append(items, i)
			}
			return items, nil
		}
	}

	t.Run("single page", func(t *testing.T) {
		items, err := g.ListPaged(ctx, "list_issues", map[string]interface{}{"owner": "acme"},
			makeCall(100), ListOptions{MaxPages: 1, PerPage: 10})
		require.NoError(t, err)
		require.Len(t, items, 10)
		require.Equal(t, 0, items[0])
	})

	t.Run("multi page with short-page stop", func(t *testing.T) {
		items, err := g.ListPaged(ctx, "list_issues", map[string]interface{}{"owner": "globex"},
			makeCall(25), ListOptions{MaxPages: 10, PerPage: 10})
		require.NoError(t, err)
		require.Len(t, items, 25)
		require.Equal(t, 24, items[24])
	})

	t.Run("nil call rejected", func(t *testing.T) {
		_, err := g.ListPaged(ctx, "list_issues", nil, nil, ListOptions{})
		require.Error(t, err)
	})
}

func TestGateEstimateAndShapePassThrough(t *testing.T) {
	g := newTestGate(t, Opts{})

	bd := g.Estimate(`query { viewer { login } }`, nil)
	require.Greater(t, bd.EstimatedPoints, 0)

	res := g.Shape([]interface{}{1, 2, 3}, 0, 2)
	require.True(t, res.Truncated)
	require.Len(t, res.Data, 2)
}

func TestGateWaitForReset(t *testing.T) {
	g := newTestGate(t, Opts{DisableCache: true, DisableDedup: true})
	ctx := context.Background()

	resetAt := time.Now().Add(150 * time.Millisecond)
	_, err := g.Execute(ctx, "get_repo", nil, func(ctx context.Context) (interface{}, error) {
		return nil, &admission.QuotaExhaustedError{Resource: admission.ResourceGeneral, ResetAt: resetAt}
	})
	require.Error(t, err)

	require.NoError(t, g.WaitForReset(ctx, admission.ResourceGeneral))
	require.False(t, time.Now().Before(resetAt))
	require.Equal(t, admission.DefaultGeneralLimit, g.Status().Quotas[admission.ResourceGeneral].Remaining)
}
