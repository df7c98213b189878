/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package gate composes admission control, request deduplication, caching,
// response shaping, and pagination into a single call path for remote
// rate-limited APIs. Callers describe a logical operation and supply a
// transport fetcher; the gate decides when and whether the fetcher actually runs.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-apigate/admission"
	"github.com/acronis/go-apigate/dedup"
	"github.com/acronis/go-apigate/log"
	"github.com/acronis/go-apigate/paging"
	"github.com/acronis/go-apigate/querycost"
	"github.com/acronis/go-apigate/respshape"
	"github.com/acronis/go-apigate/retry"
)

// DefaultCacheTTL is used when neither a call option nor a TTL rule applies.
const DefaultCacheTTL = 5 * time.Minute

// Fetcher does the actual transport call for one operation.
type Fetcher func(ctx context.Context) (interface{}, error)

// Cache is the caching collaborator contract.
// GetOrLoad must call load at most once per unexpired key.
type Cache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (interface{}, error)) (interface{}, error)
}

// Paginator is the pagination collaborator contract.
type Paginator interface {
	PaginateSmart(ctx context.Context, fetch paging.PageFunc, opts paging.Options) ([]interface{}, error)
}

// PerfMonitor observes operation timings. It must not alter task semantics.
type PerfMonitor interface {
	Measure(ctx context.Context, operation string, task func(ctx context.Context) (interface{}, error)) (interface{}, error)
}

// Opts represents options for Gate.
type Opts struct {
	// Cache enables the caching layer when set.
	Cache Cache

	// Paginator handles multi-page listings. Defaults to paging.New.
	Paginator Paginator

	// PerfMonitor, when set, wraps every Execute call.
	PerfMonitor PerfMonitor

	// Controller overrides the admission controller built from Admission.
	Controller *admission.Controller

	// Admission configures the built-in admission controller.
	Admission admission.ControllerOpts

	// Dedup configures the request deduplicator.
	Dedup dedup.Opts

	// Estimator overrides the default query cost estimator.
	Estimator *querycost.Estimator

	// Shaper overrides the default response shaper.
	Shaper *respshape.Shaper

	// DisableCache turns the caching layer off even when Cache is set.
	DisableCache bool

	// DisableDedup turns the deduplication layer off.
	DisableDedup bool

	// DefaultCacheTTL applies when no call option or TTL rule matches.
	// Defaults to DefaultCacheTTL.
	DefaultCacheTTL time.Duration

	// TTLRules map operation name patterns to cache TTLs. First match wins.
	TTLRules []TTLRule

	// ResourceRules map operation name patterns to resource classes.
	// First match wins; unmatched operations use admission.ResourceGeneral.
	// When nil, DefaultResourceRules apply.
	ResourceRules []ResourceRule

	// RetryPolicy, when set, routes fetcher execution through the retry
	// collaborator. IsRetryable decides which transport errors are transient;
	// quota exhaustion is never retried.
	RetryPolicy retry.Policy
	IsRetryable retry.IsRetryable

	Logger log.FieldLogger
}

// Gate is the access orchestrator.
// The call path is: performance measurement, cache, deduplication, admission, fetcher.
// Every layer is transparent to errors raised by inner layers.
type Gate struct {
	ctrl      *admission.Controller
	dedup     *dedup.Deduplicator[interface{}]
	estimator *querycost.Estimator
	shaper    *respshape.Shaper

	cache     Cache
	paginator Paginator
	perf      PerfMonitor

	cacheEnabled bool
	dedupEnabled bool

	defaultTTL    time.Duration
	ttlRules      []compiledTTLRule
	resourceRules []compiledResourceRule

	retryPolicy retry.Policy
	isRetryable retry.IsRetryable

	logger log.FieldLogger
}

// Status aggregates the observable state of the gate.
type Status struct {
	Quotas       map[admission.ResourceClass]admission.Quota `json:"quotas"`
	QueueLengths map[admission.ResourceClass]int             `json:"queueLengths"`
	Dedup        dedup.Stats                                 `json:"dedup"`
}

// New creates a new Gate with the provided options.
func New(opts Opts) (*Gate, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	ctrl := opts.Controller
	if ctrl == nil {
		var err error
		if opts.Admission.Logger == nil {
			opts.Admission.Logger = opts.Logger
		}
		if ctrl, err = admission.NewControllerWithOpts(opts.Admission); err != nil {
			return nil, fmt.Errorf("new admission controller: %w", err)
		}
	}
	if opts.Dedup.Logger == nil {
		opts.Dedup.Logger = opts.Logger
	}
	if opts.Estimator == nil {
		opts.Estimator = querycost.NewEstimator()
	}
	if opts.Shaper == nil {
		opts.Shaper = respshape.NewWithOpts(respshape.Opts{Logger: opts.Logger})
	}
	if opts.Paginator == nil {
		opts.Paginator = paging.New(opts.Logger)
	}
	if opts.DefaultCacheTTL <= 0 {
		opts.DefaultCacheTTL = DefaultCacheTTL
	}
	if opts.ResourceRules == nil {
		opts.ResourceRules = DefaultResourceRules
	}
	ttlRules, err := compileTTLRules(opts.TTLRules)
	if err != nil {
		return nil, err
	}
	resourceRules, err := compileResourceRules(opts.ResourceRules)
	if err != nil {
		return nil, err
	}

	return &Gate{
		ctrl:          ctrl,
		dedup:         dedup.NewWithOpts[interface{}](opts.Dedup),
		estimator:     opts.Estimator,
		shaper:        opts.Shaper,
		cache:         opts.Cache,
		paginator:     opts.Paginator,
		perf:          opts.PerfMonitor,
		cacheEnabled:  opts.Cache != nil && !opts.DisableCache,
		dedupEnabled:  !opts.DisableDedup,
		defaultTTL:    opts.DefaultCacheTTL,
		ttlRules:      ttlRules,
		resourceRules: resourceRules,
		retryPolicy:   opts.RetryPolicy,
		isRetryable:   opts.IsRetryable,
		logger:        opts.Logger,
	}, nil
}

// Execute runs one logical operation through the gate.
//
// The fetcher is executed at most once per concurrent identical call (unless
// deduplication is skipped), is admitted by the rate controller, and its
// result may be served from cache. A cache TTL of exactly zero (via
// WithCacheTTL) bypasses the cache entirely while still passing through
// deduplication and admission. Transport errors propagate unchanged.
func (g *Gate) Execute(
	ctx context.Context, operation string, params map[string]interface{}, fetch Fetcher, opts ...CallOption,
) (interface{}, error) {
	if fetch == nil {
		return nil, fmt.Errorf("fetcher must not be nil")
	}
	co := makeCallOpts(opts)
	logger := g.logger.With(
		log.String("operation", operation),
		log.String("call_id", xid.New().String()),
	)

	admitted := func(ctx context.Context) (interface{}, error) {
		resource := co.resource
		if resource == "" {
			resource = g.resolveResource(operation)
		}
		doFetch := fetch
		if g.retryPolicy != nil {
			doFetch = g.withRetry(fetch)
		}
		return admission.Do[interface{}](ctx, g.ctrl, resource, co.priority, doFetch)
	}

	deduped := admitted
	if g.dedupEnabled && !co.skipDedup {
		deduped = func(ctx context.Context) (interface{}, error) {
			return g.dedup.Do(operation, params, func() (interface{}, error) {
				return admitted(ctx)
			})
		}
	}

	cached := deduped
	if ttl := g.resolveTTL(operation, co); g.cacheEnabled && !co.skipCache && ttl > 0 {
		if key, err := dedup.Key(operation, params); err == nil {
			cached = func(ctx context.Context) (interface{}, error) {
				return g.cache.GetOrLoad(ctx, key, ttl, deduped)
			}
		} else {
			logger.Warn("failed to build cache key, bypassing cache", log.Error(err))
		}
	}

	var res interface{}
	var err error
	if g.perf != nil {
		res, err = g.perf.Measure(ctx, operation, cached)
	} else {
		res, err = cached(ctx)
	}
	if err != nil {
		return nil, err
	}
	if co.shape != nil {
		res = g.shaper.Shape(res, co.shape.maxBytes, co.shape.maxItems).Data
	}
	return res, nil
}

// Do executes fn through the gate and returns its typed result.
func Do[T any](
	ctx context.Context, g *Gate, operation string, params map[string]interface{},
	fn func(ctx context.Context) (T, error), opts ...CallOption,
) (T, error) {
	var zero T
	v, err := g.Execute(ctx, operation, params, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	}, opts...)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("operation %q: unexpected result type %T", operation, v)
	}
	return t, nil
}

// Estimate returns the estimated point cost of a GraphQL query.
// It is advisory only and never fails.
func (g *Gate) Estimate(query string, variables map[string]interface{}) querycost.Breakdown {
	return g.estimator.Estimate(query, variables)
}

// Shape bounds a payload by byte and item budgets. Zero budgets use defaults.
func (g *Gate) Shape(data interface{}, maxBytes, maxItems int) respshape.Result {
	return g.shaper.Shape(data, maxBytes, maxItems)
}

// Status returns a snapshot of quotas, queue lengths, and dedup counters.
func (g *Gate) Status() Status {
	st := g.ctrl.Status()
	return Status{
		Quotas:       st.Quotas,
		QueueLengths: st.QueueLengths,
		Dedup:        g.dedup.GetStats(),
	}
}

// WaitForReset blocks until the quota reset for the resource class elapses.
func (g *Gate) WaitForReset(ctx context.Context, resource admission.ResourceClass) error {
	return g.ctrl.WaitForReset(ctx, resource)
}

// Run starts the gate's background maintenance (the dedup stale-entry sweep)
// and blocks until ctx is done. It's supposed to be run in a separate goroutine.
func (g *Gate) Run(ctx context.Context) {
	g.dedup.RunPeriodicSweep(ctx)
}

func (g *Gate) withRetry(fetch Fetcher) Fetcher {
	return func(ctx context.Context) (interface{}, error) {
		var res interface{}
		err := retry.Do(ctx, g.retryPolicy, g.retryable(), func(ctx context.Context) error {
			var ferr error
			res, ferr = fetch(ctx)
			return ferr
		})
		return res, err
	}
}

// retryable wraps the configured predicate so that quota exhaustion is never
// retried: it must surface to the controller for quota bookkeeping.
func (g *Gate) retryable() retry.IsRetryable {
	return func(err error) bool {
		if admission.IsQuotaExhausted(err) {
			return false
		}
		if g.isRetryable == nil {
			return true
		}
		return g.isRetryable(err)
	}
}

func (g *Gate) resolveTTL(operation string, co callOpts) time.Duration {
	if co.cacheTTL != nil {
		return *co.cacheTTL
	}
	for i := range g.ttlRules {
		if g.ttlRules[i].match(operation) {
			return g.ttlRules[i].ttl
		}
	}
	return g.defaultTTL
}

func (g *Gate) resolveResource(operation string) admission.ResourceClass {
	for i := range g.resourceRules {
		if g.resourceRules[i].match(operation) {
			return g.resourceRules[i].resource
		}
	}
	return admission.ResourceGeneral
}
