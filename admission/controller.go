/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/acronis/go-apigate/log"
)

// Default parameter values for Controller.
const (
	DefaultMinInterval       = 100 * time.Millisecond
	DefaultDispatchDelay     = 50 * time.Millisecond
	DefaultLowQuotaThreshold = 10
)

// Task does a single remote call. It may return fresh quota metadata observed
// on the response; a nil Update means the response carried none.
// The task's error is propagated to the caller untouched after quota bookkeeping.
type Task func(ctx context.Context) (*Update, error)

// ControllerOpts represents options for Controller.
type ControllerOpts struct {
	// MinInterval is the minimum spacing between dispatched requests
	// across all resource classes. Defaults to DefaultMinInterval.
	MinInterval time.Duration

	// DispatchDelay is the fixed pause the drain loop inserts between
	// consecutive dispatches within one resource class. It caps burst rate
	// even when quota is plentiful. Defaults to DefaultDispatchDelay.
	DispatchDelay time.Duration

	// LowQuotaThreshold is the remaining-quota level at or below which
	// dispatch blocks until the quota reset. Defaults to DefaultLowQuotaThreshold.
	LowQuotaThreshold int

	// QuotaLimits overrides the optimistic initial limit per resource class.
	QuotaLimits map[ResourceClass]int

	// BurstRate enables an additional per-resource burst guard when non-zero.
	BurstRate Rate

	// BurstAlg selects the burst guard algorithm. Defaults to BurstLimitAlgLeakyBucket.
	BurstAlg BurstLimitAlg

	// MaxBurst is the burst allowance for the leaky bucket algorithm.
	MaxBurst int

	Logger           log.FieldLogger
	MetricsCollector MetricsCollector
}

// Controller serializes and throttles remote calls against per-resource quotas.
// Tasks for the same resource class are dispatched in priority order (FIFO among
// equal priorities); resource classes are drained independently.
type Controller struct {
	minInterval       time.Duration
	dispatchDelay     time.Duration
	lowQuotaThreshold int

	spacing *rate.Limiter
	burst   burstLimiter

	mu     sync.Mutex
	quotas map[ResourceClass]*Quota
	queues map[ResourceClass]*resourceQueue
	seq    uint64

	logger  log.FieldLogger
	metrics MetricsCollector
}

// Status is a point-in-time view of the controller state.
type Status struct {
	Quotas       map[ResourceClass]Quota `json:"quotas"`
	QueueLengths map[ResourceClass]int   `json:"queueLengths"`
}

// NewController creates a new Controller with default options.
func NewController() *Controller {
	c, err := NewControllerWithOpts(ControllerOpts{})
	if err != nil {
		// Defaults are always valid.
		panic(err)
	}
	return c
}

// NewControllerWithOpts creates a new Controller with the provided options.
// For options that are not presented, the default values will be used.
func NewControllerWithOpts(opts ControllerOpts) (*Controller, error) {
	if opts.MinInterval < 0 {
		return nil, fmt.Errorf("min interval must not be negative")
	}
	if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.DispatchDelay < 0 {
		return nil, fmt.Errorf("dispatch delay must not be negative")
	}
	if opts.DispatchDelay == 0 {
		opts.DispatchDelay = DefaultDispatchDelay
	}
	if opts.LowQuotaThreshold == 0 {
		opts.LowQuotaThreshold = DefaultLowQuotaThreshold
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}

	var burst burstLimiter
	if opts.BurstRate.Count > 0 && opts.BurstRate.Duration > 0 {
		var err error
		if burst, err = newBurstLimiter(opts.BurstAlg, opts.BurstRate, opts.MaxBurst); err != nil {
			return nil, err
		}
	}

	limitFor := func(resource ResourceClass, def int) int {
		if l, ok := opts.QuotaLimits[resource]; ok && l > 0 {
			return l
		}
		return def
	}
	quotas := map[ResourceClass]*Quota{
		ResourceGeneral: {Resource: ResourceGeneral, Limit: limitFor(ResourceGeneral, DefaultGeneralLimit)},
		ResourceSearch:  {Resource: ResourceSearch, Limit: limitFor(ResourceSearch, DefaultSearchLimit)},
		ResourceGraphQL: {Resource: ResourceGraphQL, Limit: limitFor(ResourceGraphQL, DefaultGraphQLLimit)},
	}
	for _, q := range quotas {
		q.Remaining = q.Limit
	}

	return &Controller{
		minInterval:       opts.MinInterval,
		dispatchDelay:     opts.DispatchDelay,
		lowQuotaThreshold: opts.LowQuotaThreshold,
		spacing:           rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		burst:             burst,
		quotas:            quotas,
		queues:            make(map[ResourceClass]*resourceQueue),
		logger:            opts.Logger,
		metrics:           opts.MetricsCollector,
	}, nil
}

// Do enqueues the task for the given resource class and blocks until the task
// settles or ctx is done. If ctx is done before the task is dispatched, the
// task is skipped; once dispatched, the task runs to completion even if the
// caller stops waiting.
func (c *Controller) Do(ctx context.Context, resource ResourceClass, priority Priority, task Task) error {
	if task == nil {
		return fmt.Errorf("task must not be nil")
	}

	c.mu.Lock()
	q := c.queues[resource]
	if q == nil {
		q = &resourceQueue{}
		c.queues[resource] = q
	}
	c.seq++
	entry := &queueEntry{
		priority: priority,
		seq:      c.seq,
		ctx:      ctx,
		task:     task,
		done:     make(chan error, 1),
	}
	heap.Push(&q.entries, entry)
	c.metrics.SetQueueLength(resource, q.entries.Len())
	if !q.draining {
		q.draining = true
		go c.drain(resource, q)
	}
	c.mu.Unlock()

	select {
	case err := <-entry.done:
		return err
	case <-ctx.Done():
		// The caller abandons waiting; a dispatched task still runs to completion.
		return ctx.Err()
	}
}

// Do executes fn through the controller and returns its typed result.
// If the result implements Reporter, the carried quota metadata is applied.
func Do[T any](ctx context.Context, c *Controller, resource ResourceClass, priority Priority, fn func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := c.Do(ctx, resource, priority, func(ctx context.Context) (*Update, error) {
		v, err := fn(ctx)
		res = v
		if err != nil {
			return nil, err
		}
		if r, ok := any(v).(Reporter); ok {
			if upd, carried := r.QuotaUpdate(); carried {
				return &upd, nil
			}
		}
		return nil, nil
	})
	return res, err
}

// WaitForReset blocks until the quota reset deadline for the resource class
// elapses (or ctx is done). It returns immediately when no reset is pending.
func (c *Controller) WaitForReset(ctx context.Context, resource ResourceClass) error {
	c.mu.Lock()
	q := c.quota(resource)
	resetAt := q.ResetAt
	c.mu.Unlock()

	wait := time.Until(resetAt)
	if resetAt.IsZero() || wait <= 0 {
		return nil
	}
	c.logger.Info("waiting for quota reset",
		log.String("resource", string(resource)), log.Duration("wait", wait))

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	c.restoreQuotaIfReset(resource)
	return nil
}

// Status returns a snapshot of all tracked quotas and queue lengths.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Quotas:       make(map[ResourceClass]Quota, len(c.quotas)),
		QueueLengths: make(map[ResourceClass]int, len(c.queues)),
	}
	for res, q := range c.quotas {
		st.Quotas[res] = *q
	}
	for res, rq := range c.queues {
		st.QueueLengths[res] = rq.entries.Len()
	}
	return st
}

// quota returns the tracked quota for the resource class, creating it lazily
// for non-default classes. Callers must hold c.mu.
func (c *Controller) quota(resource ResourceClass) *Quota {
	q, ok := c.quotas[resource]
	if !ok {
		q = &Quota{Resource: resource, Limit: DefaultGeneralLimit, Remaining: DefaultGeneralLimit}
		c.quotas[resource] = q
	}
	return q
}

func (c *Controller) drain(resource ResourceClass, q *resourceQueue) {
	for {
		c.mu.Lock()
		if q.entries.Len() == 0 {
			q.draining = false
			c.mu.Unlock()
			return
		}
		entry := heap.Pop(&q.entries).(*queueEntry)
		c.metrics.SetQueueLength(resource, q.entries.Len())
		c.mu.Unlock()

		if err := entry.ctx.Err(); err != nil {
			entry.done <- err
			continue
		}
		if err := c.throttle(entry.ctx, resource); err != nil {
			entry.done <- err
			continue
		}

		upd, err := entry.task(entry.ctx)
		c.observe(resource, upd, err)
		c.metrics.IncDispatched(resource)
		entry.done <- err

		time.Sleep(c.dispatchDelay)
	}
}

// throttle blocks until the next dispatch for the resource class is admissible:
// the quota is not low (or its reset has elapsed), the burst guard allows it,
// and the minimum inter-request spacing has passed.
func (c *Controller) throttle(ctx context.Context, resource ResourceClass) error {
	for {
		c.mu.Lock()
		q := c.quota(resource)
		var wait time.Duration
		if q.Remaining <= c.lowQuotaThreshold && time.Now().Before(q.ResetAt) {
			wait = time.Until(q.ResetAt)
		}
		c.mu.Unlock()

		if wait <= 0 {
			break
		}
		c.metrics.IncThrottleWaits(resource, WaitReasonQuota)
		c.logger.Info("quota low, deferring dispatch until reset",
			log.String("resource", string(resource)), log.Duration("wait", wait))
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		c.restoreQuotaIfReset(resource)
	}

	if c.burst != nil {
		for {
			allow, retryAfter, err := c.burst.Allow(ctx, string(resource))
			if err != nil {
				// The burst guard is advisory; fail open.
				c.logger.Warn("burst limiter failed, skipping burst guard",
					log.String("resource", string(resource)), log.Error(err))
				break
			}
			if allow {
				break
			}
			c.metrics.IncThrottleWaits(resource, WaitReasonBurst)
			if err = sleepCtx(ctx, retryAfter); err != nil {
				return err
			}
		}
	}

	if !c.spacing.Allow() {
		c.metrics.IncThrottleWaits(resource, WaitReasonInterval)
	} else {
		return nil
	}
	return c.spacing.Wait(ctx)
}

// observe applies quota bookkeeping after a task settles.
// Fresh response metadata wins; a quota-exhaustion error forces remaining to zero.
func (c *Controller) observe(resource ResourceClass, upd *Update, taskErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.quota(resource)
	if upd != nil {
		if upd.Limit > 0 {
			q.Limit = upd.Limit
		}
		q.Remaining = upd.Remaining
		if q.Remaining < 0 {
			q.Remaining = 0
		}
		if !upd.ResetAt.IsZero() {
			q.ResetAt = upd.ResetAt
		}
	}
	var exhausted *QuotaExhaustedError
	if errors.As(taskErr, &exhausted) {
		q.Remaining = 0
		if !exhausted.ResetAt.IsZero() {
			q.ResetAt = exhausted.ResetAt
		}
		c.logger.Warn("quota exhausted",
			log.String("resource", string(resource)), log.Time("resetAt", q.ResetAt))
	}
	c.metrics.SetQuotaRemaining(resource, q.Remaining)
}

// restoreQuotaIfReset restores remaining to the full limit once the reset
// deadline has passed. This is the only path on which remaining may grow
// without fresh response metadata.
func (c *Controller) restoreQuotaIfReset(resource ResourceClass) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.quota(resource)
	if !q.ResetAt.IsZero() && !time.Now().Before(q.ResetAt) {
		q.Remaining = q.Limit
		q.ResetAt = time.Time{}
		c.metrics.SetQuotaRemaining(resource, q.Remaining)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
