/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package dedup collapses concurrent identical requests into a single
// in-flight execution. Only concurrent calls are collapsed: once an execution
// settles (successfully or not), later calls with the same key start fresh.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-apigate/log"
)

// DefaultMaxPendingAge is the default age after which a pending entry is
// considered stale and removed by the periodic sweep.
const DefaultMaxPendingAge = 2 * time.Minute

// Key builds a deterministic request key from an operation name and its
// parameters. Parameters with nil values are dropped, and map keys are
// serialized in sorted order, so two equivalent parameter sets produce the
// same key regardless of key order or absent optional fields.
func Key(operation string, params map[string]interface{}) (string, error) {
	filtered := make(map[string]interface{}, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		filtered[k] = v
	}
	b, err := json.Marshal(filtered)
	if err != nil {
		return "", fmt.Errorf("serialize params for operation %q: %w", operation, err)
	}
	return operation + ":" + string(b), nil
}

type pendingCall[V any] struct {
	wg        sync.WaitGroup
	val       V
	err       error
	createdAt time.Time
	forgotten bool // removed from the map by the sweep; settle must not delete a successor
}

// Opts represents options for Deduplicator.
type Opts struct {
	// MaxPendingAge bounds how long an unsettled entry may stay in the map.
	// Entries older than this are removed by RunPeriodicSweep as a safety net
	// against executors that never settle. Defaults to DefaultMaxPendingAge.
	MaxPendingAge time.Duration

	Logger           log.FieldLogger
	MetricsCollector MetricsCollector
}

// Deduplicator collapses concurrent executions with equal keys.
// At most one execution per key is in flight at any moment.
type Deduplicator[V any] struct {
	maxPendingAge time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCall[V]

	total        atomic.Int64
	deduplicated atomic.Int64

	logger  log.FieldLogger
	metrics MetricsCollector
}

// Stats holds counters about deduplicator usage.
type Stats struct {
	Total        int64 `json:"total"`
	Deduplicated int64 `json:"deduplicated"`
	Pending      int   `json:"pending"`
}

// New creates a new Deduplicator with default options.
func New[V any]() *Deduplicator[V] {
	return NewWithOpts[V](Opts{})
}

// NewWithOpts creates a new Deduplicator with the provided options.
func NewWithOpts[V any](opts Opts) *Deduplicator[V] {
	if opts.MaxPendingAge <= 0 {
		opts.MaxPendingAge = DefaultMaxPendingAge
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	return &Deduplicator[V]{
		maxPendingAge: opts.MaxPendingAge,
		pending:       make(map[string]*pendingCall[V]),
		logger:        opts.Logger,
		metrics:       opts.MetricsCollector,
	}
}

// Do executes fn for the given operation and parameters, collapsing concurrent
// calls with the same key into one execution: every concurrent caller receives
// the outcome of the single in-flight run. Outcomes are not cached across time;
// a call arriving after the in-flight run settles starts a new execution.
func (d *Deduplicator[V]) Do(operation string, params map[string]interface{}, fn func() (V, error)) (V, error) {
	d.total.Inc()
	d.metrics.IncTotal()

	key, err := Key(operation, params)
	if err != nil {
		// Unkeyable parameters must not break the call; run it un-deduplicated.
		d.logger.Warn("failed to build dedup key, executing directly",
			log.String("operation", operation), log.Error(err))
		return fn()
	}

	d.mu.Lock()
	if c, ok := d.pending[key]; ok {
		d.mu.Unlock()
		d.deduplicated.Inc()
		d.metrics.IncDeduplicated()
		c.wg.Wait()
		return c.val, c.err
	}
	c := &pendingCall[V]{createdAt: time.Now()}
	c.wg.Add(1)
	d.pending[key] = c
	d.metrics.SetPending(len(d.pending))
	d.mu.Unlock()

	return d.run(key, c, fn)
}

func (d *Deduplicator[V]) run(key string, c *pendingCall[V], fn func() (V, error)) (V, error) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("dedup executor panicked: %v", r)
			d.settle(key, c)
			panic(r) // re-panic on the executing goroutine
		}
	}()
	c.val, c.err = fn()
	d.settle(key, c)
	return c.val, c.err
}

// settle publishes the outcome to waiters and removes the entry from the map.
func (d *Deduplicator[V]) settle(key string, c *pendingCall[V]) {
	d.mu.Lock()
	if !c.forgotten {
		delete(d.pending, key)
	}
	d.metrics.SetPending(len(d.pending))
	d.mu.Unlock()
	c.wg.Done()
}

// PendingCount returns the number of unsettled entries.
func (d *Deduplicator[V]) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// GetStats returns usage counters.
func (d *Deduplicator[V]) GetStats() Stats {
	return Stats{
		Total:        d.total.Load(),
		Deduplicated: d.deduplicated.Load(),
		Pending:      d.PendingCount(),
	}
}

// RunPeriodicSweep removes entries that stayed pending longer than the
// configured maximum age. This is best-effort cleanup against collaborators
// that never settle, not a correctness guarantee; waiters already attached to
// a swept entry still receive its outcome if it eventually settles.
// It's supposed to be run in a separate goroutine.
func (d *Deduplicator[V]) RunPeriodicSweep(ctx context.Context) {
	ticker := time.NewTicker(d.maxPendingAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(time.Now())
		}
	}
}

func (d *Deduplicator[V]) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var swept int
	for key, c := range d.pending {
		if now.Sub(c.createdAt) > d.maxPendingAge {
			c.forgotten = true
			delete(d.pending, key)
			swept++
		}
	}
	if swept > 0 {
		d.metrics.AddSwept(swept)
		d.metrics.SetPending(len(d.pending))
		d.logger.Warn("swept stale pending dedup entries", log.Int("count", swept))
	}
}
