/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package gate

import (
	"time"

	"github.com/acronis/go-apigate/admission"
)

// CallOption tunes a single Execute call.
type CallOption func(*callOpts)

type shapeOpts struct {
	maxBytes int
	maxItems int
}

type callOpts struct {
	cacheTTL  *time.Duration
	skipCache bool
	skipDedup bool
	resource  admission.ResourceClass
	priority  admission.Priority
	shape     *shapeOpts
}

func makeCallOpts(opts []CallOption) callOpts {
	co := callOpts{priority: admission.PriorityNormal}
	for _, opt := range opts {
		opt(&co)
	}
	return co
}

// WithCacheTTL overrides the cache TTL for this call.
// A TTL of exactly zero means "never cache": the cache layer is bypassed
// while deduplication and admission still apply.
func WithCacheTTL(ttl time.Duration) CallOption {
	return func(co *callOpts) {
		co.cacheTTL = &ttl
	}
}

// WithSkipCache bypasses the cache layer for this call.
func WithSkipCache() CallOption {
	return func(co *callOpts) {
		co.skipCache = true
	}
}

// WithSkipDedup bypasses the deduplication layer for this call.
func WithSkipDedup() CallOption {
	return func(co *callOpts) {
		co.skipDedup = true
	}
}

// WithResource pins the resource class instead of routing by operation name.
func WithResource(resource admission.ResourceClass) CallOption {
	return func(co *callOpts) {
		co.resource = resource
	}
}

// WithPriority sets the admission queue priority for this call.
func WithPriority(priority admission.Priority) CallOption {
	return func(co *callOpts) {
		co.priority = priority
	}
}

// WithShape applies response shaping to the call result with the given
// budgets. Zero budgets use the shaper defaults.
func WithShape(maxBytes, maxItems int) CallOption {
	return func(co *callOpts) {
		co.shape = &shapeOpts{maxBytes: maxBytes, maxItems: maxItems}
	}
}
