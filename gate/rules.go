/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package gate

import (
	"fmt"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-apigate/admission"
)

// TTLRule maps an operation name pattern (glob) to a cache TTL.
type TTLRule struct {
	Pattern string
	TTL     time.Duration
}

// ResourceRule maps an operation name pattern (glob) to a resource class.
type ResourceRule struct {
	Pattern  string
	Resource admission.ResourceClass
}

// DefaultResourceRules route search and GraphQL operations to their own
// quota buckets; everything else falls back to the general bucket.
var DefaultResourceRules = []ResourceRule{
	{Pattern: "search_*", Resource: admission.ResourceSearch},
	{Pattern: "graphql*", Resource: admission.ResourceGraphQL},
}

type compiledTTLRule struct {
	match func(s string) bool
	ttl   time.Duration
}

type compiledResourceRule struct {
	match    func(s string) bool
	resource admission.ResourceClass
}

func compileTTLRules(rules []TTLRule) ([]compiledTTLRule, error) {
	compiled := make([]compiledTTLRule, 0, len(rules))
	for _, r := range rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("TTL rule pattern must not be empty")
		}
		if r.TTL < 0 {
			return nil, fmt.Errorf("TTL rule %q: TTL must not be negative", r.Pattern)
		}
		compiled = append(compiled, compiledTTLRule{match: glob.Compile(r.Pattern), ttl: r.TTL})
	}
	return compiled, nil
}

func compileResourceRules(rules []ResourceRule) ([]compiledResourceRule, error) {
	compiled := make([]compiledResourceRule, 0, len(rules))
	for _, r := range rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("resource rule pattern must not be empty")
		}
		if r.Resource == "" {
			return nil, fmt.Errorf("resource rule %q: resource must not be empty", r.Pattern)
		}
		compiled = append(compiled, compiledResourceRule{match: glob.Compile(r.Pattern), resource: r.Resource})
	}
	return compiled, nil
}
