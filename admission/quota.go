/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"errors"
	"fmt"
	"time"
)

// ResourceClass is a named quota bucket with independent limit/remaining/reset tracking.
type ResourceClass string

// Default resource classes.
const (
	ResourceGeneral ResourceClass = "general"
	ResourceSearch  ResourceClass = "search"
	ResourceGraphQL ResourceClass = "graphql"
)

// Default optimistic quota limits used until fresh metadata arrives from the remote API.
const (
	DefaultGeneralLimit = 5000
	DefaultSearchLimit  = 30
	DefaultGraphQLLimit = 5000
)

// Quota is a snapshot of the budget tracked for one resource class.
type Quota struct {
	Resource  ResourceClass `json:"resource"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetAt   time.Time     `json:"resetAt"`
}

// Update carries fresh quota metadata observed on a transport response.
type Update struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Reporter may be implemented by fetch results to let the controller refresh
// quota state from response metadata.
type Reporter interface {
	// QuotaUpdate returns the quota metadata carried by the response.
	// The second return value is false when the response carried none.
	QuotaUpdate() (Update, bool)
}

// QuotaExhaustedError signals that the remote API rejected a request because
// the quota for a resource class is spent. ResetAt tells when the quota is
// restored. The controller inspects this error type (via errors.As) to force
// the tracked remaining quota to zero.
type QuotaExhaustedError struct {
	Resource ResourceClass
	ResetAt  time.Time
}

// Error implements the error interface.
func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("quota exhausted for resource %q, resets at %s", e.Resource, e.ResetAt.Format(time.RFC3339))
}

// IsQuotaExhausted reports whether err wraps a QuotaExhaustedError.
func IsQuotaExhausted(err error) bool {
	var qe *QuotaExhaustedError
	return errors.As(err, &qe)
}
