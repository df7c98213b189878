/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package querycost estimates the point cost of a GraphQL query before it is
// sent, so that callers can pick safe page sizes for point-budgeted APIs.
//
// The estimator is advisory only: it scans the query lexically (it is not a
// GraphQL parser), never blocks execution, and never fails — a malformed query
// yields a conservative fallback estimate with a warning.
package querycost

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

// Default calibration values for Estimator.
const (
	DefaultBasePoints           = 1.0
	DefaultFieldPoints          = 0.1
	DefaultConnectionMultiplier = 2.0
	DefaultNestedMultiplier     = 1.5
	DefaultWarnPointsLimit      = 500
	DefaultFallbackPoints       = 100

	// maxConnectionFirst is the page size above which a warning is emitted.
	maxConnectionFirst = 100

	// maxNestedGroups is the number of nested groups above which a warning is emitted.
	maxNestedGroups = 3

	// nestedGroupSize batches detected nested occurrences into groups.
	nestedGroupSize = 3

	// nestingFreeDepth is how deep a query may nest before nesting cost accrues.
	nestingFreeDepth = 2
)

var (
	tokenRe      = regexp.MustCompile(`\$?[_A-Za-z][_0-9A-Za-z]*`)
	connectionRe = regexp.MustCompile(`([_A-Za-z][_0-9A-Za-z]*)\s*\(\s*[^)]*\bfirst\s*:\s*(\$?[_0-9A-Za-z]+)`)
)

var keywords = map[string]struct{}{
	"query":    {},
	"mutation": {},
	"fragment": {},
	"on":       {},
}

// Breakdown is the result of a cost estimation.
// It is derived purely from the query text and variable bindings.
type Breakdown struct {
	BaseFields      int      `json:"baseFields"`
	Connections     int      `json:"connections"`
	NestedGroups    int      `json:"nestedGroups"`
	TotalFields     int      `json:"totalFields"`
	EstimatedPoints int      `json:"estimatedPoints"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Opts represents options for Estimator.
// Zero values are replaced with the default calibration.
type Opts struct {
	// BasePoints is the flat cost of any query.
	BasePoints float64

	// FieldPoints is the cost of each extracted field.
	FieldPoints float64

	// ConnectionMultiplier scales the sub-linear cost of paginated connections.
	ConnectionMultiplier float64

	// NestedMultiplier scales the cost of deep nesting.
	NestedMultiplier float64

	// WarnPointsLimit is the estimate above which a warning is emitted.
	WarnPointsLimit int

	// FallbackPoints is the fixed conservative estimate returned for
	// queries that cannot be scanned.
	FallbackPoints int
}

// Estimator estimates query costs. It is stateless and safe for concurrent use.
type Estimator struct {
	basePoints           float64
	fieldPoints          float64
	connectionMultiplier float64
	nestedMultiplier     float64
	warnPointsLimit      int
	fallbackPoints       int
}

// NewEstimator creates a new Estimator with the default calibration.
func NewEstimator() *Estimator {
	return NewEstimatorWithOpts(Opts{})
}

// NewEstimatorWithOpts creates a new Estimator with the provided options.
func NewEstimatorWithOpts(opts Opts) *Estimator {
	if opts.BasePoints <= 0 {
		opts.BasePoints = DefaultBasePoints
	}
	if opts.FieldPoints <= 0 {
		opts.FieldPoints = DefaultFieldPoints
	}
	if opts.ConnectionMultiplier <= 0 {
		opts.ConnectionMultiplier = DefaultConnectionMultiplier
	}
	if opts.NestedMultiplier <= 0 {
		opts.NestedMultiplier = DefaultNestedMultiplier
	}
	if opts.WarnPointsLimit <= 0 {
		opts.WarnPointsLimit = DefaultWarnPointsLimit
	}
	if opts.FallbackPoints <= 0 {
		opts.FallbackPoints = DefaultFallbackPoints
	}
	return &Estimator{
		basePoints:           opts.BasePoints,
		fieldPoints:          opts.FieldPoints,
		connectionMultiplier: opts.ConnectionMultiplier,
		nestedMultiplier:     opts.NestedMultiplier,
		warnPointsLimit:      opts.WarnPointsLimit,
		fallbackPoints:       opts.FallbackPoints,
	}
}

// Estimate computes the estimated point cost of the query with the given
// variable bindings. It is a pure function of its inputs and never fails:
// on a malformed query it returns the configured fallback estimate with a
// warning describing the problem.
func (e *Estimator) Estimate(query string, variables map[string]interface{}) (bd Breakdown) {
	defer func() {
		if r := recover(); r != nil {
			bd = e.fallback(fmt.Sprintf("cost estimation failed: %v", r))
		}
	}()

	if err := checkBalanced(query); err != nil {
		return e.fallback(err.Error())
	}

	fields := extractFields(query)
	if len(fields) == 0 {
		return e.fallback("no fields found in query")
	}

	bd.TotalFields = len(fields)
	points := e.basePoints + float64(bd.TotalFields)*e.fieldPoints

	connections := e.extractConnections(query, variables)
	bd.Connections = len(connections)
	bd.BaseFields = bd.TotalFields - bd.Connections
	if bd.BaseFields < 0 {
		bd.BaseFields = 0
	}
	for _, conn := range connections {
		points += math.Ceil(e.fieldPoints * e.connectionMultiplier * math.Log(float64(conn.first)+1))
		if conn.first > maxConnectionFirst {
			bd.Warnings = append(bd.Warnings,
				fmt.Sprintf("connection %q requests %d items, consider a smaller page size", conn.field, conn.first))
		}
	}

	occurrences, maxDepth := scanNesting(query)
	if occurrences > 0 {
		bd.NestedGroups = (occurrences + nestedGroupSize - 1) / nestedGroupSize
		points += float64(bd.NestedGroups) * math.Ceil(e.nestedMultiplier*math.Pow(float64(maxDepth), 1.5))
	}
	if bd.NestedGroups > maxNestedGroups {
		bd.Warnings = append(bd.Warnings,
			fmt.Sprintf("query nests deeply (%d nested groups), consider splitting it", bd.NestedGroups))
	}

	bd.EstimatedPoints = int(math.Ceil(points))
	if bd.EstimatedPoints > e.warnPointsLimit {
		bd.Warnings = append(bd.Warnings,
			fmt.Sprintf("estimated cost %d exceeds the recommended limit %d", bd.EstimatedPoints, e.warnPointsLimit))
	}
	return bd
}

func (e *Estimator) fallback(reason string) Breakdown {
	return Breakdown{
		EstimatedPoints: e.fallbackPoints,
		Warnings:        []string{reason},
	}
}

type connection struct {
	field string
	first int
}

// extractFields collects candidate field names with a lexical scan:
// identifiers that are neither GraphQL keywords nor variable references.
func extractFields(query string) []string {
	var fields []string
	for _, tok := range tokenRe.FindAllString(query, -1) {
		if strings.HasPrefix(tok, "$") {
			continue
		}
		if _, isKeyword := keywords[tok]; isKeyword {
			continue
		}
		fields = append(fields, tok)
	}
	return fields
}

// extractConnections finds fields invoked with a first: argument and resolves
// the page size from a literal or a bound variable. Unresolvable page sizes
// count as zero-cost connections rather than failures.
func (e *Estimator) extractConnections(query string, variables map[string]interface{}) []connection {
	var conns []connection
	for _, m := range connectionRe.FindAllStringSubmatch(query, -1) {
		field, rawFirst := m[1], m[2]
		var firstVal interface{} = rawFirst
		if strings.HasPrefix(rawFirst, "$") {
			firstVal = variables[strings.TrimPrefix(rawFirst, "$")]
		}
		first, err := cast.ToIntE(firstVal)
		if err != nil || first < 0 {
			first = 0
		}
		conns = append(conns, connection{field: field, first: first})
	}
	return conns
}

// scanNesting counts selection-set openings deeper than the free depth and
// reports the maximum brace depth reached.
func scanNesting(query string) (occurrences, maxDepth int) {
	depth := 0
	for _, r := range query {
		switch r {
		case '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
			if depth > nestingFreeDepth {
				occurrences++
			}
		case '}':
			depth--
		}
	}
	return occurrences, maxDepth
}

func checkBalanced(query string) error {
	depth := 0
	for _, r := range query {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("malformed query: unbalanced braces")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("malformed query: unbalanced braces")
	}
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("malformed query: empty query")
	}
	return nil
}
