/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package querycost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const simpleQuery = `
query {
	repository(owner: "acme", name: "infra") {
		name
		description
	}
}`

func TestEstimateSimpleQuery(t *testing.T) {
	e := NewEstimator()

	bd := e.Estimate(simpleQuery, nil)
	require.Empty(t, bd.Warnings)
	require.Greater(t, bd.TotalFields, 0)
	require.Equal(t, 0, bd.Connections)
	require.GreaterOrEqual(t, bd.EstimatedPoints, 1)
	require.Less(t, bd.EstimatedPoints, DefaultWarnPointsLimit)
}

func TestEstimateIsDeterministic(t *testing.T) {
	e := NewEstimator()

	vars := map[string]interface{}{"count": 50}
	query := `query($count: Int!) { repository(owner: "acme", name: "infra") { issues(first: $count) { nodes { title } } } }`

	first := e.Estimate(query, vars)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, e.Estimate(query, vars))
	}
}

func TestEstimateConnections(t *testing.T) {
	e := NewEstimator()

	t.Run("literal first", func(t *testing.T) {
		bd := e.Estimate(`query { issues(first: 100) { nodes { title } } }`, nil)
		require.Equal(t, 1, bd.Connections)
		require.Empty(t, bd.Warnings)
		base := e.Estimate(`query { issues { nodes { title } } }`, nil)
		require.Greater(t, bd.EstimatedPoints, base.EstimatedPoints, "a paginated connection must cost extra")
	})

	t.Run("variable-bound first", func(t *testing.T) {
		bd := e.Estimate(
			`query($n: Int!) { issues(first: $n) { nodes { title } } }`,
			map[string]interface{}{"n": 250},
		)
		require.Equal(t, 1, bd.Connections)
		require.Len(t, bd.Warnings, 1)
		require.Contains(t, bd.Warnings[0], "smaller page size")
	})

	t.Run("unresolvable first counts as zero cost", func(t *testing.T) {
		bd := e.Estimate(`query($n: Int!) { issues(first: $n) { nodes { title } } }`, nil)
		require.Equal(t, 1, bd.Connections)
		require.Empty(t, bd.Warnings)
	})
}

func TestEstimateMalformedQuery(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name  string
		query string
	}{
		{"unbalanced open", `query { repository { name }`},
		{"unbalanced close", `query { repository } }`},
		{"empty", `   `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bd := e.Estimate(tt.query, nil)
			require.Equal(t, DefaultFallbackPoints, bd.EstimatedPoints)
			require.NotEmpty(t, bd.Warnings)
		})
	}
}

func TestEstimateDeepNestingWarning(t *testing.T) {
	e := NewEstimator()

	bd := e.Estimate(`query { a { b { c { d { e { f { g { h { i { j { k } } } } } } } } } } }`, nil)
	require.Greater(t, bd.NestedGroups, 3)
	require.NotEmpty(t, bd.Warnings)
	require.Contains(t, bd.Warnings[len(bd.Warnings)-1], "splitting")
}

func TestEstimateCustomCalibration(t *testing.T) {
	e := NewEstimatorWithOpts(Opts{WarnPointsLimit: 1, FallbackPoints: 42})

	bd := e.Estimate(simpleQuery, nil)
	require.NotEmpty(t, bd.Warnings, "a tiny limit must produce a cost warning")

	fb := e.Estimate("", nil)
	require.Equal(t, 42, fb.EstimatedPoints)
}
