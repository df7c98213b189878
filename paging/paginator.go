/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package paging provides a simple streaming pagination engine for list
// operations of page-numbered remote APIs.
package paging

import (
	"context"
	"fmt"

	"github.com/acronis/go-apigate/log"
)

// Default parameter values for pagination.
const (
	DefaultMaxPages = 10
	DefaultPerPage  = 100
)

// PageFunc fetches one page of results.
type PageFunc func(ctx context.Context, page, perPage int) ([]interface{}, error)

// PageCall fetches a page of results for arbitrary call parameters.
// It is the raw list operation the fetcher is built from.
type PageCall func(ctx context.Context, params map[string]interface{}) ([]interface{}, error)

// Options represents options for PaginateSmart.
type Options struct {
	// MaxPages caps how many pages are fetched. Defaults to DefaultMaxPages.
	MaxPages int

	// PerPage is the page size requested from the remote API. Defaults to DefaultPerPage.
	PerPage int
}

// Paginator fetches multi-page listings sequentially.
type Paginator struct {
	logger log.FieldLogger
}

// New creates a new Paginator. The logger may be nil.
func New(logger log.FieldLogger) *Paginator {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &Paginator{logger: logger}
}

// CreateFetcher builds a PageFunc from a raw list call and its base
// parameters. Page numbering parameters are merged into a copy of the base
// parameters on every call.
func (p *Paginator) CreateFetcher(call PageCall, baseParams map[string]interface{}) PageFunc {
	return func(ctx context.Context, page, perPage int) ([]interface{}, error) {
		params := make(map[string]interface{}, len(baseParams)+2)
		for k, v := range baseParams {
			params[k] = v
		}
		params["page"] = page
		params["per_page"] = perPage
		return call(ctx, params)
	}
}

// PaginateSmart fetches pages sequentially until a short page signals the end
// of the listing or the page cap is reached, and returns the concatenation.
func (p *Paginator) PaginateSmart(ctx context.Context, fetch PageFunc, opts Options) ([]interface{}, error) {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}

	var all []interface{}
	for page := 1; page <= opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := fetch(ctx, page, opts.PerPage)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		all = append(all, items...)
		if len(items) < opts.PerPage {
			break
		}
	}
	p.logger.Debug("paginated listing fetched", log.Int("items", len(all)))
	return all, nil
}
