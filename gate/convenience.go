/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-apigate/paging"
)

// Default TTLs for the typed convenience wrappers.
const (
	DefaultContentTTL = 10 * time.Minute
	DefaultProfileTTL = 30 * time.Minute
)

// FetchContent executes a content-fetch operation (file contents, readme and
// the like) with a longer default cache TTL. Explicit WithCacheTTL still wins.
func (g *Gate) FetchContent(
	ctx context.Context, operation string, params map[string]interface{}, fetch Fetcher, opts ...CallOption,
) (interface{}, error) {
	return g.Execute(ctx, operation, params, fetch, prependTTL(DefaultContentTTL, opts)...)
}

// FetchProfile executes a profile-fetch operation (user or org metadata)
// with a long default cache TTL. Explicit WithCacheTTL still wins.
func (g *Gate) FetchProfile(
	ctx context.Context, operation string, params map[string]interface{}, fetch Fetcher, opts ...CallOption,
) (interface{}, error) {
	return g.Execute(ctx, operation, params, fetch, prependTTL(DefaultProfileTTL, opts)...)
}

// ListOptions represents options for ListPaged.
type ListOptions struct {
	// MaxPages selects between a single-page call (<= 1) and multi-page
	// pagination via the paginator collaborator.
	MaxPages int

	// PerPage is the page size requested from the remote API.
	PerPage int

	// CallOptions apply to every per-page Execute call.
	CallOptions []CallOption
}

// ListPaged executes a paged listing operation. With MaxPages <= 1 a single
// page is fetched; otherwise pages are streamed through the pagination
// collaborator, each page passing through the full gate call path.
func (g *Gate) ListPaged(
	ctx context.Context, operation string, baseParams map[string]interface{}, call paging.PageCall, opts ListOptions,
) ([]interface{}, error) {
	if call == nil {
		return nil, fmt.Errorf("page call must not be nil")
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = paging.DefaultPerPage
	}

	fetchPage := func(ctx context.Context, page, pageSize int) ([]interface{}, error) {
		params := make(map[string]interface{}, len(baseParams)+2)
		for k, v := range baseParams {
			params[k] = v
		}
		params["page"] = page
		params["per_page"] = pageSize
		v, err := g.Execute(ctx, operation, params, func(ctx context.Context) (interface{}, error) {
			return call(ctx, params)
		}, opts.CallOptions...)
		if err != nil {
			return nil, err
		}
		items, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("operation %q: page result is %T, expected a list", operation, v)
		}
		return items, nil
	}

	if opts.MaxPages <= 1 {
		return fetchPage(ctx, 1, perPage)
	}
	return g.paginator.PaginateSmart(ctx, fetchPage, paging.Options{MaxPages: opts.MaxPages, PerPage: perPage})
}

func prependTTL(ttl time.Duration, opts []CallOption) []CallOption {
	return append([]CallOption{WithCacheTTL(ttl)}, opts...)
}
