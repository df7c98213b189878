/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package admission implements client-side admission control for remote APIs
// with per-resource quotas (e.g. GitHub-style core/search/GraphQL buckets).
//
// The Controller tracks one quota per resource class, serializes task dispatch
// through a per-resource priority queue, and delays dispatch when the remaining
// quota is low or when the configured minimum inter-request spacing has not
// elapsed. It never retries and never swallows task errors; it only decides
// when a task is allowed to run.
package admission
