/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import "context"

// Priority orders queued tasks within one resource class.
// Higher values are dispatched first; ties are dispatched in submission order.
type Priority int

// Common priority levels. Any int value is accepted.
const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

type queueEntry struct {
	priority Priority
	seq      uint64
	ctx      context.Context
	task     Task
	done     chan error // buffered, so an abandoned caller never blocks the drain loop
}

// entryHeap implements heap.Interface ordering by priority descending, seq ascending.
type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*queueEntry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type resourceQueue struct {
	entries  entryHeap
	draining bool // at most one drain loop per resource class
}
