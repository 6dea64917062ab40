// Package lockfree provides small generic collection helpers used by the
// engine's hot paths. Despite the name (kept for parity with the code it
// grew from) nothing here is lock-free or carries a lock of its own: the
// free-page queue is used under a mutex held by its caller (vann.FreeList);
// "lockfree" names the package's lineage — a copy-on-write table
// idiom borrowed from a generic routing-table implementation — rather than a
// guarantee every type in it makes.
package lockfree

import "container/heap"

// Entry pairs a priority with an arbitrary payload.
type Entry[K any] struct {
	Priority int
	Value    K
}

type entryHeap[K any] []Entry[K]

func (h entryHeap[K]) Len() int            { return len(h) }
func (h entryHeap[K]) Less(i, j int) bool  { return h[i].Priority > h[j].Priority } // max-heap on Priority
func (h entryHeap[K]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap[K]) Push(x any)         { *h = append(*h, x.(Entry[K])) }
func (h *entryHeap[K]) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// PriorityQueue is a generic max-heap keyed by an integer priority. The
// free-page list (§5 "a mutex-protected priority queue of (page,
// freespace) entries") wraps one of these with its own mutex so Push/PopAtLeast
// can be called concurrently from insert and maintain.
type PriorityQueue[K any] struct {
	h entryHeap[K]
}

// NewPriorityQueue returns an empty queue.
func NewPriorityQueue[K any]() *PriorityQueue[K] {
	q := &PriorityQueue[K]{}
	heap.Init(&q.h)
	return q
}

// Push inserts value with the given priority.
func (q *PriorityQueue[K]) Push(priority int, value K) {
	heap.Push(&q.h, Entry[K]{Priority: priority, Value: value})
}

// Len reports the number of entries.
func (q *PriorityQueue[K]) Len() int { return q.h.Len() }

// PopAtLeast removes and returns the entry with the largest priority if that
// priority is >= need. Returns the zero value and false otherwise (or if the
// queue is empty).
func (q *PriorityQueue[K]) PopAtLeast(need int) (K, bool) {
	var zero K
	if q.h.Len() == 0 || q.h[0].Priority < need {
		return zero, false
	}
	e := heap.Pop(&q.h).(Entry[K])
	return e.Value, true
}

// PopAny removes and returns any entry, preferring the highest priority.
// Used by the free-page recycler when it just needs *a* free page, not one
// of a minimum size.
func (q *PriorityQueue[K]) PopAny() (K, bool) {
	var zero K
	if q.h.Len() == 0 {
		return zero, false
	}
	e := heap.Pop(&q.h).(Entry[K])
	return e.Value, true
}
