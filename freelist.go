package vann

import (
	"sync"

	"github.com/annidx/vann/internal/lockfree"
)

// FreeList is the per-index free-page list (§3.3, §5): a mutex-protected
// priority queue of (page, freespace) entries, persisted as a Freepages tape
// so it survives a reopen. bulkdelete and maintain push freed pages onto it;
// Tape.Append's extendOrRecycle path pops from it before calling Store.Extend.
type FreeList struct {
	mu sync.Mutex
	pq *lockfree.PriorityQueue[PageID]

	store Store
	tape  *Tape
	first PageID // head of the persisted Freepages tape, or NullPageID if none yet
}

// NewFreeList returns an empty, in-memory-only free list. Call Load to
// repopulate it from a persisted Freepages tape after a reopen.
func NewFreeList(store Store) *FreeList {
	return &FreeList{pq: lockfree.NewPriorityQueue[PageID](), store: store, tape: NewTape(store, tapeOpaqueSize), first: NullPageID}
}

// Load replays a persisted Freepages tape into the in-memory queue.
func (fl *FreeList) Load(first PageID) error {
	fl.first = first
	if first == NullPageID {
		return nil
	}
	return fl.tape.Scan(first, func(_ ItemPtr, data []byte) bool {
		if len(data) < 8 {
			return true
		}
		id := PageID(leUint32(data[0:4]))
		freespace := int(leUint32(data[4:8]))
		fl.mu.Lock()
		fl.pq.Push(freespace, id)
		fl.mu.Unlock()
		return true
	})
}

// Push records id as free with the given freespace (PageSize for a fully
// reclaimable page). It appends a durable record to the Freepages tape
// (creating the tape first if there is none yet) and updates the in-memory
// queue eagerly so a concurrent
// Pop can observe it without waiting on the append.
func (fl *FreeList) Push(id PageID, freespace int) error {
	fl.mu.Lock()
	fl.pq.Push(freespace, id)
	fl.mu.Unlock()

	if fl.first == NullPageID {
		newFirst, err := fl.tape.Create(NullPageID)
		if err != nil {
			return err
		}
		fl.first = newFirst
	}
	rec := make([]byte, 8)
	putLeUint32(rec[0:4], uint32(id))
	putLeUint32(rec[4:8], uint32(freespace))
	_, err := fl.tape.Append(fl.first, rec, false, nil)
	return err
}

// Pop removes and returns any free page, or (NullPageID, false) if none are
// available. It does not need a minimum freespace: a recycled page is always
// Clear()ed before reuse.
func (fl *FreeList) Pop() (PageID, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.pq.PopAny()
}

// PopAtLeast removes and returns a free page with at least need bytes of
// recorded freespace.
func (fl *FreeList) PopAtLeast(need int) (PageID, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.pq.PopAtLeast(need)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
