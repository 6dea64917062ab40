// Package memstore is a plain in-memory vann.Store, used across this
// repo's test suites so they don't need cgo (rocksstore, mdbxstore) or a
// real mmap (mmapstore) to exercise L2 and above. It is not meant to
// persist anything; it exists purely as the lightweight backend the
// teacher's own env.go reserves for an in-process page cache before any
// page is ever written to disk.
package memstore

import (
	"context"
	"sync"

	"github.com/annidx/vann"
)

// Store is a slice of pages guarded by one RWMutex for the page table and a
// per-page RWMutex for the page bytes themselves, mirroring the teacher's
// two-tier locking (a map/slice-level mutex for structural changes, a
// per-page lock for contents) seen in gdbx/env.go's mu + per-page guards.
type Store struct {
	mu        sync.RWMutex
	pages     []*entry
	freeSpace map[vann.PageID]int // pages with tracked freespace
}

type entry struct {
	mu   sync.RWMutex
	page *vann.Page
}

// New returns an empty Store with page 0 not yet allocated (callers call
// EnsureMetaPage / Extend to create it, same as any other backend).
func New() *Store {
	return &Store{freeSpace: make(map[vann.PageID]int)}
}

type readGuard struct {
	id PageID
	e  *entry
}

type PageID = vann.PageID

func (g *readGuard) Page() *vann.Page { return g.e.page }
func (g *readGuard) Release()         { g.e.mu.RUnlock() }
func (g *readGuard) ID() PageID       { return g.id }

type writeGuard struct {
	id    PageID
	e     *entry
	s     *Store
	track bool
}

func (g *writeGuard) Page() *vann.Page { return g.e.page }
func (g *writeGuard) ID() PageID       { return g.id }
func (g *writeGuard) Release() {
	if g.track {
		g.s.mu.Lock()
		g.s.freeSpace[g.id] = g.e.page.Freespace()
		g.s.mu.Unlock()
	}
	g.e.mu.Unlock()
}

func (s *Store) Read(id vann.PageID) (vann.ReadGuard, error) {
	s.mu.RLock()
	if int(id) >= len(s.pages) {
		s.mu.RUnlock()
		return nil, vann.NewError(vann.ErrDataCorruption, "memstore: read of unallocated page")
	}
	e := s.pages[id]
	s.mu.RUnlock()
	e.mu.RLock()
	return &readGuard{id: id, e: e}, nil
}

func (s *Store) Write(id vann.PageID, trackFreespace bool) (vann.WriteGuard, error) {
	s.mu.RLock()
	if int(id) >= len(s.pages) {
		s.mu.RUnlock()
		return nil, vann.NewError(vann.ErrDataCorruption, "memstore: write of unallocated page")
	}
	e := s.pages[id]
	s.mu.RUnlock()
	e.mu.Lock()
	return &writeGuard{id: id, e: e, s: s, track: trackFreespace}, nil
}

func (s *Store) Extend(trackFreespace bool, init func(p *vann.Page)) (vann.WriteGuard, error) {
	s.mu.Lock()
	id := vann.PageID(len(s.pages))
	page := &vann.Page{Data: make([]byte, vann.PageSize)}
	e := &entry{page: page}
	s.pages = append(s.pages, e)
	s.mu.Unlock()

	e.mu.Lock()
	init(page)
	if trackFreespace {
		s.mu.Lock()
		s.freeSpace[id] = page.Freespace()
		s.mu.Unlock()
	}
	return &writeGuard{id: id, e: e, s: s, track: trackFreespace}, nil
}

func (s *Store) Search(need int) (vann.WriteGuard, bool, error) {
	s.mu.Lock()
	var best vann.PageID = vann.NullPageID
	bestFree := -1
	for id, free := range s.freeSpace {
		if free >= need && free > bestFree {
			best, bestFree = id, free
		}
	}
	if best == vann.NullPageID {
		s.mu.Unlock()
		return nil, false, nil
	}
	delete(s.freeSpace, best)
	e := s.pages[best]
	s.mu.Unlock()

	e.mu.Lock()
	return &writeGuard{id: best, e: e, s: s, track: true}, true, nil
}

func (s *Store) Len() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.pages)), nil
}

func (s *Store) Prefetch(id vann.PageID) {
	// No I/O to prefetch ahead of; pages already live in memory.
}

func (s *Store) StreamRead(ctx context.Context, ids []vann.PageID) (<-chan vann.StreamItem, error) {
	out := make(chan vann.StreamItem, len(ids))
	go func() {
		defer close(out)
		for _, id := range ids {
			g, err := s.Read(id)
			if err != nil {
				return
			}
			select {
			case out <- vann.StreamItem{ID: id, Guard: g}:
			case <-ctx.Done():
				g.Release()
				return
			}
		}
	}()
	return out, nil
}
