// Package mmapstore is the default vann.Store backend: a single
// memory-mapped file holding a flat array of 8 KiB pages, grown by
// ftruncate + remap as new pages are extended. It is adapted from the
// teacher's mmap package and env.go page-acquisition path (Giulio2002-gdbx),
// generalized from gdbx's B-tree page cache to this engine's flat
// page-array substrate.
package mmapstore

import (
	"context"
	"os"
	"sync"

	"github.com/annidx/vann"
	"golang.org/x/sys/unix"
)

// growChunk is the number of pages the backing file is grown by at a time,
// so Extend doesn't pay for an mmap/munmap cycle on every call.
const growChunk = 1024

// Store memory-maps f and serves pages out of the mapping. pageLocks[i]
// guards concurrent access to page i; a coarser mu guards the mapping
// itself (remapping on growth, and the free-space map).
type Store struct {
	f    *os.File
	mu   sync.RWMutex
	data []byte // current mapping
	npages uint32

	pageLocksMu sync.Mutex
	pageLocks   map[vann.PageID]*sync.RWMutex

	freeMu    sync.Mutex
	freeSpace map[vann.PageID]int
}

// Open memory-maps path, creating it if necessary, and returns a Store
// whose page 0 may already hold a meta page (callers call
// vann.EnsureMetaPage to find out).
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &Store{
		f:         f,
		pageLocks: make(map[vann.PageID]*sync.RWMutex),
		freeSpace: make(map[vann.PageID]int),
	}
	npages := uint32(fi.Size() / vann.PageSize)
	if err := s.remap(maxU32(npages, 1)); err != nil {
		f.Close()
		return nil, err
	}
	s.npages = npages
	return s, nil
}

// Must panics if Open returns an error — used in short examples/tests where
// there is no sensible recovery.
func Must(s *Store, err error) *Store {
	if err != nil {
		panic(err)
	}
	return s
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// remap grows the backing file to npages pages (if needed) and remaps it.
// Must be called with s.mu held for writing.
func (s *Store) remap(npages uint32) error {
	size := int64(npages) * vann.PageSize
	if s.data != nil {
		if int64(len(s.data)) >= size {
			return nil
		}
		if err := unix.Munmap(s.data); err != nil {
			return err
		}
		s.data = nil
	}
	if err := s.f.Truncate(size); err != nil {
		return err
	}
	data, err := unix.Mmap(int(s.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	s.data = data
	return nil
}

func (s *Store) lockFor(id vann.PageID) *sync.RWMutex {
	s.pageLocksMu.Lock()
	defer s.pageLocksMu.Unlock()
	l, ok := s.pageLocks[id]
	if !ok {
		l = &sync.RWMutex{}
		s.pageLocks[id] = l
	}
	return l
}

func (s *Store) pageAt(id vann.PageID) *vann.Page {
	off := int64(id) * vann.PageSize
	return &vann.Page{Data: s.data[off : off+vann.PageSize]}
}

type readGuard struct {
	id vann.PageID
	s  *Store
	l  *sync.RWMutex
}

func (g *readGuard) Page() *vann.Page { g.s.mu.RLock(); defer g.s.mu.RUnlock(); return g.s.pageAt(g.id) }
func (g *readGuard) Release()         { g.l.RUnlock() }
func (g *readGuard) ID() vann.PageID  { return g.id }

type writeGuard struct {
	id    vann.PageID
	s     *Store
	l     *sync.RWMutex
	track bool
}

func (g *writeGuard) Page() *vann.Page { g.s.mu.RLock(); defer g.s.mu.RUnlock(); return g.s.pageAt(g.id) }
func (g *writeGuard) ID() vann.PageID  { return g.id }
func (g *writeGuard) Release() {
	if g.track {
		free := g.Page().Freespace()
		g.s.freeMu.Lock()
		g.s.freeSpace[g.id] = free
		g.s.freeMu.Unlock()
	}
	g.l.Unlock()
}

func (s *Store) Read(id vann.PageID) (vann.ReadGuard, error) {
	s.mu.RLock()
	valid := id < vann.PageID(s.npages)
	s.mu.RUnlock()
	if !valid {
		return nil, vann.NewError(vann.ErrDataCorruption, "mmapstore: read of unallocated page")
	}
	l := s.lockFor(id)
	l.RLock()
	return &readGuard{id: id, s: s, l: l}, nil
}

func (s *Store) Write(id vann.PageID, trackFreespace bool) (vann.WriteGuard, error) {
	s.mu.RLock()
	valid := id < vann.PageID(s.npages)
	s.mu.RUnlock()
	if !valid {
		return nil, vann.NewError(vann.ErrDataCorruption, "mmapstore: write of unallocated page")
	}
	l := s.lockFor(id)
	l.Lock()
	return &writeGuard{id: id, s: s, l: l, track: trackFreespace}, nil
}

func (s *Store) Extend(trackFreespace bool, init func(p *vann.Page)) (vann.WriteGuard, error) {
	s.mu.Lock()
	id := vann.PageID(s.npages)
	if uint32(id)+1 > uint32(len(s.data)/vann.PageSize) {
		if err := s.remap(s.npages + growChunk); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.npages++
	s.mu.Unlock()

	l := s.lockFor(id)
	l.Lock()
	s.mu.RLock()
	p := s.pageAt(id)
	s.mu.RUnlock()
	init(p)
	if trackFreespace {
		s.freeMu.Lock()
		s.freeSpace[id] = p.Freespace()
		s.freeMu.Unlock()
	}
	return &writeGuard{id: id, s: s, l: l, track: trackFreespace}, nil
}

func (s *Store) Search(need int) (vann.WriteGuard, bool, error) {
	s.freeMu.Lock()
	var best vann.PageID = vann.NullPageID
	bestFree := -1
	for id, free := range s.freeSpace {
		if free >= need && free > bestFree {
			best, bestFree = id, free
		}
	}
	if best == vann.NullPageID {
		s.freeMu.Unlock()
		return nil, false, nil
	}
	delete(s.freeSpace, best)
	s.freeMu.Unlock()

	l := s.lockFor(best)
	l.Lock()
	return &writeGuard{id: best, s: s, l: l, track: true}, true, nil
}

func (s *Store) Len() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.npages, nil
}

// Prefetch issues a madvise(WILLNEED) hint over the page's range (§6.1
// "prefetch(id) hint"), adapted from gdbx's mmap package's use of unix
// syscalls directly rather than a higher-level library.
func (s *Store) Prefetch(id vann.PageID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	off := int64(id) * vann.PageSize
	if off+vann.PageSize > int64(len(s.data)) {
		return
	}
	_ = unix.Madvise(s.data[off:off+vann.PageSize], unix.MADV_WILLNEED)
}

func (s *Store) StreamRead(ctx context.Context, ids []vann.PageID) (<-chan vann.StreamItem, error) {
	for _, id := range ids {
		s.Prefetch(id)
	}
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

// Close unmaps and closes the backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return err
		}
		s.data = nil
	}
	return s.f.Close()
}
