//go:build mdbxstore

// Package mdbxstore is an vann.Store backend over libmdbx via
// erigontech/mdbx-go, kept behind the mdbxstore build tag since mdbx-go
// requires cgo and a system libmdbx — it is not force-linked into the
// default build the way mmapstore is.
package mdbxstore

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/annidx/vann"
	"github.com/erigontech/mdbx-go/mdbx"
)

// Store wraps one mdbx.Env with a single database holding pages keyed by
// big-endian PageID.
type Store struct {
	env *mdbx.Env
	dbi mdbx.DBI

	mu sync.RWMutex

	freeMu    sync.Mutex
	freeSpace map[vann.PageID]int
	npages    uint32
}

func key(id vann.PageID) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(id))
	return b
}

// Open opens (creating if needed) an mdbx environment rooted at path.
func Open(path string) (*Store, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, err
	}
	if err := env.SetGeometry(-1, -1, -1, -1, -1, vann.PageSize); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.Open(path, mdbx.NoSubdir, 0644); err != nil {
		env.Close()
		return nil, err
	}
	s := &Store{env: env, freeSpace: make(map[vann.PageID]int)}
	err = env.Update(func(txn *mdbx.Txn) error {
		dbi, err := txn.OpenDBISimple("pages", mdbx.Create)
		if err != nil {
			return err
		}
		s.dbi = dbi
		stat, err := txn.StatDBI(dbi)
		if err != nil {
			return err
		}
		s.npages = uint32(stat.Entries)
		return nil
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return s, nil
}

type readGuard struct {
	id   vann.PageID
	page *vann.Page
}

func (g *readGuard) Page() *vann.Page { return g.page }
func (g *readGuard) Release()         {}
func (g *readGuard) ID() vann.PageID  { return g.id }

type writeGuard struct {
	id    vann.PageID
	page  *vann.Page
	s     *Store
	track bool
}

func (g *writeGuard) Page() *vann.Page { return g.page }
func (g *writeGuard) ID() vann.PageID  { return g.id }
func (g *writeGuard) Release() {
	err := g.s.env.Update(func(txn *mdbx.Txn) error {
		return txn.Put(g.s.dbi, key(g.id), g.page.Data, 0)
	})
	if g.track && err == nil {
		g.s.freeMu.Lock()
		g.s.freeSpace[g.id] = g.page.Freespace()
		g.s.freeMu.Unlock()
	}
	g.s.mu.Unlock()
}

func (s *Store) Read(id vann.PageID) (vann.ReadGuard, error) {
	var data []byte
	err := s.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(s.dbi, key(id))
		if err != nil {
			return vann.NewError(vann.ErrDataCorruption, "mdbxstore: read of unallocated page")
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &readGuard{id: id, page: &vann.Page{Data: data}}, nil
}

func (s *Store) Write(id vann.PageID, trackFreespace bool) (vann.WriteGuard, error) {
	s.mu.Lock()
	var data []byte
	err := s.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(s.dbi, key(id))
		if err != nil {
			return vann.NewError(vann.ErrDataCorruption, "mdbxstore: write of unallocated page")
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return &writeGuard{id: id, page: &vann.Page{Data: data}, s: s, track: trackFreespace}, nil
}

func (s *Store) Extend(trackFreespace bool, init func(p *vann.Page)) (vann.WriteGuard, error) {
	s.mu.Lock()
	id := vann.PageID(s.npages)
	s.npages++
	page := &vann.Page{Data: make([]byte, vann.PageSize)}
	init(page)
	return &writeGuard{id: id, page: page, s: s, track: trackFreespace}, nil
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

	wg, err := s.Write(best, true)
	if err != nil {
		return nil, false, err
	}
	return wg, true, nil
}

func (s *Store) Len() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.npages, nil
}

func (s *Store) Prefetch(id vann.PageID) {
	// mdbx's own mmap-backed environment already serves pages from the OS
	// page cache; no separate prefetch hook exists in the mdbx-go API.
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
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	s.env.Close()
	return nil
}
