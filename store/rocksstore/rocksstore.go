// Package rocksstore is an vann.Store backend over one RocksDB column
// family, keyed by big-endian PageID, using the teacher's own gorocksdb
// dependency.
package rocksstore

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/annidx/vann"
	"github.com/tecbot/gorocksdb"
)

// Store wraps one gorocksdb.DB. Like boltstore, a single mutex stands in
// for per-page exclusivity since the underlying KV engine has no native
// per-key lock.
type Store struct {
	db *gorocksdb.DB
	ro *gorocksdb.ReadOptions
	wo *gorocksdb.WriteOptions

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

// Open opens (creating if needed) a RocksDB database at path.
func Open(path string) (*Store, error) {
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	db, err := gorocksdb.OpenDb(opts, path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:        db,
		ro:        gorocksdb.NewDefaultReadOptions(),
		wo:        gorocksdb.NewDefaultWriteOptions(),
		freeSpace: make(map[vann.PageID]int),
	}
	it := db.NewIterator(s.ro)
	defer it.Close()
	var n uint32
	for it.SeekToFirst(); it.Valid(); it.Next() {
		n++
	}
	s.npages = n
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
	err := g.s.db.Put(g.s.wo, key(g.id), g.page.Data)
	if g.track && err == nil {
		g.s.freeMu.Lock()
		g.s.freeSpace[g.id] = g.page.Freespace()
		g.s.freeMu.Unlock()
	}
	g.s.mu.Unlock()
}

func (s *Store) Read(id vann.PageID) (vann.ReadGuard, error) {
	v, err := s.db.Get(s.ro, key(id))
	if err != nil {
		return nil, err
	}
	defer v.Free()
	if !v.Exists() {
		return nil, vann.NewError(vann.ErrDataCorruption, "rocksstore: read of unallocated page")
	}
	data := make([]byte, v.Size())
	copy(data, v.Data())
	return &readGuard{id: id, page: &vann.Page{Data: data}}, nil
}

func (s *Store) Write(id vann.PageID, trackFreespace bool) (vann.WriteGuard, error) {
	s.mu.Lock()
	v, err := s.db.Get(s.ro, key(id))
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer v.Free()
	if !v.Exists() {
		s.mu.Unlock()
		return nil, vann.NewError(vann.ErrDataCorruption, "rocksstore: write of unallocated page")
	}
	data := make([]byte, v.Size())
	copy(data, v.Data())
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
	// RocksDB's block cache already prefetches on sequential iteration;
	// this engine's access pattern is point-gets, so there is nothing
	// cheaper than a real Read to hint at.
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
	s.ro.Destroy()
	s.wo.Destroy()
	s.db.Close()
	return nil
}
