// Package boltstore is an vann.Store backend over a single bbolt bucket,
// keyed by big-endian PageID. Each page's bytes are stored as one bucket
// value; guards buffer a page in memory for the duration of one bbolt
// transaction and flush writes back on Release.
package boltstore

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/annidx/vann"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("pages")

// Store wraps one bbolt.DB. A single global mutex serializes writers (bbolt
// itself only allows one writer transaction at a time; this mutex makes
// Store.Write's exclusive-page semantics explicit rather than relying on
// bbolt's coarser database-wide write lock, matching this repo's
// per-page-lock contract from store.go).
type Store struct {
	db *bolt.DB
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

// Open opens (creating if needed) a bbolt database at path and ensures the
// page bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, freeSpace: make(map[vann.PageID]int)}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		s.npages = uint32(b.Stats().KeyN)
		return nil
	})
	if err != nil {
		db.Close()
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
	err := g.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put(key(g.id), g.page.Data)
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
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get(key(id))
		if v == nil {
			return vann.NewError(vann.ErrDataCorruption, "boltstore: read of unallocated page")
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
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get(key(id))
		if v == nil {
			return vann.NewError(vann.ErrDataCorruption, "boltstore: write of unallocated page")
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
	// bbolt's own mmap-backed file already serves pages from the OS page
	// cache; there is no separate prefetch hook to drive.
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
	return s.db.Close()
}
