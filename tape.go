package vann

import "encoding/binary"

// tapeOpaqueSize is the fixed footer every tape page carries: next(4) +
// skip(4) + link(4), padded to 8-byte alignment. Core-specific opaque data
// (centroid id, vertex version, …) is appended by the caller after this
// fixed prefix inside the same footer region — tapeOpaqueSize is the
// minimum; cores request a larger opaqueSize from Store.Extend and lay their
// own fields after tapeOpaqueSize.
const tapeOpaqueSize = 16

// TapeFooter is the fixed prefix of every tape page's opaque footer (§3.2
// invariant 2, §4.1 "opaque footer ... carries next, skip, link").
type TapeFooter struct {
	Next PageID // next page in the chain, NullPageID at the tail
	Skip PageID // head-only: points at (or beyond) the last page reachable by a dense walk
	Link PageID // core-specific back-link (e.g. Jump tuple owning this tape)
}

func readTapeFooter(opaque []byte) TapeFooter {
	return TapeFooter{
		Next: PageID(binary.LittleEndian.Uint32(opaque[0:4])),
		Skip: PageID(binary.LittleEndian.Uint32(opaque[4:8])),
		Link: PageID(binary.LittleEndian.Uint32(opaque[8:12])),
	}
}

// ReadTapeFooter reads a tape page's footer. Exported for cores that need to
// walk a raw tape chain outside of Tape.Scan's tuple-at-a-time callback
// (e.g. in-place rewrites that must also know the next page to visit).
func ReadTapeFooter(p *Page) TapeFooter {
	return readTapeFooter(p.Opaque())
}

func writeTapeFooter(opaque []byte, f TapeFooter) {
	binary.LittleEndian.PutUint32(opaque[0:4], uint32(f.Next))
	binary.LittleEndian.PutUint32(opaque[4:8], uint32(f.Skip))
	binary.LittleEndian.PutUint32(opaque[8:12], uint32(f.Link))
}

// Tape is a logical append-only stream of typed tuples spilling across a
// linked chain of pages (§4.2, L2). It is stateless beyond the store and the
// head page id: every operation re-derives position by walking next/skip, so
// concurrent tapes sharing a Store are safe to use from multiple goroutines
// without a Tape-level lock (the page-level locks in Store do the work).
type Tape struct {
	Store      Store
	OpaqueSize int // full footer size this tape's pages are extended with (>= tapeOpaqueSize)
}

// NewTape returns a Tape helper bound to store, with pages carrying a footer
// of opaqueSize bytes (tapeOpaqueSize plus any core-specific fields).
func NewTape(store Store, opaqueSize int) *Tape {
	if opaqueSize < tapeOpaqueSize {
		opaqueSize = tapeOpaqueSize
	}
	return &Tape{Store: store, OpaqueSize: opaqueSize}
}

// Create extends a fresh head page for a brand new tape and returns its id.
// link is stored in the new head's footer (e.g. a Jump tuple's page, or
// NullPageID for tapes with no owner).
func (t *Tape) Create(link PageID) (PageID, error) {
	wg, err := t.Store.Extend(false, func(p *Page) {
		p.Init(t.OpaqueSize)
		writeTapeFooter(p.Opaque(), TapeFooter{Next: NullPageID, Skip: NullPageID, Link: link})
	})
	if err != nil {
		return NullPageID, err
	}
	defer wg.Release()
	return t.pageIDOf(wg), nil
}

// Append writes bytes as one tuple onto the tape rooted at first, returning
// the exact ItemPtr it landed at. It implements the general path of §4.2:
// try Store.Search for a freespace-tracked slot; on miss walk the chain from
// first, following Skip at the head to jump past the dense prefix; on a
// fresh page, recycle from freeList before extending.
func (t *Tape) Append(first PageID, bytes []byte, trackFreespace bool, freeList *FreeList) (ItemPtr, error) {
	need := align8(2 + len(bytes))

	if trackFreespace {
		if wg, ok, err := t.Store.Search(need); err != nil {
			return ItemPtr{}, err
		} else if ok {
			// Only use the found page if it belongs to this tape: the head
			// itself, or a page whose footer links back to the head.
			pid := t.pageIDOf(wg)
			op := wg.Page().Opaque()
			if pid == first || (len(op) >= tapeOpaqueSize && readTapeFooter(op).Link == first) {
				if slot, ok := wg.Page().Alloc(bytes); ok {
					wg.Release()
					return ItemPtr{Page: pid, Slot: slot}, nil
				}
			}
			wg.Release()
		}
	}

	headID := first
	id := first
	if skip, err := t.headSkip(first); err == nil && skip != NullPageID {
		id = skip
	}
	for {
		wg, err := t.Store.Write(id, trackFreespace)
		if err != nil {
			return ItemPtr{}, err
		}
		p := wg.Page()
		if slot, ok := p.Alloc(bytes); ok {
			pid := t.pageIDOf(wg)
			wg.Release()
			return ItemPtr{Page: pid, Slot: slot}, nil
		}
		footer := readTapeFooter(p.Opaque())
		next := footer.Next
		if next == NullPageID {
			// Extend a new tail, link it, then bump the head's skip.
			newID, newWg, err := t.extendOrRecycle(freeList, headID)
			if err != nil {
				wg.Release()
				return ItemPtr{}, err
			}
			footer.Next = newID
			writeTapeFooter(p.Opaque(), footer)
			wg.Release()

			if headID != id {
				t.bumpSkip(headID, newID)
			} else {
				t.bumpSkip(id, newID)
			}

			slot, ok := newWg.Page().Alloc(bytes)
			pid := t.pageIDOf(newWg)
			newWg.Release()
			if !ok {
				return ItemPtr{}, NewError(ErrDataCorruption, "tape: fresh page cannot hold tuple")
			}
			return ItemPtr{Page: pid, Slot: slot}, nil
		}
		wg.Release()
		id = next
	}
}

// headSkip reads head's Skip pointer: the last page Append has already
// proven reachable by a dense page-by-page walk, so a later Append missing
// Store.Search can jump straight past that known-full prefix instead of
// re-walking it one page at a time (§4.2).
func (t *Tape) headSkip(head PageID) (PageID, error) {
	rg, err := t.Store.Read(head)
	if err != nil {
		return NullPageID, err
	}
	defer rg.Release()
	return readTapeFooter(rg.Page().Opaque()).Skip, nil
}

// extendOrRecycle returns a write guard over a fresh tail page, preferring a
// recycled page from freeList (§4.2 "On a fresh page it tries to recycle a
// freed page from the free-page list before calling extend.").
func (t *Tape) extendOrRecycle(freeList *FreeList, link PageID) (PageID, WriteGuard, error) {
	if freeList != nil {
		if id, ok := freeList.Pop(); ok {
			wg, err := t.Store.Write(id, false)
			if err == nil {
				wg.Page().Clear()
				wg.Page().Init(t.OpaqueSize)
				writeTapeFooter(wg.Page().Opaque(), TapeFooter{Next: NullPageID, Skip: NullPageID, Link: link})
				return id, wg, nil
			}
		}
	}
	var newID PageID
	wg, err := t.Store.Extend(false, func(p *Page) {
		p.Init(t.OpaqueSize)
		writeTapeFooter(p.Opaque(), TapeFooter{Next: NullPageID, Skip: NullPageID, Link: link})
	})
	if err != nil {
		return NullPageID, nil, err
	}
	newID = t.pageIDOf(wg)
	return newID, wg, nil
}

// bumpSkip advances head's Skip pointer to at least newTail, monotonically
// (§3.2 invariant 2).
func (t *Tape) bumpSkip(head, newTail PageID) {
	wg, err := t.Store.Write(head, false)
	if err != nil {
		return
	}
	defer wg.Release()
	footer := readTapeFooter(wg.Page().Opaque())
	footer.Skip = newTail
	writeTapeFooter(wg.Page().Opaque(), footer)
}

// Scan walks the tape from first, invoking fn with every live item in order.
// fn returning false stops the scan early.
func (t *Tape) Scan(first PageID, fn func(ItemPtr, []byte) bool) error {
	id := first
	for id != NullPageID {
		rg, err := t.Store.Read(id)
		if err != nil {
			return err
		}
		p := rg.Page()
		n := p.Len()
		cont := true
		for s := Slot(1); int(s) <= n && cont; s++ {
			if data := p.Get(s); data != nil {
				cont = fn(ItemPtr{Page: id, Slot: s}, data)
			}
		}
		footer := readTapeFooter(p.Opaque())
		rg.Release()
		if !cont {
			return nil
		}
		id = footer.Next
	}
	return nil
}

// pageIDOf recovers the page id a guard refers to via the IdentifiedGuard
// contract every store/* backend's guard types implement.
func (t *Tape) pageIDOf(g interface{ Page() *Page }) PageID {
	if idg, ok := g.(IdentifiedGuard); ok {
		return idg.ID()
	}
	return NullPageID
}
