package prefetch

import (
	"context"

	"github.com/annidx/vann"
)

// WindowSize is the Windowed prefetcher's sliding-window depth (§4.6).
const WindowSize = 32

// Candidate is one item flowing through a Prefetcher: a pruning lowerbound
// plus the set of pages that must be read to fully materialize it (e.g. a
// vectors-tape page for IVF, or a vertex page plus its vector chain for
// graph). Slot addresses the specific tuple within Pages[0] a core's
// FetchVector should decode, when a page can hold more than one tuple (an
// IVF vectors-tape page holds many VectorTuples; Slot picks the right one).
type Candidate struct {
	Lowerbound float32
	Pages      []vann.PageID
	Slot       vann.Slot

	// Payload and Distance carry a precomputed result for a candidate that
	// needs no page read at all (e.g. ivf's rerank-in-table mode, which
	// reconstructs an exact-enough distance from the RaBitQ code's own
	// factors instead of fetching the vectors tape). Pages is left empty
	// in that case; a FetchVector should check len(cand.Pages) == 0 and
	// return these directly rather than indexing guards.
	Payload  uint64
	Distance float32
}

// Prefetcher wraps a Sequence of Candidate over a Store, exposing only
// Next/NextIf per §9's "prefer the newer Prefetcher API ... next(&mut self)
// and next_if(predicate), returning (Item, Guards)" design note — the older
// pop_if variant from the source's algorithm/ (vs algo/) copy is not
// reimplemented.
type Prefetcher interface {
	// Next returns the next candidate and read guards over all of its
	// pages, or false if the underlying sequence is exhausted.
	Next() (Candidate, []vann.ReadGuard, bool)
	// NextIf returns the next candidate only if pred accepts its
	// lowerbound; otherwise it leaves the sequence untouched and returns
	// false. Used by Reranker to stop descending once no remaining
	// candidate can beat the current k-th best (§4.6 "termination").
	NextIf(pred func(Candidate) bool) (Candidate, []vann.ReadGuard, bool)
}

func readAll(store vann.Store, pages []vann.PageID) ([]vann.ReadGuard, error) {
	guards := make([]vann.ReadGuard, 0, len(pages))
	for _, p := range pages {
		g, err := store.Read(p)
		if err != nil {
			for _, held := range guards {
				held.Release()
			}
			return nil, err
		}
		guards = append(guards, g)
	}
	return guards, nil
}

// Plain issues no prefetch hints; each Next fetches pages immediately
// (§4.6 "Plain — no prefetch").
type Plain struct {
	store vann.Store
	seq   Sequence[Candidate]
}

func NewPlain(store vann.Store, seq Sequence[Candidate]) *Plain {
	return &Plain{store: store, seq: seq}
}

func (p *Plain) Next() (Candidate, []vann.ReadGuard, bool) {
	c, ok := p.seq.Next()
	if !ok {
		return Candidate{}, nil, false
	}
	guards, err := readAll(p.store, c.Pages)
	if err != nil {
		return Candidate{}, nil, false
	}
	return c, guards, true
}

func (p *Plain) NextIf(pred func(Candidate) bool) (Candidate, []vann.ReadGuard, bool) {
	c, ok := p.seq.Peek()
	if !ok || !pred(c) {
		return Candidate{}, nil, false
	}
	return p.Next()
}

// Windowed maintains a sliding window of up to WindowSize candidates: as
// items enter the window their pages are handed to Store.Prefetch as a
// hint, and items leave the window (and get a real blocking Read) in FIFO
// order, overlapping the hint's I/O with whatever the caller does between
// Next calls (§4.6 "Windowed").
type Windowed struct {
	store  vann.Store
	seq    Sequence[Candidate]
	window []Candidate
}

func NewWindowed(store vann.Store, seq Sequence[Candidate]) *Windowed {
	w := &Windowed{store: store, seq: seq}
	w.fill()
	return w
}

func (w *Windowed) fill() {
	for len(w.window) < WindowSize {
		c, ok := w.seq.Next()
		if !ok {
			break
		}
		for _, p := range c.Pages {
			w.store.Prefetch(p)
		}
		w.window = append(w.window, c)
	}
}

func (w *Windowed) Next() (Candidate, []vann.ReadGuard, bool) {
	if len(w.window) == 0 {
		return Candidate{}, nil, false
	}
	c := w.window[0]
	w.window = w.window[1:]
	w.fill()
	guards, err := readAll(w.store, c.Pages)
	if err != nil {
		return Candidate{}, nil, false
	}
	return c, guards, true
}

func (w *Windowed) NextIf(pred func(Candidate) bool) (Candidate, []vann.ReadGuard, bool) {
	if len(w.window) == 0 || !pred(w.window[0]) {
		return Candidate{}, nil, false
	}
	return w.Next()
}

// Stream delegates to a Store's fused streaming-read API, when the Store
// supports one (§4.6 "Stream — delegates to a substrate-provided streaming
// read API that fuses prefetch with delivery"). It falls back to Windowed
// semantics if the Store's StreamRead returns nil.
type Stream struct {
	store   vann.Store
	seq     Sequence[Candidate]
	ctx     context.Context
	cancel  context.CancelFunc
	pending []Candidate
	ch      <-chan vann.StreamItem
	fallback *Windowed
}

// NewStream builds a Stream prefetcher, draining seq eagerly (Stream has no
// natural backpressure point once a store's streaming API is in flight) and
// issuing a single StreamRead call over every Candidate's pages, in order.
func NewStream(ctx context.Context, store vann.Store, seq Sequence[Candidate]) *Stream {
	items := seq.IntoInner()
	s := &Stream{store: store, pending: items}
	var ids []vann.PageID
	for _, c := range items {
		ids = append(ids, c.Pages...)
	}
	ch, err := store.StreamRead(ctx, ids)
	if err != nil || ch == nil {
		s.fallback = NewWindowed(store, NewSliceSequence(items))
		s.pending = nil
		return s
	}
	s.ch = ch
	return s
}

func (s *Stream) Next() (Candidate, []vann.ReadGuard, bool) {
	if s.fallback != nil {
		return s.fallback.Next()
	}
	if len(s.pending) == 0 {
		return Candidate{}, nil, false
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	guards := make([]vann.ReadGuard, 0, len(c.Pages))
	for range c.Pages {
		item, ok := <-s.ch
		if !ok {
			return Candidate{}, nil, false
		}
		guards = append(guards, item.Guard)
	}
	return c, guards, true
}

func (s *Stream) NextIf(pred func(Candidate) bool) (Candidate, []vann.ReadGuard, bool) {
	if s.fallback != nil {
		return s.fallback.NextIf(pred)
	}
	if len(s.pending) == 0 || !pred(s.pending[0]) {
		return Candidate{}, nil, false
	}
	return s.Next()
}
