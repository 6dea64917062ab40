package vann

import "context"

// ReadGuard is a shared-lock read view over one page (§4.1, §6.1).
type ReadGuard interface {
	Page() *Page
	Release()
}

// WriteGuard is an exclusive-lock view over one page. On Release, if the
// guard was obtained with trackFreespace, its remaining freespace is
// re-published to the substrate's free-space map.
type WriteGuard interface {
	Page() *Page
	Release()
}

// IdentifiedGuard is implemented by every Store's ReadGuard/WriteGuard so
// callers that only hold a guard (not the id they requested it with, e.g.
// after Extend) can recover which page it is. Every backend in store/*
// implements this on its guard types.
type IdentifiedGuard interface {
	ID() PageID
}

// StreamItem is one page delivered by a Store's streaming read API, pairing
// the page with its originating id so a caller pipelining many ids can match
// results back up without a side table.
type StreamItem struct {
	ID    PageID
	Guard ReadGuard
}

// Store is the external page substrate contract the engine requires of its
// host (§6.1). All methods may block; see §5 "Suspension points". All
// implementations must guarantee: no two WriteGuards over the same page
// coexist; a WriteGuard excludes all ReadGuards over the same page; Extend
// never returns an id already in use.
type Store interface {
	// Read acquires a shared-lock read guard over id.
	Read(id PageID) (ReadGuard, error)
	// Write acquires an exclusive-lock write guard over id.
	Write(id PageID, trackFreespace bool) (WriteGuard, error)
	// Extend allocates a fresh page, initializes its opaque footer via init,
	// and returns an exclusive guard already held over it. init receives the
	// raw page so it can call Page.Init/Opaque itself.
	Extend(trackFreespace bool, init func(p *Page)) (WriteGuard, error)
	// Search attempts to find an existing page with at least need bytes of
	// tracked freespace. May return stale hints: callers must re-check
	// Page().Freespace() on the returned guard before relying on it.
	Search(need int) (WriteGuard, bool, error)
	// Len returns the number of pages currently allocated in the substrate.
	Len() (uint32, error)
	// Prefetch issues a non-blocking hint that id will likely be read soon.
	Prefetch(id PageID)
	// StreamRead, when non-nil, fuses prefetch with delivery for a batch of
	// ids, used by the Stream prefetcher variant (§4.6). A Store that does
	// not support fused streaming may leave this nil; callers fall back to
	// Plain/Windowed.
	StreamRead(ctx context.Context, ids []PageID) (<-chan StreamItem, error)
}

// CheckFunc is the cooperative-cancellation callback threaded through long
// operations (build, maintain, bulkdelete, prewarm) per §5. It returns an
// error (conventionally an *Error{Code: ErrCancelled}) to abort.
type CheckFunc func() error

// NoCheck never cancels.
func NoCheck() error { return nil }
