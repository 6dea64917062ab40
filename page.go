package vann

import (
	"encoding/binary"
	"unsafe"
)

// PageSize is the fixed page size the whole engine assumes. §2 of
// SPEC_FULL.md fixes this at 8 KiB; nothing in the engine is parameterized
// over a different size, matching the teacher's own fixed DefaultPageSize
// constant (though the teacher's is configurable — this engine's host
// substrate is always this one size because the FastScan block layout and
// the IVF/graph opaque footers are sized against it).
const PageSize = 8192

// pageHeaderSize is the slotted-page header: lower(2) upper(2) special(2) pad(2).
const pageHeaderSize = 8

// PageID indexes a page in the substrate. NullPageID is the sentinel "no page".
type PageID uint32

// NullPageID is u32::MAX, the sentinel null page id (§3.1).
const NullPageID PageID = 0xFFFFFFFF

// MetaPageID is the page reserved for the meta tuple (page 0).
const MetaPageID PageID = 0

// Slot addresses an item within a page. Slot 0 is reserved (§3.2 invariant 1).
type Slot uint16

// ItemPtr is a (page, slot) address, per §3.1.
type ItemPtr struct {
	Page PageID
	Slot Slot
}

func (p ItemPtr) IsNull() bool { return p.Page == NullPageID }

// pageHeader is the fixed 8-byte slotted-page header.
//
//	Offset  Size  Field
//	0       2     lower   (offset just past the item-pointer array)
//	2       2     upper   (offset where payload data begins, grows downward)
//	4       2     special (offset of the opaque footer; PageSize if none)
//	6       2     pad
type pageHeader struct {
	Lower   uint16
	Upper   uint16
	Special uint16
	_       uint16
}

// Page is an in-memory view over one fixed PageSize slice, providing the
// slotted-page primitives every tape and tuple codec builds on: a header,
// an item-pointer array growing upward, a payload area growing downward, and
// a fixed opaque footer at the special offset. It mirrors the teacher's own
// page.go item-pointer bookkeeping almost line for line, generalized to a
// core-supplied opaque footer instead of MDBX's branch/leaf node format.
type Page struct {
	Data []byte // exactly PageSize bytes
}

func (p *Page) header() *pageHeader {
	if len(p.Data) < pageHeaderSize {
		panic("vann: page buffer shorter than header")
	}
	return (*pageHeader)(unsafe.Pointer(&p.Data[0]))
}

// Init initializes an empty page with the given opaque footer size. The
// footer itself is left zeroed; callers write their typed footer afterward.
func (p *Page) Init(opaqueSize int) {
	h := p.header()
	h.Lower = pageHeaderSize
	h.Upper = uint16(PageSize - opaqueSize)
	h.Special = uint16(PageSize - opaqueSize)
}

// Opaque returns the mutable opaque footer bytes.
func (p *Page) Opaque() []byte {
	h := p.header()
	return p.Data[h.Special:]
}

// Len returns the number of (possibly freed) slots, i.e. page.len() in §4.1.
func (p *Page) Len() int {
	h := p.header()
	return int(h.Lower-pageHeaderSize) / 2
}

// Freespace returns the free bytes between the item-pointer array and the
// payload area.
func (p *Page) Freespace() int {
	h := p.header()
	return int(h.Upper) - int(h.Lower)
}

func (p *Page) slotOffset(slot Slot) uint16 {
	idx := pageHeaderSize + int(slot-1)*2
	return binary.LittleEndian.Uint16(p.Data[idx:])
}

func (p *Page) setSlotOffset(slot Slot, off uint16) {
	idx := pageHeaderSize + int(slot-1)*2
	binary.LittleEndian.PutUint16(p.Data[idx:], off)
}

// Get returns the item bytes at slot, or nil if the slot is free or out of
// range. The length is recovered from a 2-byte length prefix the item was
// stored with, matching the teacher's length-prefixed tuple convention (§3.1
// "Tuple. A length-prefixed byte image.").
func (p *Page) Get(slot Slot) []byte {
	if slot < 1 || int(slot) > p.Len() {
		return nil
	}
	off := p.slotOffset(slot)
	if off == 0 {
		return nil // freed
	}
	n := binary.LittleEndian.Uint16(p.Data[off:])
	return p.Data[off+2 : off+2+n]
}

// Alloc appends data to the payload area and records a new slot for it.
// Returns the new slot, or (0, false) if there is not enough contiguous
// freespace (the caller should Compact and retry, or move to a fresh page).
func (p *Page) Alloc(data []byte) (Slot, bool) {
	h := p.header()
	need := align8(2 + len(data))
	if p.Freespace() < need+2 {
		return 0, false
	}
	newUpper := int(h.Upper) - need
	binary.LittleEndian.PutUint16(p.Data[newUpper:], uint16(len(data)))
	copy(p.Data[newUpper+2:], data)
	h.Upper = uint16(newUpper)

	slot := Slot(p.Len() + 1)
	h.Lower += 2
	p.setSlotOffset(slot, uint16(newUpper))
	return slot, true
}

// Free nulls the item pointer at slot. The payload bytes are left in place;
// §4.1 "free(slot) nulls the item pointer (the payload stays; reuse happens
// only on whole-page reset)."
func (p *Page) Free(slot Slot) {
	if slot < 1 || int(slot) > p.Len() {
		return
	}
	p.setSlotOffset(slot, 0)
}

// Clear re-initializes the page as empty, keeping its opaque footer size.
func (p *Page) Clear() {
	h := p.header()
	opaqueSize := PageSize - int(h.Special)
	for i := range p.Data[:h.Special] {
		p.Data[i] = 0
	}
	p.Init(opaqueSize)
}

// Compact eliminates holes left by Free, repacking live items against the
// payload end. Returns the number of bytes reclaimed. Grounded on the
// teacher's page.compact()/compactWithBuf, simplified since this engine
// never needs an external scratch buffer pool — posting/tuple sizes here are
// bounded well under PageSize.
func (p *Page) Compact() int {
	h := p.header()
	n := p.Len()
	if n == 0 {
		old := h.Upper
		h.Upper = h.Special
		return int(h.Upper - old)
	}

	type live struct {
		slot Slot
		data []byte
	}
	items := make([]live, 0, n)
	for s := Slot(1); int(s) <= n; s++ {
		if d := p.Get(s); d != nil {
			cp := make([]byte, len(d))
			copy(cp, d)
			items = append(items, live{s, cp})
		}
	}

	oldUpper := h.Upper
	h.Upper = h.Special
	for _, it := range items {
		need := align8(2 + len(it.data))
		newUpper := int(h.Upper) - need
		binary.LittleEndian.PutUint16(p.Data[newUpper:], uint16(len(it.data)))
		copy(p.Data[newUpper+2:], it.data)
		h.Upper = uint16(newUpper)
		p.setSlotOffset(it.slot, uint16(newUpper))
	}
	return int(h.Upper) - int(oldUpper)
}

func align8(n int) int {
	return (n + 7) &^ 7
}
