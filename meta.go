package vann

// EnsureMetaPage guarantees page 0 exists and is initialized as a plain
// slotted page with no opaque footer (the Meta tuple is just slot 1's
// payload, like every other tuple kind — §3.1 "Tuple. A length-prefixed byte
// image."). Build calls this once; every other entry point assumes it
// already ran.
func EnsureMetaPage(store Store) error {
	n, err := store.Len()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	wg, err := store.Extend(false, func(p *Page) { p.Init(0) })
	if err != nil {
		return err
	}
	wg.Release()
	return nil
}

// WriteMetaTuple (over)writes the Meta tuple at page 0, slot 1. Per §3.3,
// "Meta tuple is written once at build ... and subsequently mutated only in
// the first pointers of its two tapes plus tuples counter" — callers that
// only need to bump a pointer should prefer a smaller in-place rewrite, but
// this helper always does a full rewrite since the Meta tuple is tiny.
func WriteMetaTuple(store Store, data []byte) error {
	wg, err := store.Write(MetaPageID, false)
	if err != nil {
		return err
	}
	defer wg.Release()
	p := wg.Page()
	p.Clear()
	p.Init(0)
	if _, ok := p.Alloc(data); !ok {
		return NewError(ErrDataCorruption, "meta tuple does not fit in page 0")
	}
	return nil
}

// ReadMetaTuple reads the current Meta tuple bytes.
func ReadMetaTuple(store Store) ([]byte, error) {
	rg, err := store.Read(MetaPageID)
	if err != nil {
		return nil, err
	}
	defer rg.Release()
	data := rg.Page().Get(1)
	if data == nil {
		return nil, WrapError(ErrDataCorruption, "missing meta tuple", nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
