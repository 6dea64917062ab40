package memstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/annidx/vann"
)

func TestExtendWriteRead(t *testing.T) {
	s := New()
	wg, err := s.Extend(true, func(p *vann.Page) { p.Init(0) })
	require.NoError(t, err)
	id := wg.(*writeGuard).ID()
	slot, ok := wg.Page().Alloc([]byte("hello"))
	require.True(t, ok, "alloc failed")
	wg.Release()

	rg, err := s.Read(id)
	require.NoError(t, err)
	got := rg.Page().Get(slot)
	rg.Release()
	require.Equal(t, "hello", string(got))

	n, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)
}

func TestSearchFindsTrackedFreespace(t *testing.T) {
	s := New()
	wg, _ := s.Extend(true, func(p *vann.Page) { p.Init(0) })
	wg.Page().Alloc(make([]byte, 100))
	wg.Release()

	found, ok, err := s.Search(50)
	require.NoError(t, err)
	require.True(t, ok)
	found.Release()
}

func TestReadUnallocatedErrors(t *testing.T) {
	s := New()
	_, err := s.Read(0)
	require.Error(t, err)
}
