package mmapstore

import (
	"path/filepath"
	"testing"

	"github.com/annidx/vann"
)

func TestOpenExtendWriteRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index.dat"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	wg, err := s.Extend(true, func(p *vann.Page) { p.Init(0) })
	if err != nil {
		t.Fatal(err)
	}
	id := wg.(*writeGuard).ID()
	slot, ok := wg.Page().Alloc([]byte("payload"))
	if !ok {
		t.Fatal("alloc failed")
	}
	wg.Release()

	rg, err := s.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	got := rg.Page().Get(slot)
	rg.Release()
	if string(got) != "payload" {
		t.Fatalf("got %q", got)
	}
}

func TestExtendGrowsPastOneChunk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index.dat"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for i := 0; i < growChunk+5; i++ {
		wg, err := s.Extend(false, func(p *vann.Page) { p.Init(0) })
		if err != nil {
			t.Fatalf("extend %d: %v", i, err)
		}
		wg.Release()
	}
	n, err := s.Len()
	if err != nil || n != growChunk+5 {
		t.Fatalf("Len() = %d, %v", n, err)
	}
}
