package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/annidx/vann"
)

func TestExtendWriteRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index.bolt"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	wg, err := s.Extend(true, func(p *vann.Page) { p.Init(0) })
	if err != nil {
		t.Fatal(err)
	}
	id := wg.(*writeGuard).ID()
	slot, ok := wg.Page().Alloc([]byte("hello-bolt"))
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
	if string(got) != "hello-bolt" {
		t.Fatalf("got %q", got)
	}

	n, err := s.Len()
	if err != nil || n != 1 {
		t.Fatalf("Len() = %d, %v", n, err)
	}
}
