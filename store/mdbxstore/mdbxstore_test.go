//go:build mdbxstore

package mdbxstore

import (
	"path/filepath"
	"testing"

	"github.com/annidx/vann"
)

func TestExtendWriteRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index.mdbx"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	wg, err := s.Extend(true, func(p *vann.Page) { p.Init(0) })
	if err != nil {
		t.Fatal(err)
	}
	id := wg.(*writeGuard).ID()
	slot, ok := wg.Page().Alloc([]byte("hello-mdbx"))
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
	if string(got) != "hello-mdbx" {
		t.Fatalf("got %q", got)
	}
}
