package fastmap

import "testing"

func TestMapBasic(t *testing.T) {
	m := &Map[uint32, int]{}

	if _, ok := m.Get(1); ok {
		t.Fatal("expected miss on empty map")
	}

	m.Set(1, 100)
	m.Set(2, 200)

	if v, ok := m.Get(1); !ok || v != 100 {
		t.Fatalf("Get(1) = %v, %v", v, ok)
	}
	if v, ok := m.Get(2); !ok || v != 200 {
		t.Fatalf("Get(2) = %v, %v", v, ok)
	}
	if _, ok := m.Get(3); ok {
		t.Fatal("Get(3) should miss")
	}

	m.Set(1, 300)
	if v, _ := m.Get(1); v != 300 {
		t.Fatalf("update failed, got %v", v)
	}

	if m.Len() != 2 {
		t.Fatalf("expected len=2, got %d", m.Len())
	}

	m.Delete(1)
	if _, ok := m.Get(1); ok {
		t.Fatal("expected miss after delete")
	}
	if m.Len() != 1 {
		t.Fatalf("expected len=1 after delete, got %d", m.Len())
	}

	m.Clear()
	if m.Len() != 0 {
		t.Fatal("clear failed")
	}
}

func TestMapGrowthAndDelete(t *testing.T) {
	m := &Map[uint32, int]{}
	n := 5000
	for i := 0; i < n; i++ {
		m.Set(uint32(i), i*10)
	}
	if m.Len() != n {
		t.Fatalf("expected len=%d, got %d", n, m.Len())
	}
	for i := 0; i < n; i++ {
		v, ok := m.Get(uint32(i))
		if !ok || v != i*10 {
			t.Fatalf("Get(%d) = %v, %v", i, v, ok)
		}
	}
	for i := 0; i < n; i += 2 {
		m.Delete(uint32(i))
	}
	if m.Len() != n/2 {
		t.Fatalf("expected len=%d after deletes, got %d", n/2, m.Len())
	}
	for i := 1; i < n; i += 2 {
		v, ok := m.Get(uint32(i))
		if !ok || v != i*10 {
			t.Fatalf("surviving Get(%d) = %v, %v", i, v, ok)
		}
	}
}

func TestMapForEach(t *testing.T) {
	m := &Map[uint32, int]{}
	want := map[uint32]int{1: 10, 2: 20, 3: 30}
	for k, v := range want {
		m.Set(k, v)
	}
	got := map[uint32]int{}
	m.ForEach(func(k uint32, v int) { got[k] = v })
	if len(got) != len(want) {
		t.Fatalf("ForEach saw %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("ForEach[%d] = %d, want %d", k, got[k], v)
		}
	}
}
