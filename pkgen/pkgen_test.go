package pkgen

import "testing"

func TestAutoincrement(t *testing.T) {
	g := NewAutoincrement()
	for i := uint64(0); i < 5; i++ {
		if got := g.Next(); got != i {
			t.Fatalf("Next() = %d, want %d", got, i)
		}
	}
}

func TestWrappingAutoincrement(t *testing.T) {
	g := NewWrappingAutoincrement(3)
	want := []uint64{0, 1, 2, 0, 1, 2, 0}
	for i, w := range want {
		if got := g.Next(); got != w {
			t.Fatalf("Next()[%d] = %d, want %d", i, got, w)
		}
	}
}

func TestUUIDGeneratorProducesDistinctValues(t *testing.T) {
	g := NewUUIDGenerator()
	a := g.Next()
	b := g.Next()
	if a == b {
		t.Fatalf("expected distinct UUIDs")
	}
}
