package mmjp

import "testing"

func TestSparseBuilderAddAndFreeze(t *testing.T) {
	b := NewSparseBuilder(4)
	b.Add(10, ScoreFromFloat64(1.0))
	b.Add(20, ScoreFromFloat64(2.0))
	b.Add(10, ScoreFromFloat64(0.5))

	if v, ok := b.Get(10); !ok || v != ScoreFromFloat64(1.5) {
		t.Fatalf("Get(10) = %v, %v; want 1.5, true", v, ok)
	}

	table := b.Freeze()
	if table.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", table.Len())
	}
	if v, ok := table.Lookup(10); !ok || v != ScoreFromFloat64(1.5) {
		t.Fatalf("Lookup(10) = %v, %v; want 1.5, true", v, ok)
	}
	if v, ok := table.Lookup(20); !ok || v != ScoreFromFloat64(2.0) {
		t.Fatalf("Lookup(20) = %v, %v; want 2.0, true", v, ok)
	}
	if _, ok := table.Lookup(30); ok {
		t.Fatalf("Lookup(30) found, want missing")
	}
}

func TestSparseBuilderResize(t *testing.T) {
	b := NewSparseBuilder(4)
	for i := uint32(0); i < 200; i++ {
		b.Add(i, ScoreFromFloat64(float64(i)))
	}
	for i := uint32(0); i < 200; i++ {
		v, ok := b.Get(i)
		if !ok || v != ScoreFromFloat64(float64(i)) {
			t.Fatalf("Get(%d) = %v, %v; want %v, true", i, v, ok, float64(i))
		}
	}
}
