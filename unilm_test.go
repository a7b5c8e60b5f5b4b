package mmjp

import (
	"math"
	"testing"
)

func TestUnilmAddPieceDeduplicates(t *testing.T) {
	u := NewUnilm(16)
	id1 := u.AddPiece([]byte("cat"), 3, 0)
	id2 := u.AddPiece([]byte("cat"), 3, PieceMandatory)
	if id1 != id2 {
		t.Fatalf("AddPiece on duplicate key returned different ids: %d, %d", id1, id2)
	}
	if !u.Mandatory(id1) {
		t.Errorf("Mandatory(id1) = false, want true after merging MANDATORY flag")
	}
	if u.NumPieces() != 1 {
		t.Fatalf("NumPieces() = %d, want 1", u.NumPieces())
	}
}

func TestUnilmFindID(t *testing.T) {
	u := NewUnilm(16)
	id := u.AddPiece([]byte("dog"), 3, 0)
	got, ok := u.FindID([]byte("dog"))
	if !ok || got != id {
		t.Errorf("FindID(dog) = %d, %v; want %d, true", got, ok, id)
	}
	if _, ok := u.FindID([]byte("cat")); ok {
		t.Errorf("FindID(cat) found, want missing")
	}
}

func TestUnilmNormalizeSumsToOne(t *testing.T) {
	u := NewUnilm(16)
	u.AddPiece([]byte("a"), 1, PieceMandatory)
	u.AddPiece([]byte("b"), 1, PieceMandatory)
	u.AddPiece([]byte("c"), 1, PieceMandatory)
	u.SetLogP(0, 0)
	u.SetLogP(1, 0)
	u.SetLogP(2, 0)
	u.Normalize(1e-9)

	sum := 0.0
	for i := 0; i < u.NumPieces(); i++ {
		sum += math.Exp(u.LogP(PieceID(i)))
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("sum of probabilities = %v, want ~1.0", sum)
	}
}

func TestUnilmCompactRenumbersAndDropsPieces(t *testing.T) {
	u := NewUnilm(16)
	a := u.AddPiece([]byte("a"), 1, PieceMandatory)
	_ = u.AddPiece([]byte("ab"), 2, 0)
	c := u.AddPiece([]byte("b"), 1, PieceMandatory)
	u.SetLogP(a, -1)
	u.SetLogP(c, -1)

	if err := u.Compact([]PieceID{a, c}); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if u.NumPieces() != 2 {
		t.Fatalf("NumPieces() after Compact = %d, want 2", u.NumPieces())
	}
	if _, ok := u.FindID([]byte("ab")); ok {
		t.Errorf("FindID(ab) found after Compact dropped it, want missing")
	}
	if _, ok := u.FindID([]byte("a")); !ok {
		t.Errorf("FindID(a) missing after Compact kept it")
	}
	if _, ok := u.FindID([]byte("b")); !ok {
		t.Errorf("FindID(b) missing after Compact kept it")
	}
}

func TestUnilmRebuildTrieSortedPreservesLookups(t *testing.T) {
	u := NewUnilm(16)
	keys := []string{"zebra", "apple", "mango", "a", "z"}
	ids := make(map[string]PieceID)
	for _, k := range keys {
		ids[k] = u.AddPiece([]byte(k), len([]rune(k)), 0)
	}
	if err := u.RebuildTrieSorted(); err != nil {
		t.Fatalf("RebuildTrieSorted: %v", err)
	}
	for _, k := range keys {
		got, ok := u.FindID([]byte(k))
		if !ok || got != ids[k] {
			t.Errorf("FindID(%q) after rebuild = %d, %v; want %d, true", k, got, ok, ids[k])
		}
	}
}
