package mmjp

import "testing"

// buildDecodeTestModel builds a minimal Model with a neutral CRF (all
// transitions and feature weights zero, so only the UniLM unigram score
// distinguishes candidate segmentations) and a small trie of known pieces.
func buildDecodeTestModel(t *testing.T, pieces map[string]float64, maxWordLen int) *Model {
	t.Helper()
	tr := NewTrie(64)
	logp := make([]Score, len(pieces))
	ids := make(map[string]PieceID, len(pieces))
	i := 0
	for k := range pieces {
		ids[k] = PieceID(i)
		i++
	}
	for k, id := range ids {
		if err := tr.SetTermValue([]byte(k), int(id)); err != nil {
			t.Fatalf("SetTermValue(%q): %v", k, err)
		}
		logp[id] = ScoreFromFloat64(pieces[k])
	}
	return &Model{
		Trie:       tr,
		LogPUni:    logp,
		Bigram:     NewSparseBuilder(1).Freeze(),
		Feat:       NewSparseBuilder(1).Freeze(),
		UnkBase:    ScoreFromFloat64(-20),
		UnkPerCP:   ScoreFromFloat64(-5),
		Lambda0:    ScoreFromFloat64(1.0),
		MaxWordLen: maxWordLen,
		CC:         CharClass{Mode: CCUTF8Len},
	}
}

// TestDecodeConsultsBigramBackoff builds a model where the unigram scores
// alone favor segmenting "ab" as the single dictionary piece "ab", but an
// explicit bigram entry for (BOS, "ab") drives that edge's score far
// below the two-singles alternative. Decode must pick up the override —
// a decoder that silently fell back to the unigram-only score on every
// edge (ignoring Model.Bigram entirely) would still prefer "ab" here.
func TestDecodeConsultsBigramBackoff(t *testing.T) {
	tr := NewTrie(64)
	ids := map[string]PieceID{"a": 0, "b": 1, "ab": 2}
	for k, id := range ids {
		if err := tr.SetTermValue([]byte(k), int(id)); err != nil {
			t.Fatalf("SetTermValue(%q): %v", k, err)
		}
	}
	logp := make([]Score, len(ids))
	for _, id := range ids {
		logp[id] = ScoreFromFloat64(-0.5)
	}
	bigram := NewSparseBuilder(1)
	bigram.Set(packBigramKey(PieceBOS, ids["ab"]), ScoreFromFloat64(-20))

	m := &Model{
		Trie:       tr,
		LogPUni:    logp,
		Bigram:     bigram.Freeze(),
		Feat:       NewSparseBuilder(1).Freeze(),
		UnkBase:    ScoreFromFloat64(-20),
		UnkPerCP:   ScoreFromFloat64(-5),
		Lambda0:    ScoreFromFloat64(1.0),
		MaxWordLen: 4,
		CC:         CharClass{Mode: CCUTF8Len},
	}

	ws := NewWorkspace()
	sent := []byte("ab")
	cpOff, _, err := MakeCPOffsets(sent, 8)
	if err != nil {
		t.Fatalf("MakeCPOffsets: %v", err)
	}
	classes := []uint8{ClassAlpha, ClassAlpha}
	bounds, err := Decode(m, ws, sent, cpOff, classes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(bounds) != 3 || bounds[0] != 0 || bounds[1] != 1 || bounds[2] != 2 {
		t.Errorf("Decode bounds = %v, want [0 1 2] (bigram override should beat unigram-preferred 'ab')", bounds)
	}
}

func TestDecodeEmptySentence(t *testing.T) {
	m := buildDecodeTestModel(t, map[string]float64{"a": -1}, 4)
	ws := NewWorkspace()
	bounds, err := Decode(m, ws, nil, []uint32{0}, nil)
	if err != nil {
		t.Fatalf("Decode(empty): %v", err)
	}
	if len(bounds) != 2 || bounds[0] != 0 || bounds[1] != 0 {
		t.Fatalf("Decode(empty) bounds = %v, want [0 0]", bounds)
	}
}

func TestDecodePrefersHighProbabilityDictionaryPiece(t *testing.T) {
	m := buildDecodeTestModel(t, map[string]float64{
		"a":  -5,
		"b":  -5,
		"ab": -0.1,
	}, 4)
	ws := NewWorkspace()
	sent := []byte("ab")
	cpOff, _, err := MakeCPOffsets(sent, 8)
	if err != nil {
		t.Fatalf("MakeCPOffsets: %v", err)
	}
	classes := []uint8{ClassAlpha, ClassAlpha}
	bounds, err := Decode(m, ws, sent, cpOff, classes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(bounds) != 2 || bounds[0] != 0 || bounds[1] != 2 {
		t.Errorf("Decode bounds = %v, want [0 2] (single piece 'ab')", bounds)
	}
}

func TestDecodePrefersTwoSinglesWhenJointIsCheap(t *testing.T) {
	m := buildDecodeTestModel(t, map[string]float64{
		"a":  -0.1,
		"b":  -0.1,
		"ab": -5,
	}, 4)
	ws := NewWorkspace()
	sent := []byte("ab")
	cpOff, _, err := MakeCPOffsets(sent, 8)
	if err != nil {
		t.Fatalf("MakeCPOffsets: %v", err)
	}
	classes := []uint8{ClassAlpha, ClassAlpha}
	bounds, err := Decode(m, ws, sent, cpOff, classes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(bounds) != 3 || bounds[0] != 0 || bounds[1] != 1 || bounds[2] != 2 {
		t.Errorf("Decode bounds = %v, want [0 1 2] (two single-char pieces)", bounds)
	}
}

func TestDecodeRespectsMaxWordLen(t *testing.T) {
	m := buildDecodeTestModel(t, map[string]float64{
		"a":   -1,
		"b":   -1,
		"c":   -1,
		"abc": -0.01,
	}, 2) // cap below len("abc")
	ws := NewWorkspace()
	sent := []byte("abc")
	cpOff, _, err := MakeCPOffsets(sent, 8)
	if err != nil {
		t.Fatalf("MakeCPOffsets: %v", err)
	}
	classes := []uint8{ClassAlpha, ClassAlpha, ClassAlpha}
	bounds, err := Decode(m, ws, sent, cpOff, classes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i]-bounds[i-1] > 2 {
			t.Errorf("Decode produced a segment longer than MaxWordLen=2: bounds=%v", bounds)
		}
	}
}

func TestSampleProducesValidBoundaries(t *testing.T) {
	m := buildDecodeTestModel(t, map[string]float64{"a": -1, "b": -1, "ab": -1}, 4)
	ws := NewWorkspace()
	sent := []byte("ab")
	cpOff, _, err := MakeCPOffsets(sent, 8)
	if err != nil {
		t.Fatalf("MakeCPOffsets: %v", err)
	}
	classes := []uint8{ClassAlpha, ClassAlpha}
	rng := NewXorshift32(42)
	for i := 0; i < 20; i++ {
		bounds, err := Sample(m, ws, sent, cpOff, classes, rng, 1.0)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if bounds[0] != 0 || bounds[len(bounds)-1] != 2 {
			t.Fatalf("Sample produced invalid boundaries %v", bounds)
		}
	}
}

func TestNBestOrderedDescendingAndBounded(t *testing.T) {
	m := buildDecodeTestModel(t, map[string]float64{
		"a": -1, "b": -1, "ab": -0.2,
	}, 4)
	ws := NewWorkspace()
	sent := []byte("ab")
	cpOff, _, err := MakeCPOffsets(sent, 8)
	if err != nil {
		t.Fatalf("MakeCPOffsets: %v", err)
	}
	classes := []uint8{ClassAlpha, ClassAlpha}
	all, err := NBest(m, ws, sent, cpOff, classes, 5)
	if err != nil {
		t.Fatalf("NBest: %v", err)
	}
	if len(all) == 0 {
		t.Fatalf("NBest returned no hypotheses")
	}
	// First hypothesis should be the single-piece segmentation, matching
	// Decode's Viterbi choice given the same scores.
	best := all[0]
	if len(best) != 2 || best[0] != 0 || best[1] != 2 {
		t.Errorf("NBest top hypothesis = %v, want [0 2]", best)
	}
	for _, b := range all {
		if b[0] != 0 || b[len(b)-1] != 2 {
			t.Errorf("NBest hypothesis %v has invalid outer boundaries", b)
		}
	}
}

func TestNBestCapsAtMaxNBest(t *testing.T) {
	m := buildDecodeTestModel(t, map[string]float64{"a": -1}, 4)
	ws := NewWorkspace()
	sent := []byte("a")
	cpOff, _, err := MakeCPOffsets(sent, 8)
	if err != nil {
		t.Fatalf("MakeCPOffsets: %v", err)
	}
	classes := []uint8{ClassAlpha}
	all, err := NBest(m, ws, sent, cpOff, classes, MaxNBest+100)
	if err != nil {
		t.Fatalf("NBest: %v", err)
	}
	if len(all) > MaxNBest {
		t.Errorf("NBest returned %d hypotheses, want <= MaxNBest=%d", len(all), MaxNBest)
	}
}

func TestXorshift32Deterministic(t *testing.T) {
	a := NewXorshift32(123)
	b := NewXorshift32(123)
	for i := 0; i < 10; i++ {
		if a.next() != b.next() {
			t.Fatalf("two Xorshift32 instances with the same seed diverged at step %d", i)
		}
	}
}
