package mmjp

import (
	"math"
	"testing"
)

func buildTestUnilm(t *testing.T, pieces []string, maxLenCP int) *Unilm {
	t.Helper()
	u := NewUnilm(1 << 12)
	for _, p := range pieces {
		lenCP := len([]rune(p))
		flags := uint8(0)
		if lenCP == 1 {
			flags = PieceMandatory
		}
		u.AddPiece([]byte(p), lenCP, flags)
	}
	for i := 0; i < u.NumPieces(); i++ {
		u.SetLogP(PieceID(i), 0)
	}
	u.Normalize(1e-9)
	if err := u.RebuildTrieSorted(); err != nil {
		t.Fatalf("RebuildTrieSorted: %v", err)
	}
	_ = maxLenCP
	return u
}

func TestLogAdd(t *testing.T) {
	got := logAdd(math.Log(2), math.Log(3))
	want := math.Log(5)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("logAdd(log2, log3) = %v, want %v", got, want)
	}
	if got := logAdd(negInf, negInf); !math.IsInf(got, -1) {
		t.Errorf("logAdd(-inf, -inf) = %v, want -inf", got)
	}
	if got := logAdd(negInf, math.Log(1)); got != 0 {
		t.Errorf("logAdd(-inf, log(1)) = %v, want 0", got)
	}
}

func TestCollectMatches(t *testing.T) {
	u := buildTestUnilm(t, []string{"a", "b", "ab", "abc", "c"}, 4)
	sent := []byte("abc")
	cpOff, _, err := MakeCPOffsets(sent, 8)
	if err != nil {
		t.Fatalf("MakeCPOffsets: %v", err)
	}
	matches := collectMatches(u.TrieMatcher(), sent, cpOff, 0, 4, 3)
	ends := map[int]bool{}
	for _, m := range matches {
		ends[m.EndCP] = true
	}
	for _, want := range []int{1, 2, 3} {
		if !ends[want] {
			t.Errorf("collectMatches from 0 missing a match ending at %d: %v", want, matches)
		}
	}
}

func TestEStepRequiresCoverage(t *testing.T) {
	u := buildTestUnilm(t, []string{"a", "b"}, 4)
	corpus := &SliceCorpus{Sentences: [][]byte{[]byte("ac")}}
	cfg := &TrainConfig{MaxPieceLenCP: 4}
	counts := make([]float64, u.NumPieces())
	if _, err := EStep(u, corpus, cfg, counts); err != ErrNoCoverage {
		t.Fatalf("EStep over uncoverable sentence = %v, want ErrNoCoverage", err)
	}
}

func TestEStepAccumulatesExpectedCounts(t *testing.T) {
	u := buildTestUnilm(t, []string{"a", "b", "ab"}, 4)
	corpus := &SliceCorpus{Sentences: [][]byte{[]byte("ab")}}
	cfg := &TrainConfig{MaxPieceLenCP: 4}
	counts := make([]float64, u.NumPieces())
	stats, err := EStep(u, corpus, cfg, counts)
	if err != nil {
		t.Fatalf("EStep: %v", err)
	}
	if stats.NSent != 1 {
		t.Errorf("NSent = %v, want 1", stats.NSent)
	}
	sum := 0.0
	for _, c := range counts {
		sum += c
	}
	if math.Abs(sum-stats.NTokensExp) > 1e-9 {
		t.Errorf("sum of counts = %v, want NTokensExp %v", sum, stats.NTokensExp)
	}
}

func TestMStepRenormalizes(t *testing.T) {
	u := buildTestUnilm(t, []string{"a", "b"}, 4)
	cfg := &TrainConfig{Smoothing: 0.1, MinProb: 1e-9}
	counts := []float64{5, 1}
	MStep(u, cfg, counts)
	if u.LogP(0) <= u.LogP(1) {
		t.Errorf("piece with higher count should end up with higher logp: logp(a)=%v logp(b)=%v", u.LogP(0), u.LogP(1))
	}
}

func TestPruneMDLKeepsMandatoryAndDropsLowScore(t *testing.T) {
	u := buildTestUnilm(t, []string{"a", "b", "ab"}, 4)
	abID, ok := u.FindID([]byte("ab"))
	if !ok {
		t.Fatalf("FindID(ab) missing")
	}
	// Make "ab" worthless: its own cost (-2·log 0.25 ≈ 2.77) exceeds its
	// fallback cost (the singles sit at log(1/3) each, ≈ 2.20), and a large
	// fixed per-piece penalty ensures its score is negative.
	u.SetLogP(abID, math.Log(0.25)*2)
	cfg := &TrainConfig{MDLLambda0: 1000, MaxPieceLenCP: 4}
	counts := make([]float64, u.NumPieces())
	counts[abID] = 10
	if err := PruneMDL(u, cfg, counts); err != nil {
		t.Fatalf("PruneMDL: %v", err)
	}
	if _, ok := u.FindID([]byte("ab")); ok {
		t.Errorf("FindID(ab) found after pruning with a prohibitive lambda0, want dropped")
	}
	if _, ok := u.FindID([]byte("a")); !ok {
		t.Errorf("mandatory piece 'a' dropped by pruning, want kept")
	}
	if _, ok := u.FindID([]byte("b")); !ok {
		t.Errorf("mandatory piece 'b' dropped by pruning, want kept")
	}
}

func TestTrainEMMDLKeepsMandatoryPieces(t *testing.T) {
	u := buildTestUnilm(t, []string{"a", "b", "ab", "ba"}, 4)
	corpus := &SliceCorpus{Sentences: [][]byte{[]byte("abab"), []byte("ba")}}
	cfg := &TrainConfig{
		NumIters:      3,
		MaxPieceLenCP: 4,
		Smoothing:     0.5,
		MinProb:       1e-9,
	}
	if _, err := TrainEMMDL(u, corpus, cfg); err != nil {
		t.Fatalf("TrainEMMDL: %v", err)
	}
	if _, ok := u.FindID([]byte("a")); !ok {
		t.Errorf("mandatory piece dropped across EM iterations")
	}
}
