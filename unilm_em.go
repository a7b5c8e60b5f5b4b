package mmjp

import (
	"container/heap"
	"math"
)

// CorpusIterator supplies sentences (already UTF-8 normalized, codepoints
// mapped to the kept-codepoint set) one at a time to the EM loop, and can
// be rewound between epochs. Decoupling "what feeds sentences" from the
// EM loop mirrors the reference's unilm_corpus_iter_t function-pointer
// pair as a small Go interface instead.
type CorpusIterator interface {
	Next() (sentence []byte, ok bool, err error)
	Reset()
}

// SliceCorpus is the Go analogue of the reference's unilm_array_corpus_t:
// an in-memory slice of sentences.
type SliceCorpus struct {
	Sentences [][]byte
	i         int
}

func (c *SliceCorpus) Next() ([]byte, bool, error) {
	if c.i >= len(c.Sentences) {
		return nil, false, nil
	}
	s := c.Sentences[c.i]
	c.i++
	return s, true, nil
}

func (c *SliceCorpus) Reset() { c.i = 0 }

// TrainConfig holds the EM+MDL hyperparameters (§4.E).
type TrainConfig struct {
	NumIters       int
	MaxPieceLenCP  int
	Smoothing      float64
	MDLLambda0     float64
	MDLLambdaLen   float64
	TargetVocab    int // 0 disables size-targeted pruning
	PruneEachIter  bool
	MinProb        float64
}

// EMStats is the per-epoch summary (§4.E accumulation).
type EMStats struct {
	LogLik      float64
	NSent       float64
	NTokensExp  float64
}

const negInf = math.Inf(-1)

// logAdd is log(exp(a)+exp(b)) computed stably, with an early-out once the
// smaller term is negligible (beyond ~50 nats, per the design notes).
func logAdd(a, b float64) float64 {
	if math.IsInf(a, -1) && math.IsInf(b, -1) {
		return negInf
	}
	if a < b {
		a, b = b, a
	}
	diff := b - a
	if diff < -50 {
		return a
	}
	return a + math.Log1p(math.Exp(diff))
}

type matchEntry struct {
	EndCP int
	Piece PieceID
}

// collectMatches walks m from codepoint position startCP, byte by byte,
// emitting (endCP, pieceID) whenever the walked node has a terminal value,
// up to maxLenCP codepoints or the end of the sentence.
func collectMatches(m Matcher, utf8 []byte, cpOff []uint32, startCP, maxLenCP, nCP int) []matchEntry {
	var out []matchEntry
	node := m.Root()
	bytePos := int(cpOff[startCP])
	endCP := startCP
	for endCP < nCP && endCP-startCP < maxLenCP {
		nextBytePos := int(cpOff[endCP+1])
		ok := true
		for bytePos < nextBytePos {
			next, found := m.Next(node, utf8[bytePos])
			if !found {
				ok = false
				break
			}
			node = next
			bytePos++
		}
		if !ok {
			break
		}
		endCP++
		if v, has := m.TermValueAt(node); has {
			out = append(out, matchEntry{EndCP: endCP, Piece: PieceID(v)})
		}
	}
	return out
}

// EStep runs one EM forward-backward pass over the corpus, accumulating
// expected piece counts into counts (which must be len(u.NumPieces()) and
// is cleared first) and returning epoch statistics. ErrNoCoverage is
// returned (and the corpus position left where it failed) if any sentence
// has no covering segmentation under the current vocabulary.
func EStep(u *Unilm, it CorpusIterator, cfg *TrainConfig, counts []float64) (EMStats, error) {
	for i := range counts {
		counts[i] = 0
	}
	var stats EMStats
	it.Reset()
	for {
		sent, ok, err := it.Next()
		if err != nil {
			return stats, err
		}
		if !ok {
			break
		}
		cpOff, _, err := MakeCPOffsets(sent, len(sent)+1)
		if err != nil {
			return stats, err
		}
		nCP := len(cpOff) - 1
		if nCP == 0 {
			continue
		}
		matches := make([][]matchEntry, nCP)
		for i := 0; i < nCP; i++ {
			matches[i] = collectMatches(u.TrieMatcher(), sent, cpOff, i, cfg.MaxPieceLenCP, nCP)
		}

		alpha := make([]float64, nCP+1)
		for i := 1; i <= nCP; i++ {
			alpha[i] = negInf
		}
		for i := 0; i < nCP; i++ {
			if math.IsInf(alpha[i], -1) {
				continue
			}
			for _, mt := range matches[i] {
				alpha[mt.EndCP] = logAdd(alpha[mt.EndCP], alpha[i]+u.LogP(mt.Piece))
			}
		}
		logZ := alpha[nCP]
		if math.IsInf(logZ, -1) {
			return stats, ErrNoCoverage
		}

		beta := make([]float64, nCP+1)
		for i := 0; i < nCP; i++ {
			beta[i] = negInf
		}
		for i := nCP - 1; i >= 0; i-- {
			for _, mt := range matches[i] {
				beta[i] = logAdd(beta[i], u.LogP(mt.Piece)+beta[mt.EndCP])
			}
		}

		tokensExp := 0.0
		for i := 0; i < nCP; i++ {
			for _, mt := range matches[i] {
				exponent := alpha[i] + u.LogP(mt.Piece) + beta[mt.EndCP] - logZ
				if exponent < -80 {
					continue
				}
				c := math.Exp(exponent)
				counts[mt.Piece] += c
				tokensExp += c
			}
		}
		stats.LogLik += logZ
		stats.NSent++
		stats.NTokensExp += tokensExp
	}
	return stats, nil
}

// MStep renormalizes u's log-probabilities from expected counts.
func MStep(u *Unilm, cfg *TrainConfig, counts []float64) {
	sum := 0.0
	for _, c := range counts {
		sum += c + cfg.Smoothing
	}
	if sum <= 0 {
		return
	}
	for i, c := range counts {
		u.SetLogP(PieceID(i), math.Log((c+cfg.Smoothing)/sum))
	}
	u.Normalize(cfg.MinProb)
}

// scoredPiece is a candidate for MDL pruning, kept in a min-heap when a
// target vocabulary size bounds the keep set.
type scoredPiece struct {
	id    PieceID
	score float64
}

type scoredHeap []scoredPiece

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(scoredPiece)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// pieceFallbackCost sums the single-codepoint fallback cost of piece id's
// constituent codepoints, by re-walking its bytes one codepoint at a time
// and looking up each single-codepoint piece (which must exist: the
// coverage invariant makes every codepoint mandatory).
func pieceFallbackCost(u *Unilm, id PieceID) (float64, error) {
	key := u.PieceBytes(id)
	cpOff, _, err := MakeCPOffsets(key, len(key)+1)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for i := 0; i < len(cpOff)-1; i++ {
		cKey := key[cpOff[i]:cpOff[i+1]]
		cid, ok := u.FindID(cKey)
		if !ok {
			return 0, ErrInternalInvariant
		}
		total += -u.LogP(cid)
	}
	return total, nil
}

// PruneMDL implements the description-length pruner (§4.E): every
// non-mandatory piece's usage-weighted savings over character fallback is
// compared against its model cost, either keeping exactly the pieces whose
// score is positive, or keeping only the top target_vocab_size-|mandatory|
// by score when a target size is set. It compacts the model in place.
func PruneMDL(u *Unilm, cfg *TrainConfig, counts []float64) error {
	type cand struct {
		id    PieceID
		score float64
	}
	var mandatory []PieceID
	var candidates []cand
	for _, id := range u.AllIDs() {
		if u.Mandatory(id) {
			mandatory = append(mandatory, id)
			continue
		}
		alt, err := pieceFallbackCost(u, id)
		if err != nil {
			return err
		}
		lenCP := float64(u.pieces[id].LenCP)
		s := (alt - (-u.LogP(id))) * counts[id]
		s -= cfg.MDLLambda0 + cfg.MDLLambdaLen*lenCP
		candidates = append(candidates, cand{id, s})
	}

	var keep []PieceID
	keep = append(keep, mandatory...)
	if cfg.TargetVocab > 0 {
		k := cfg.TargetVocab - len(mandatory)
		if k < 0 {
			k = 0
		}
		h := make(scoredHeap, 0, k)
		heap.Init(&h)
		for _, c := range candidates {
			if h.Len() < k {
				heap.Push(&h, scoredPiece{c.id, c.score})
				continue
			}
			if h.Len() > 0 && c.score > h[0].score {
				heap.Pop(&h)
				heap.Push(&h, scoredPiece{c.id, c.score})
			}
		}
		for _, sp := range h {
			keep = append(keep, sp.id)
		}
	} else {
		for _, c := range candidates {
			if c.score > 0 {
				keep = append(keep, c.id)
			}
		}
	}
	return u.Compact(keep)
}

// TrainEMMDL runs the full loop: E-step, M-step, and (when configured)
// pruning each iteration, returning the statistics of the final epoch.
func TrainEMMDL(u *Unilm, it CorpusIterator, cfg *TrainConfig) (EMStats, error) {
	var stats EMStats
	for iter := 0; iter < cfg.NumIters; iter++ {
		counts := make([]float64, u.NumPieces())
		var err error
		stats, err = EStep(u, it, cfg, counts)
		if err != nil {
			return stats, err
		}
		MStep(u, cfg, counts)
		if cfg.PruneEachIter {
			if err := PruneMDL(u, cfg, counts); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}
