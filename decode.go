package mmjp

import "math"

// MaxNBest bounds a single NBest request; this mirrors the fixed-size
// per-cell buffers the reference keeps for its top-K insertion.
const MaxNBest = 64

// Workspace holds reusable scratch buffers for Decode/Sample/NBest, so a
// caller processing many sentences avoids a per-call allocation burst.
type Workspace struct {
	emit1 []Score
	e0pre []Score // prefix sum of per-position label-0 emission, len nCP+1
}

// NewWorkspace returns an empty Workspace ready for reuse across calls.
func NewWorkspace() *Workspace { return &Workspace{} }

func (w *Workspace) reset(nCP int) {
	if cap(w.emit1) < nCP {
		w.emit1 = make([]Score, nCP)
		w.e0pre = make([]Score, nCP+1)
	} else {
		w.emit1 = w.emit1[:nCP]
		w.e0pre = w.e0pre[:nCP+1]
	}
}

func (w *Workspace) precompute(m *Model, classes []uint8) {
	nCP := len(classes)
	w.reset(nCP)
	w.e0pre[0] = 0
	for i := 0; i < nCP; i++ {
		w.emit1[i] = Emit(m, classes, i, 1)
		w.e0pre[i+1] = w.e0pre[i] + Emit(m, classes, i, 0)
	}
}

// lookupSpan returns the dictionary piece id of the exact span of k
// codepoints starting at start, and whether one exists; an unmatched
// span (OOV) reports (PieceNone, false).
func lookupSpan(m Matcher, utf8 []byte, cpOff []uint32, start, k int) (PieceID, bool) {
	node := m.Root()
	lo := int(cpOff[start])
	hi := int(cpOff[start+k])
	for p := lo; p < hi; p++ {
		next, ok := m.Next(node, utf8[p])
		if !ok {
			return PieceNone, false
		}
		node = next
	}
	v, ok := m.TermValueAt(node)
	if !ok {
		return PieceNone, false
	}
	return PieceID(v), true
}

// segScore is the combined CRF + language-model score of a segment of
// length k codepoints starting at position i, arriving from a predecessor
// whose final label is from (255 for BOS, which adds BosTo1) and whose own
// matched piece was prevID (PieceBOS at the start of the sentence). The CRF
// part has two cases: k==1 is emit1 plus trans11; k>=2 is emit1 plus
// trans10, the prefix-summed interior label-0 emissions, (k-2) repeats of
// trans00, and trans01. The language-model term prefers a
// bigram(prevID, pieceID) entry and falls back to the unigram/OOV score
// when the model carries no such bigram.
func segScore(m *Model, ws *Workspace, from uint8, i, k int, prevID, pieceID PieceID) Score {
	s := ws.emit1[i]
	if from == 255 {
		s += m.BosTo1
	}
	if k == 1 {
		s += m.Trans11
	} else {
		s += m.Trans10 + Score(k-2)*m.Trans00 + m.Trans01 + (ws.e0pre[i+k] - ws.e0pre[i+1])
	}
	backoff := m.UnigramLogP(pieceID, k)
	lm := m.BigramLogP(prevID, pieceID, backoff)
	s += MulQ88(m.Lambda0, lm)
	return s
}

func segLabel(k int) uint8 {
	if k == 1 {
		return 1
	}
	return 0
}

// spanPieceCache memoizes the dictionary piece id matched at each
// (end, length) lattice span as the forward passes discover them, so a
// later position can recover its predecessor's piece id (needed for
// bigram lookup) without re-walking the trie.
type spanPieceCache struct {
	maxLen int
	ids    [][]PieceID // ids[end][len], len in [1, maxLen]
}

func newSpanPieceCache(nCP, maxLen int) *spanPieceCache {
	c := &spanPieceCache{maxLen: maxLen, ids: make([][]PieceID, nCP+1)}
	for i := range c.ids {
		c.ids[i] = make([]PieceID, maxLen+1)
	}
	return c
}

func (c *spanPieceCache) set(end, length int, id PieceID) { c.ids[end][length] = id }
func (c *spanPieceCache) get(end, length int) PieceID      { return c.ids[end][length] }

// Decode returns the best codepoint boundary positions (0 and nCP always
// included) for sentence, segmented by Viterbi over the semi-Markov
// lattice. An empty sentence decodes to boundaries {0, 0}.
//
// DP state is (position, length of the segment ending there): unlike a
// state that only tracks the CRF label of the final position, this keeps
// the identity of the last matched piece recoverable, which the bigram
// back-off term in segScore needs (spec's "combined edge" score conditions
// on prev_id, not merely the previous label).
func Decode(m *Model, ws *Workspace, sentence []byte, cpOff []uint32, classes []uint8) ([]int, error) {
	nCP := len(classes)
	if nCP == 0 {
		return []int{0, 0}, nil
	}
	ws.precompute(m, classes)

	maxLen := m.MaxWordLen
	if maxLen <= 0 || maxLen > nCP {
		maxLen = nCP
	}

	// best[pos][j]: score of the best path reaching pos whose final
	// segment has length j. best[0][0] is the BOS pseudostate.
	best := make([][]Score, nCP+1)
	for i := range best {
		row := make([]Score, maxLen+1)
		for j := range row {
			row[j] = ScoreNegInf
		}
		best[i] = row
	}
	best[0][0] = 0

	type back struct{ prevJ int }
	bp := make([][]back, nCP+1)
	for i := range bp {
		bp[i] = make([]back, maxLen+1)
	}

	pieces := newSpanPieceCache(nCP, maxLen)

	for i := 0; i < nCP; i++ {
		maxK := maxLen
		if nCP-i < maxK {
			maxK = nCP - i
		}
		for k := 1; k <= maxK; k++ {
			end := i + k
			pieceID, ok := lookupSpan(m.Trie, sentence, cpOff, i, k)
			if !ok {
				pieceID = PieceNone
			}
			pieces.set(end, k, pieceID)
			if i == 0 {
				cand := segScore(m, ws, 255, i, k, PieceBOS, pieceID)
				if cand > best[end][k] {
					best[end][k] = cand
					bp[end][k] = back{prevJ: 0}
				}
				continue
			}
			maxPrevJ := maxLen
			if maxPrevJ > i {
				maxPrevJ = i
			}
			for prevJ := 1; prevJ <= maxPrevJ; prevJ++ {
				if best[i][prevJ] == ScoreNegInf {
					continue
				}
				prevID := pieces.get(i, prevJ)
				from := segLabel(prevJ)
				cand := best[i][prevJ] + segScore(m, ws, from, i, k, prevID, pieceID)
				if cand > best[end][k] {
					best[end][k] = cand
					bp[end][k] = back{prevJ: prevJ}
				}
			}
		}
	}

	bestJ := -1
	bestScore := ScoreNegInf
	maxFinalJ := maxLen
	if maxFinalJ > nCP {
		maxFinalJ = nCP
	}
	for j := 1; j <= maxFinalJ; j++ {
		if best[nCP][j] > bestScore {
			bestScore = best[nCP][j]
			bestJ = j
		}
	}
	if bestJ == -1 {
		return nil, ErrInternalInvariant
	}

	var boundsRev []int
	pos := nCP
	j := bestJ
	boundsRev = append(boundsRev, pos)
	for pos > 0 {
		prevJ := bp[pos][j].prevJ
		pos -= j
		boundsRev = append(boundsRev, pos)
		j = prevJ
	}
	bounds := make([]int, len(boundsRev))
	for i, v := range boundsRev {
		bounds[len(boundsRev)-1-i] = v
	}
	if bounds[0] != 0 || bounds[len(bounds)-1] != nCP {
		return nil, ErrInternalInvariant
	}
	return bounds, nil
}

// Xorshift32 is a tiny, seedable, non-cryptographic RNG, used instead of
// math/rand so sampled segmentations are exactly reproducible from a
// caller-supplied seed across processes and Go versions.
type Xorshift32 struct{ state uint32 }

func NewXorshift32(seed uint32) *Xorshift32 {
	if seed == 0 {
		seed = 0x9e3779b9
	}
	return &Xorshift32{state: seed}
}

func (x *Xorshift32) next() uint32 {
	s := x.state
	s ^= s << 13
	s ^= s >> 17
	s ^= s << 5
	x.state = s
	return s
}

// float64 in [0,1).
func (x *Xorshift32) float64() float64 {
	return float64(x.next()) / float64(1<<32)
}

// Sample draws one segmentation by forward-filtering backward-sampling
// (FFBS): a double-precision log-space forward pass over the same
// semi-Markov lattice Decode uses, followed by a backward pass that
// samples each preceding segment proportional to its posterior weight,
// scaled by temperature (temperature 1.0 reproduces the model's own
// distribution; lower sharpens toward the Viterbi path). As in Decode,
// state is (position, length of the segment ending there) rather than
// just the CRF label, so the backward pass can recover the previous
// piece id for the bigram term in segScore.
func Sample(m *Model, ws *Workspace, sentence []byte, cpOff []uint32, classes []uint8, rng *Xorshift32, temperature float64) ([]int, error) {
	nCP := len(classes)
	if nCP == 0 {
		return []int{0, 0}, nil
	}
	if temperature <= 0 {
		temperature = 1
	}
	ws.precompute(m, classes)

	maxLen := m.MaxWordLen
	if maxLen <= 0 || maxLen > nCP {
		maxLen = nCP
	}

	alpha := make([][]float64, nCP+1)
	for i := range alpha {
		row := make([]float64, maxLen+1)
		for j := range row {
			row[j] = negInf
		}
		alpha[i] = row
	}
	alpha[0][0] = 0

	pieces := newSpanPieceCache(nCP, maxLen)

	for i := 0; i < nCP; i++ {
		maxK := maxLen
		if nCP-i < maxK {
			maxK = nCP - i
		}
		for k := 1; k <= maxK; k++ {
			end := i + k
			pieceID, ok := lookupSpan(m.Trie, sentence, cpOff, i, k)
			if !ok {
				pieceID = PieceNone
			}
			pieces.set(end, k, pieceID)
			if i == 0 {
				s := segScore(m, ws, 255, i, k, PieceBOS, pieceID).Float64() / temperature
				alpha[end][k] = logAdd(alpha[end][k], s)
				continue
			}
			maxPrevJ := maxLen
			if maxPrevJ > i {
				maxPrevJ = i
			}
			for prevJ := 1; prevJ <= maxPrevJ; prevJ++ {
				if math.IsInf(alpha[i][prevJ], -1) {
					continue
				}
				prevID := pieces.get(i, prevJ)
				from := segLabel(prevJ)
				s := alpha[i][prevJ] + segScore(m, ws, from, i, k, prevID, pieceID).Float64()/temperature
				alpha[end][k] = logAdd(alpha[end][k], s)
			}
		}
	}

	maxFinalJ := maxLen
	if maxFinalJ > nCP {
		maxFinalJ = nCP
	}
	total := negInf
	for j := 1; j <= maxFinalJ; j++ {
		total = logAdd(total, alpha[nCP][j])
	}
	if math.IsInf(total, -1) {
		return nil, ErrInternalInvariant
	}
	r := rng.float64()
	acc := 0.0
	j := -1
	for jj := 1; jj <= maxFinalJ; jj++ {
		if math.IsInf(alpha[nCP][jj], -1) {
			continue
		}
		acc += math.Exp(alpha[nCP][jj] - total)
		if r <= acc {
			j = jj
			break
		}
	}
	if j == -1 {
		for jj := maxFinalJ; jj >= 1; jj-- {
			if !math.IsInf(alpha[nCP][jj], -1) {
				j = jj
				break
			}
		}
	}
	if j == -1 {
		return nil, ErrInternalInvariant
	}

	pos := nCP
	var boundsRev []int
	boundsRev = append(boundsRev, pos)
	for pos > 0 {
		i := pos - j
		pieceID := pieces.get(pos, j)
		var prevJCands []int
		var weights []float64
		totalW := 0.0
		if i == 0 {
			s := segScore(m, ws, 255, i, j, PieceBOS, pieceID).Float64() / temperature
			w := math.Exp(s - alpha[pos][j])
			prevJCands = append(prevJCands, 0)
			weights = append(weights, w)
			totalW += w
		} else {
			maxPrevJ := maxLen
			if maxPrevJ > i {
				maxPrevJ = i
			}
			for prevJ := 1; prevJ <= maxPrevJ; prevJ++ {
				if math.IsInf(alpha[i][prevJ], -1) {
					continue
				}
				prevID := pieces.get(i, prevJ)
				from := segLabel(prevJ)
				s := alpha[i][prevJ] + segScore(m, ws, from, i, j, prevID, pieceID).Float64()/temperature
				w := math.Exp(s - alpha[pos][j])
				prevJCands = append(prevJCands, prevJ)
				weights = append(weights, w)
				totalW += w
			}
		}
		if len(prevJCands) == 0 || totalW <= 0 {
			return nil, ErrInternalInvariant
		}
		pick := rng.float64() * totalW
		chosenPrevJ := prevJCands[len(prevJCands)-1]
		acc := 0.0
		for idx, wv := range weights {
			acc += wv
			if pick <= acc {
				chosenPrevJ = prevJCands[idx]
				break
			}
		}
		pos = i
		j = chosenPrevJ
		boundsRev = append(boundsRev, pos)
	}
	bounds := make([]int, len(boundsRev))
	for i, v := range boundsRev {
		bounds[len(boundsRev)-1-i] = v
	}
	if bounds[0] != 0 || bounds[len(bounds)-1] != nCP {
		return nil, ErrInternalInvariant
	}
	return bounds, nil
}

// nbestCand is one ranked hypothesis reaching a lattice cell, identified
// by (position, length of its own final segment) like Decode/Sample's DP
// state, so its predecessor's piece id is always recoverable for the
// bigram term in segScore.
type nbestCand struct {
	score    Score
	prevJ    int
	prevRank int
}

// NBest returns up to n distinct segmentations (as codepoint boundary
// lists) ranked by total score, descending. n is capped at MaxNBest.
func NBest(m *Model, ws *Workspace, sentence []byte, cpOff []uint32, classes []uint8, n int) ([][]int, error) {
	nCP := len(classes)
	if nCP == 0 {
		return [][]int{{0, 0}}, nil
	}
	if n <= 0 {
		return nil, ErrBadArgument
	}
	if n > MaxNBest {
		n = MaxNBest
	}
	ws.precompute(m, classes)

	maxLen := m.MaxWordLen
	if maxLen <= 0 || maxLen > nCP {
		maxLen = nCP
	}

	// cell[pos][j] holds up to n candidates, sorted descending by score,
	// for the state whose final segment ends at pos with length j.
	cell := make([][][]nbestCand, nCP+1)
	for i := range cell {
		cell[i] = make([][]nbestCand, maxLen+1)
	}

	insert := func(list []nbestCand, c nbestCand) []nbestCand {
		i := 0
		for i < len(list) && list[i].score >= c.score {
			i++
		}
		if i >= n {
			return list
		}
		if len(list) < n {
			list = append(list, nbestCand{})
		}
		copy(list[i+1:], list[i:len(list)-1])
		list[i] = c
		return list
	}

	pieces := newSpanPieceCache(nCP, maxLen)

	for i := 0; i < nCP; i++ {
		maxK := maxLen
		if nCP-i < maxK {
			maxK = nCP - i
		}
		for k := 1; k <= maxK; k++ {
			end := i + k
			pieceID, ok := lookupSpan(m.Trie, sentence, cpOff, i, k)
			if !ok {
				pieceID = PieceNone
			}
			pieces.set(end, k, pieceID)
			if i == 0 {
				sc := segScore(m, ws, 255, i, k, PieceBOS, pieceID)
				cell[end][k] = insert(cell[end][k], nbestCand{score: sc, prevJ: 0, prevRank: 0})
				continue
			}
			maxPrevJ := maxLen
			if maxPrevJ > i {
				maxPrevJ = i
			}
			for prevJ := 1; prevJ <= maxPrevJ; prevJ++ {
				prevID := pieces.get(i, prevJ)
				from := segLabel(prevJ)
				for rank, prevCand := range cell[i][prevJ] {
					sc := prevCand.score + segScore(m, ws, from, i, k, prevID, pieceID)
					cell[end][k] = insert(cell[end][k], nbestCand{score: sc, prevJ: prevJ, prevRank: rank})
				}
			}
		}
	}

	maxFinalJ := maxLen
	if maxFinalJ > nCP {
		maxFinalJ = nCP
	}
	var merged []struct {
		j     int
		rank  int
		score Score
	}
	for j := 1; j <= maxFinalJ; j++ {
		for rank, c := range cell[nCP][j] {
			merged = append(merged, struct {
				j     int
				rank  int
				score Score
			}{j, rank, c.score})
		}
	}
	// insertion sort descending by score; n is small (<=64) so O(n^2) is fine.
	for i := 1; i < len(merged); i++ {
		j := i
		for j > 0 && merged[j-1].score < merged[j].score {
			merged[j-1], merged[j] = merged[j], merged[j-1]
			j--
		}
	}
	if len(merged) > n {
		merged = merged[:n]
	}

	out := make([][]int, 0, len(merged))
	for _, top := range merged {
		pos := nCP
		j := top.j
		rank := top.rank
		var boundsRev []int
		boundsRev = append(boundsRev, pos)
		for pos > 0 {
			c := cell[pos][j][rank]
			pos -= j
			j = c.prevJ
			rank = c.prevRank
			boundsRev = append(boundsRev, pos)
		}
		bounds := make([]int, len(boundsRev))
		for i, v := range boundsRev {
			bounds[len(boundsRev)-1-i] = v
		}
		if bounds[0] != 0 || bounds[len(bounds)-1] != nCP {
			return nil, ErrInternalInvariant
		}
		out = append(out, bounds)
	}
	return out, nil
}
