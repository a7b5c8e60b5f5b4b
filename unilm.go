package mmjp

import (
	"math"
	"sort"
)

// PieceID indexes into a UniLM vocabulary. PieceNone/PieceBOS mirror the
// double-array trie's reserved terminal values so a decoder can pass a
// trie-returned term value straight through as a PieceID.
type PieceID uint16

const (
	PieceNone = PieceID(TermNone)
	PieceBOS  = PieceID(TermBOS)
)

const (
	// PieceMandatory marks a piece pruning must never remove. Every
	// single-codepoint piece is always mandatory (the coverage invariant).
	PieceMandatory uint8 = 1 << 0
)

// Piece is one vocabulary entry: a byte span in the shared pool plus its
// codepoint length and flags.
type Piece struct {
	Off    uint32
	Len    uint16
	LenCP  uint16
	Flags  uint8
}

// Unilm is a unigram dictionary language model: a byte pool, a piece
// table, per-piece log-probabilities, and a double-array trie mapping
// piece bytes to piece ids.
type Unilm struct {
	pool   []byte
	pieces []Piece
	logp   []float64 // natural log probability; converted to Score on export
	byKey  map[string]PieceID
	trie   *Trie
}

// NewUnilm creates an empty model with a trie of the given initial
// capacity.
func NewUnilm(trieCapacity int) *Unilm {
	return &Unilm{
		byKey: make(map[string]PieceID),
		trie:  NewTrie(trieCapacity),
	}
}

// NumPieces returns the current vocabulary size.
func (u *Unilm) NumPieces() int { return len(u.pieces) }

// PieceBytes returns the byte span of piece id.
func (u *Unilm) PieceBytes(id PieceID) []byte {
	p := u.pieces[id]
	return u.pool[p.Off : p.Off+uint32(p.Len)]
}

// FindID returns the id of key if it is already a piece, and whether it
// was found. This walks key's bytes in the trie, then the terminal byte,
// exactly as the reference's find_id does.
func (u *Unilm) FindID(key []byte) (PieceID, bool) {
	v, ok := u.trie.GetTermValue(key)
	if !ok {
		return 0, false
	}
	return PieceID(v), true
}

// AddPiece inserts key with an initial (unnormalized) log-probability of
// 0, deduplicating against an existing entry (merging flags instead of
// adding a duplicate) and returns its id.
func (u *Unilm) AddPiece(key []byte, lenCP int, flags uint8) PieceID {
	if id, ok := u.byKey[string(key)]; ok {
		u.pieces[id].Flags |= flags
		return id
	}
	id := PieceID(len(u.pieces))
	off := uint32(len(u.pool))
	u.pool = append(u.pool, key...)
	u.pieces = append(u.pieces, Piece{Off: off, Len: uint16(len(key)), LenCP: uint16(lenCP), Flags: flags})
	u.logp = append(u.logp, 0)
	u.byKey[string(key)] = id
	_ = u.trie.SetTermValue(key, int(id))
	return id
}

// SetLogP sets the raw (unnormalized) log-probability of id.
func (u *Unilm) SetLogP(id PieceID, logp float64) { u.logp[id] = logp }

// LogP returns the raw log-probability of id.
func (u *Unilm) LogP(id PieceID) float64 { return u.logp[id] }

// Mandatory reports whether id must survive pruning.
func (u *Unilm) Mandatory(id PieceID) bool { return u.pieces[id].Flags&PieceMandatory != 0 }

// Normalize converts logp to a valid probability distribution: exponentiate,
// sum, divide, floor every entry at minProb, then renormalize once more so
// the floor doesn't measurably perturb the sum.
func (u *Unilm) Normalize(minProb float64) {
	sum := 0.0
	for _, lp := range u.logp {
		sum += math.Exp(lp)
	}
	if sum <= 0 {
		return
	}
	for i, lp := range u.logp {
		p := math.Exp(lp) / sum
		if p < minProb {
			p = minProb
		}
		u.logp[i] = math.Log(p)
	}
	sum = 0.0
	for _, lp := range u.logp {
		sum += math.Exp(lp)
	}
	logSum := math.Log(sum)
	for i := range u.logp {
		u.logp[i] -= logSum
	}
}

// RebuildTrieSorted clears and reconstructs the trie with pieces inserted
// in lexicographic byte order. Training inserts pieces in whatever order
// candidates were discovered (often effectively randomized by map
// iteration); a trie built that way has no canonical shape, so large
// vocabularies can otherwise hit the growth-policy probe cap in pathological
// orders. Sorted insertion is deterministic and avoids that.
func (u *Unilm) RebuildTrieSorted() error {
	order := make([]int, len(u.pieces))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return string(u.pieceBytesByIndex(order[a])) < string(u.pieceBytesByIndex(order[b]))
	})
	u.trie.Clear()
	for _, idx := range order {
		key := u.pieceBytesByIndex(idx)
		if err := u.trie.SetTermValue(key, idx); err != nil {
			return err
		}
	}
	return nil
}

func (u *Unilm) pieceBytesByIndex(idx int) []byte {
	p := u.pieces[idx]
	return u.pool[p.Off : p.Off+uint32(p.Len)]
}

// TrieMatcher exposes the backing trie for span matching during decode
// precomputation and EM.
func (u *Unilm) TrieMatcher() Matcher { return u.trie }

// Compact rebuilds the piece/logp arrays keeping only the ids in keep (in
// the given order), clears and re-inserts the trie under the new ids, and
// renormalizes. Used by the MDL pruner (Component E).
func (u *Unilm) Compact(keep []PieceID) error {
	newPieces := make([]Piece, len(keep))
	newLogp := make([]float64, len(keep))
	newPool := make([]byte, 0, len(u.pool))
	newByKey := make(map[string]PieceID, len(keep))
	for i, old := range keep {
		p := u.pieces[old]
		key := u.pool[p.Off : p.Off+uint32(p.Len)]
		off := uint32(len(newPool))
		newPool = append(newPool, key...)
		newPieces[i] = Piece{Off: off, Len: p.Len, LenCP: p.LenCP, Flags: p.Flags}
		newLogp[i] = u.logp[old]
		newByKey[string(key)] = PieceID(i)
	}
	u.pieces = newPieces
	u.logp = newLogp
	u.pool = newPool
	u.byKey = newByKey
	u.trie.Clear()
	for i := range u.pieces {
		key := u.pieceBytesByIndex(i)
		if err := u.trie.SetTermValue(key, i); err != nil {
			return ErrInternalInvariant
		}
	}
	u.Normalize(1e-12)
	return nil
}

// AllIDs returns every current piece id, for callers building a keep list.
func (u *Unilm) AllIDs() []PieceID {
	ids := make([]PieceID, len(u.pieces))
	for i := range ids {
		ids[i] = PieceID(i)
	}
	return ids
}
