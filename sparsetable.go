package mmjp

import "sort"

// Sparse uint32-keyed score tables, used for both the CRF feature weight
// table (§4's packed (template,label,v1,v2) key) and the bigram LM table
// (packed (prev,cur) piece-id key). Both need the same two-phase lifecycle:
// accumulate by key during training (many inserts, few lookups, duplicate
// keys merge), then freeze into a sorted array for O(log n) binary-search
// lookup on the decode hot path.
//
// This adapts kho-fslm's xqwMap/xqwBuckets probing hash map (the
// accumulate phase) and its Sorted model (the frozen phase) to a flat
// key space with no per-state partitioning: our tables have one global key
// domain, not "buckets per from-state", since neither the CRF feature
// table nor the bigram table is organized as a state graph.

type sparseEntry struct {
	Key   uint32
	Value Score
}

const sparseKeyNone = ^uint32(0)

func sparseHash(k uint32) uint32 {
	// https://code.google.com/p/fast-hash, folded to 32 bits.
	h := uint64(k)
	h ^= h >> 23
	h *= 0x2127599bf4325c37
	h ^= h >> 47
	return uint32(h)
}

// SparseBuilder accumulates (key -> score) pairs with "add to existing"
// merge semantics, growing by doubling like kho-fslm's xqwMap.
type SparseBuilder struct {
	buckets   []sparseEntry
	numEntries int
	threshold  int
}

// NewSparseBuilder starts with initBuckets slots (rounded up to a sane
// minimum) and resizes once load exceeds ~70%.
func NewSparseBuilder(initBuckets int) *SparseBuilder {
	if initBuckets < 8 {
		initBuckets = 8
	}
	b := &SparseBuilder{buckets: make([]sparseEntry, initBuckets)}
	for i := range b.buckets {
		b.buckets[i].Key = sparseKeyNone
	}
	b.threshold = initBuckets * 7 / 10
	return b
}

func (b *SparseBuilder) start(k uint32) int {
	return int(sparseHash(k)) % len(b.buckets)
}

// Add merges delta into the accumulated score for key, inserting it if
// absent.
func (b *SparseBuilder) Add(key uint32, delta Score) {
	if b.numEntries >= b.threshold {
		b.resize()
	}
	i := b.start(key)
	for {
		e := &b.buckets[i]
		if e.Key == sparseKeyNone {
			e.Key = key
			e.Value = delta
			b.numEntries++
			return
		}
		if e.Key == key {
			e.Value += delta
			return
		}
		i = (i + 1) % len(b.buckets)
	}
}

// Set overwrites the score for key instead of accumulating into it.
func (b *SparseBuilder) Set(key uint32, value Score) {
	if b.numEntries >= b.threshold {
		b.resize()
	}
	i := b.start(key)
	for {
		e := &b.buckets[i]
		if e.Key == sparseKeyNone {
			e.Key = key
			e.Value = value
			b.numEntries++
			return
		}
		if e.Key == key {
			e.Value = value
			return
		}
		i = (i + 1) % len(b.buckets)
	}
}

// Get returns the current accumulated score for key, or (0, false).
func (b *SparseBuilder) Get(key uint32) (Score, bool) {
	i := b.start(key)
	for {
		e := &b.buckets[i]
		if e.Key == sparseKeyNone {
			return 0, false
		}
		if e.Key == key {
			return e.Value, true
		}
		i = (i + 1) % len(b.buckets)
	}
}

func (b *SparseBuilder) resize() {
	old := b.buckets
	b.buckets = make([]sparseEntry, len(old)*2)
	for i := range b.buckets {
		b.buckets[i].Key = sparseKeyNone
	}
	b.threshold = len(b.buckets) * 7 / 10
	b.numEntries = 0
	for _, e := range old {
		if e.Key != sparseKeyNone {
			b.Set(e.Key, e.Value)
		}
	}
}

// Freeze compacts the builder into a sorted, binary-searchable table.
func (b *SparseBuilder) Freeze() *SortedTable {
	entries := make([]sparseEntry, 0, b.numEntries)
	for _, e := range b.buckets {
		if e.Key != sparseKeyNone {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	t := &SortedTable{
		Keys:   make([]uint32, len(entries)),
		Values: make([]Score, len(entries)),
	}
	for i, e := range entries {
		t.Keys[i] = e.Key
		t.Values[i] = e.Value
	}
	return t
}

// SortedTable is the decode-hot-path, binary-search form of a sparse
// table: exactly the "sorted by key, binary-searchable; missing keys
// contribute zero" layout the CRF feature table and bigram table both use.
type SortedTable struct {
	Keys   []uint32
	Values []Score
}

// Lookup returns the value for key, or (0, false) if absent.
func (t *SortedTable) Lookup(key uint32) (Score, bool) {
	n := len(t.Keys)
	i := sort.Search(n, func(i int) bool { return t.Keys[i] >= key })
	if i < n && t.Keys[i] == key {
		return t.Values[i], true
	}
	return 0, false
}

// Len is the number of entries, used for sizing the binary model layout.
func (t *SortedTable) Len() int { return len(t.Keys) }
