package mmjp

// Model bundles everything the decoder needs: the piece dictionary trie,
// unigram/bigram language-model tables, CRF weights, and the character
// classifier. It is the in-memory form produced either by the training
// orchestrator (Component K) or by loading a binary model file (Component
// H); both paths populate the same struct.
type Model struct {
	Trie Matcher // piece dictionary; *Trie while training, *TrieView once loaded

	LogPUni []Score // unigram log-prob per piece id, Q8.8
	Bigram  *SortedTable
	Feat    *SortedTable

	Trans00, Trans01, Trans10, Trans11 Score
	BosTo1                              Score

	UnkBase, UnkPerCP Score
	Lambda0           Score

	MaxWordLen int

	CC    CharClass
	Flags ModelFlags
}

// ModelFlags are the global per-model bits stored in the v2 binary header.
type ModelFlags uint32

const (
	FlagLosslessWS ModelFlags = 1 << 0
)

// FeatWeight looks up a single CRF feature weight, treating an absent key
// as zero per the spec's binary-search contract.
func (m *Model) FeatWeight(template, label, v1, v2 uint8) Score {
	v, ok := m.Feat.Lookup(FeatKey(template, label, v1, v2))
	if !ok {
		return 0
	}
	return v
}

// BigramLogP looks up the bigram log-probability for (prev, cur), falling
// back to the caller-supplied unigram/backoff score when absent.
func (m *Model) BigramLogP(prev, cur PieceID, fallback Score) Score {
	if v, ok := m.Bigram.Lookup(packBigramKey(prev, cur)); ok {
		return v
	}
	return fallback
}

// UnigramLogP returns the unigram log-probability of piece id, or the
// out-of-vocabulary penalty scaled by its codepoint length if id is
// PieceNone.
func (m *Model) UnigramLogP(id PieceID, lenCP int) Score {
	if id == PieceNone {
		return m.UnkBase + Score(lenCP)*m.UnkPerCP
	}
	if int(id) < 0 || int(id) >= len(m.LogPUni) {
		return m.UnkBase + Score(lenCP)*m.UnkPerCP
	}
	return m.LogPUni[id]
}

func packBigramKey(prev, cur PieceID) uint32 {
	return uint32(uint16(prev))<<16 | uint32(uint16(cur))
}
