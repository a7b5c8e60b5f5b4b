package mmjp

import "sort"

// SABuildFlags gates which suffix starts participate in a built array,
// mirroring the reference's SA_BUILD_SKIP_* bits: a training corpus is
// dominated by ASCII spacing and punctuation, and indexing a suffix that
// starts mid-run of those wastes both build time and n-gram signal.
type SABuildFlags uint32

const (
	SASkipASCIISpace SABuildFlags = 1 << iota
	SASkipASCIIPunct
	SAValidateUTF8
)

// SuffixArray is a UTF-8-codepoint-aware suffix array over one text
// buffer: starts[i] is the byte offset of the suffix ranked i-th in
// lexicographic order of codepoint sequences. It is built once from a
// corpus buffer and then used read-only for n-gram frequency counting;
// the training orchestrator (train.go) does not use it.
type SuffixArray struct {
	text   []byte
	cpOff  []uint32
	starts []int // byte offsets into text, one per suffix, sorted
}

// BuildSuffixArray constructs a suffix array over text's codepoint
// boundaries (computed internally via MakeCPOffsets), optionally skipping
// suffixes that start on ASCII whitespace or punctuation. Construction
// uses sort.Slice (a introsort/quicksort hybrid in the standard library)
// over codepoint-by-codepoint comparisons rather than a hand-rolled
// three-way radix quicksort: the reference's from-scratch radix sort
// exists because C has no generic sort in its standard library, a
// constraint Go does not share.
func BuildSuffixArray(text []byte, flags SABuildFlags) (*SuffixArray, error) {
	cpOff, _, err := MakeCPOffsets(text, len(text)+1)
	if err != nil {
		return nil, err
	}
	nCP := len(cpOff) - 1
	starts := make([]int, 0, nCP)
	for i := 0; i < nCP; i++ {
		b := text[cpOff[i]]
		if flags&SASkipASCIISpace != 0 && isASCIISpace(b) {
			continue
		}
		if flags&SASkipASCIIPunct != 0 && isASCIIPunct(b) {
			continue
		}
		starts = append(starts, int(cpOff[i]))
	}
	sort.Slice(starts, func(i, j int) bool {
		return lessSuffix(text, starts[i], starts[j])
	})
	return &SuffixArray{text: text, cpOff: cpOff, starts: starts}, nil
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isASCIIPunct(b byte) bool {
	return (b >= '!' && b <= '/') || (b >= ':' && b <= '@') || (b >= '[' && b <= '`') || (b >= '{' && b <= '~')
}

func lessSuffix(text []byte, a, b int) bool {
	for a < len(text) && b < len(text) {
		if text[a] != text[b] {
			return text[a] < text[b]
		}
		a++
		b++
	}
	return a >= len(text) && b < len(text)
}

// Len returns the number of indexed suffixes.
func (sa *SuffixArray) Len() int { return len(sa.starts) }

// CountPrefix returns the number of indexed suffixes beginning with
// prefix, found via two binary searches bounding the prefix's lexical
// range (the same structure as the reference's sa_utf8_count_prefix).
func (sa *SuffixArray) CountPrefix(prefix []byte) int {
	lo := sort.Search(len(sa.starts), func(i int) bool {
		return comparePrefixAt(sa.text, sa.starts[i], prefix) >= 0
	})
	hi := sort.Search(len(sa.starts), func(i int) bool {
		return comparePrefixAt(sa.text, sa.starts[i], prefix) > 0
	})
	return hi - lo
}

// comparePrefixAt compares the text starting at offset against prefix,
// returning <0, 0, or >0 as for bytes.Compare but only over len(prefix)
// bytes of the text side (a text suffix shorter than prefix compares as
// less, matching standard prefix-range binary search).
func comparePrefixAt(text []byte, offset int, prefix []byte) int {
	for i := 0; i < len(prefix); i++ {
		if offset+i >= len(text) {
			return -1
		}
		tb, pb := text[offset+i], prefix[i]
		if tb != pb {
			if tb < pb {
				return -1
			}
			return 1
		}
	}
	return 0
}

// BigramCount is the joint and left-marginal count of a codepoint bigram.
type BigramCount struct {
	Forward     int // count of (a, b) occurring adjacently
	ForwardBack int // count of a occurring (with any following codepoint)
}

// CountBigram counts occurrences of the two-codepoint sequence (a, b)
// immediately following each other, plus the marginal count of a alone,
// by combining two CountPrefix range queries.
func (sa *SuffixArray) CountBigram(a, b []byte) BigramCount {
	return BigramCount{
		Forward:     sa.CountPrefix(append(append([]byte{}, a...), b...)),
		ForwardBack: sa.CountPrefix(a),
	}
}

// CopyPrefixN copies up to n bytes of text starting at the suffix-array
// position rank (i.e. sa.starts[rank]), used to materialize a candidate
// n-gram's actual bytes once its frequency looks promising.
func (sa *SuffixArray) CopyPrefixN(rank, n int) []byte {
	start := sa.starts[rank]
	end := start + n
	if end > len(sa.text) {
		end = len(sa.text)
	}
	return append([]byte(nil), sa.text[start:end]...)
}
