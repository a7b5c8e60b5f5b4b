package mmjp

// Matcher is the read side of a double-array trie, satisfied by both *Trie
// and *TrieView. Decoder and EM span-matching code is written against this
// interface so it works identically over a writable training-time trie and
// a read-only mmapped one.
type Matcher interface {
	Root() Index
	Next(cur Index, c byte) (Index, bool)
	TermValueAt(node Index) (int, bool)
}
