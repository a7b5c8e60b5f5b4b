package mmjp

// Corpus line scanning, adapted from the ARPA file iteratee reader: the
// line/token lexer and the stream.Iteratee accumulate-as-you-go shape are
// kept, but the grammar-specific states (n-gram sections) are replaced with
// plain line delivery for the training orchestrator (Component K) and for
// anything else that wants "one whitespace-trimmed line at a time" over a
// possibly-gzipped file.

import (
	"github.com/golang/glog"
	"github.com/kho/stream"
)

// LineFunc is called once per corpus line (already whitespace-trimmed at
// both ends). Returning an error aborts the scan.
type LineFunc func(line []byte) error

type corpusTop struct {
	fn        LineFunc
	maxBytes  int
	lines     int
	skipped   int
}

func (t *corpusTop) Final() error {
	if t.skipped > 0 {
		glog.V(1).Infof("corpus scan: skipped %d/%d lines over max_line_bytes", t.skipped, t.lines)
	}
	return nil
}

func (t *corpusTop) Next(line []byte) (stream.Iteratee, bool, error) {
	t.lines++
	if t.maxBytes > 0 && len(line) > t.maxBytes {
		t.skipped++
		return t, true, nil
	}
	if err := t.fn(line); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// ScanCorpusLines drives fn over every line of r, skipping (not erroring on)
// lines longer than maxLineBytes when maxLineBytes > 0.
func ScanCorpusLines(r stream.Enumerator, maxLineBytes int, fn LineFunc) error {
	top := &corpusTop{fn: fn, maxBytes: maxLineBytes}
	return stream.Run(r, top)
}

// Low-level lexer, unchanged from the ARPA reader: splits on newlines,
// skips blank lines, trims leading/trailing ASCII space without assuming NUL termination.

func isSpace(b byte) bool {
	switch b {
	case '\t', '\v', '\f', '\r', ' ':
		return true
	default:
		return false
	}
}

func lineSplit(data []byte, atEOF bool) (int, []byte, error) {
	l, r, n := -1, -1, 0
	for i, b := range data {
		if !isSpace(b) && b != '\n' {
			l = i
			break
		}
	}
	if l < 0 {
		return len(data), nil, nil
	}
	for i, b := range data[l+1:] {
		if b == '\n' {
			r, n = l+i, l+i+2
			break
		}
	}
	if r < 0 {
		if !atEOF {
			return l, nil, nil
		}
		r, n = len(data)-1, len(data)
	}
	for isSpace(data[r]) {
		r--
	}
	return n, data[l : r+1], nil
}

func tokenSplit(line []byte) (string, []byte) {
	r := -1
	for i, b := range line {
		if isSpace(b) {
			r = i
			break
		}
	}
	if r < 0 {
		r = len(line)
	}
	token := string(line[:r])
	for i, b := range line[r:] {
		if !isSpace(b) {
			return token, line[r+i:]
		}
	}
	return token, nil
}
