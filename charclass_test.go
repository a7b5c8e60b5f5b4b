package mmjp

import "testing"

func TestCCModeStringAndSet(t *testing.T) {
	cases := []struct {
		mode CCMode
		s    string
	}{
		{CCAscii, "ascii"},
		{CCUTF8Len, "utf8len"},
		{CCRanges, "ranges"},
		{CCCompat, "compat"},
	}
	for _, c := range cases {
		if got := c.mode.String(); got != c.s {
			t.Errorf("CCMode(%d).String() = %q, want %q", c.mode, got, c.s)
		}
		var m CCMode
		if err := m.Set(c.s); err != nil || m != c.mode {
			t.Errorf("Set(%q) = %v, %v; want %d, nil", c.s, m, err, c.mode)
		}
	}
	var m CCMode
	if err := m.Set("bogus"); err == nil {
		t.Errorf("Set(bogus) = nil, want error")
	}
}

func TestClassifyASCIIIsModeIndependent(t *testing.T) {
	for _, mode := range []CCMode{CCAscii, CCUTF8Len, CCRanges, CCCompat} {
		cc := &CharClass{Mode: mode}
		if got := cc.Classify(' '); got != ClassSpace {
			t.Errorf("mode %v: Classify(' ') = %d, want ClassSpace", mode, got)
		}
		if got := cc.Classify('5'); got != ClassDigit {
			t.Errorf("mode %v: Classify('5') = %d, want ClassDigit", mode, got)
		}
		if got := cc.Classify('Q'); got != ClassAlpha {
			t.Errorf("mode %v: Classify('Q') = %d, want ClassAlpha", mode, got)
		}
		if got := cc.Classify('!'); got != ClassSymbol {
			t.Errorf("mode %v: Classify('!') = %d, want ClassSymbol", mode, got)
		}
	}
}

func TestClassifyLosslessMetaAlwaysSpace(t *testing.T) {
	cc := &CharClass{Mode: CCCompat}
	for cp := rune(0x2580); cp <= 0x2584; cp++ {
		if got := cc.Classify(cp); got != ClassSpace {
			t.Errorf("Classify(%U) = %d, want ClassSpace", cp, got)
		}
	}
}

func TestClassifyUTF8LenBuckets(t *testing.T) {
	cc := &CharClass{Mode: CCUTF8Len}
	cases := []struct {
		cp   rune
		want uint8
	}{
		{0x00E9, ClassUTF8Len2}, // é
		{0x3042, ClassUTF8Len3}, // あ
		{0x1F600, ClassUTF8Len4},
	}
	for _, c := range cases {
		if got := cc.Classify(c.cp); got != c.want {
			t.Errorf("Classify(%U) = %d, want %d", c.cp, got, c.want)
		}
	}
}

func TestClassifyCompatJapaneseScripts(t *testing.T) {
	cc := &CharClass{Mode: CCCompat}
	cases := []struct {
		cp   rune
		want uint8
	}{
		{0x3042, ClassHiragana}, // あ
		{0x30A2, ClassKatakana}, // ア
		{0x6F22, ClassKanji},    // 漢
		{0xFF21, ClassFullwidth},
		{0x00E9, ClassOther}, // é, outside any compat range
	}
	for _, c := range cases {
		if got := cc.Classify(c.cp); got != c.want {
			t.Errorf("Classify(%U) = %d, want %d", c.cp, got, c.want)
		}
	}
}

func TestClassifyRangesWithFallback(t *testing.T) {
	ranges := []CCRange{
		{Lo: 0x3040, Hi: 0x309F, ClassID: ClassHiragana},
		{Lo: 0x4E00, Hi: 0x9FFF, ClassID: ClassKanji},
	}
	SortRanges(ranges)
	cc := &CharClass{Mode: CCRanges, Ranges: ranges, Fallback: CCUTF8Len}

	if got := cc.Classify(0x3042); got != ClassHiragana {
		t.Errorf("Classify(hiragana) = %d, want ClassHiragana", got)
	}
	if got := cc.Classify(0x00E9); got != ClassUTF8Len2 {
		t.Errorf("Classify(unmatched, 2-byte) = %d, want ClassUTF8Len2 (fallback)", got)
	}

	cc.Fallback = CCAscii
	if got := cc.Classify(0x00E9); got != ClassOther {
		t.Errorf("Classify(unmatched, ascii fallback) = %d, want ClassOther", got)
	}
}

func TestSortRanges(t *testing.T) {
	r := []CCRange{{Lo: 30, Hi: 40}, {Lo: 10, Hi: 20}, {Lo: 50, Hi: 60}}
	SortRanges(r)
	for i := 1; i < len(r); i++ {
		if r[i-1].Lo > r[i].Lo {
			t.Fatalf("SortRanges did not sort ascending: %v", r)
		}
	}
}
