package mmjp

// Strict UTF-8 decoding, deliberately not built on unicode/utf8: that package
// implements the WHATWG replacement-on-error behavior, which accepts some
// byte sequences (and recovers differently from others) than the
// overlong/surrogate-rejecting contract this segmenter needs for conformance
// testing (invariant 3). This file does not import unicode/utf8 at all.

// decodeUTF8At decodes one codepoint starting at b[0], returning the
// codepoint, its encoded length in bytes, and whether it was valid.
func decodeUTF8At(b []byte) (cp rune, size int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	c0 := b[0]
	switch {
	case c0 < 0x80:
		return rune(c0), 1, true
	case c0&0xE0 == 0xC0:
		if len(b) < 2 || b[1]&0xC0 != 0x80 {
			return 0, 0, false
		}
		cp := rune(c0&0x1F)<<6 | rune(b[1]&0x3F)
		if cp < 0x80 {
			return 0, 0, false
		}
		return cp, 2, true
	case c0&0xF0 == 0xE0:
		if len(b) < 3 || b[1]&0xC0 != 0x80 || b[2]&0xC0 != 0x80 {
			return 0, 0, false
		}
		cp := rune(c0&0x0F)<<12 | rune(b[1]&0x3F)<<6 | rune(b[2]&0x3F)
		if cp < 0x800 {
			return 0, 0, false
		}
		if cp >= 0xD800 && cp <= 0xDFFF {
			return 0, 0, false
		}
		return cp, 3, true
	case c0&0xF8 == 0xF0:
		if len(b) < 4 || b[1]&0xC0 != 0x80 || b[2]&0xC0 != 0x80 || b[3]&0xC0 != 0x80 {
			return 0, 0, false
		}
		cp := rune(c0&0x07)<<18 | rune(b[1]&0x3F)<<12 | rune(b[2]&0x3F)<<6 | rune(b[3]&0x3F)
		if cp < 0x10000 || cp > 0x10FFFF {
			return 0, 0, false
		}
		return cp, 4, true
	default:
		return 0, 0, false
	}
}

// MakeCPOffsets builds the codepoint-to-byte offset table for utf8: the
// returned slice has len(n_cp)+1 entries, offs[0] == 0, offs[len-1] ==
// len(utf8), strictly increasing. A byte that fails strict decoding is
// replaced by a single codepoint advancing one byte, using fallback as its
// class (the caller substitutes fallback itself; this function only needs
// to keep making forward progress so the offsets stay well-formed).
//
// ErrCPOffsetOverflow is returned when the number of codepoints would
// exceed cap-1 entries, mirroring the workspace-overflow contract so a
// caller can retry with a larger cp_off buffer.
func MakeCPOffsets(utf8 []byte, cap int) ([]uint32, []bool, error) {
	if cap < 1 {
		return nil, nil, ErrBadArgument
	}
	offs := make([]uint32, 1, cap)
	valid := make([]bool, 0, cap-1)
	offs[0] = 0
	pos := 0
	for pos < len(utf8) {
		if len(offs) >= cap {
			return nil, nil, ErrCPOffsetOverflow
		}
		_, size, ok := decodeUTF8At(utf8[pos:])
		if !ok {
			size = 1
		}
		pos += size
		offs = append(offs, uint32(pos))
		valid = append(valid, ok)
	}
	return offs, valid, nil
}

// CodepointAt returns the decoded codepoint (or the fallback rune on
// invalid bytes) for the i-th codepoint given its offsets table.
func CodepointAt(utf8 []byte, offs []uint32, i int, fallback rune) rune {
	cp, _, ok := decodeUTF8At(utf8[offs[i]:offs[i+1]])
	if !ok {
		return fallback
	}
	return cp
}

// BoundariesCPToBytes converts a codepoint-indexed boundary list into the
// corresponding byte offsets using the cp-offset table built alongside it.
func BoundariesCPToBytes(cpOff []uint32, bCP []uint16) []uint32 {
	out := make([]uint32, len(bCP))
	for i, b := range bCP {
		out[i] = cpOff[b]
	}
	return out
}
