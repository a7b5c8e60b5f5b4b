package mmjp

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kho/stream"
)

// ccRangesTop is a stream.Iteratee that parses one "lo hi class_id" record
// per line, following the same accumulate-as-you-go style as fslm's
// arpaTop over ARPA files.
type ccRangesTop struct {
	out *[]CCRange
}

func (t ccRangesTop) Final() error { return nil }

func (t ccRangesTop) Next(line []byte) (stream.Iteratee, bool, error) {
	s := strings.TrimSpace(string(line))
	if s == "" || strings.HasPrefix(s, "#") {
		return t, true, nil
	}
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return nil, false, fmt.Errorf("mmjp: cc_ranges: bad line %q", s)
	}
	lo, err := parseCCInt(fields[0])
	if err != nil {
		return nil, false, err
	}
	hi, err := parseCCInt(fields[1])
	if err != nil {
		return nil, false, err
	}
	cls, err := parseCCInt(fields[2])
	if err != nil {
		return nil, false, err
	}
	if hi < lo || cls > 255 {
		return nil, false, fmt.Errorf("mmjp: cc_ranges: invalid record %q", s)
	}
	*t.out = append(*t.out, CCRange{Lo: uint32(lo), Hi: uint32(hi), ClassID: uint8(cls)})
	return t, true, nil
}

func parseCCInt(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// ParseCCRanges reads a cc_ranges file (one "lo hi class_id" record per
// line, decimal or 0x-hex, # comments) and returns it sorted ascending by
// Lo as required by CCRanges mode. Ranges are not validated for disjointness
// here; RANGES-mode lookup assumes the caller supplied a well-formed table.
func ParseCCRanges(r io.Reader) ([]CCRange, error) {
	var out []CCRange
	top := ccRangesTop{out: &out}
	if err := stream.Run(stream.EnumRead(r, lineSplit), top); err != nil {
		return nil, err
	}
	SortRanges(out)
	return out, nil
}
