package mmjp

import (
	"math"
	"strconv"
)

// Score is a Q8.8 fixed-point number: the integer value q represents the
// real number q/256. All decoder hot-path arithmetic stays in Score to
// keep model round-trips byte-exact across ports.
type Score int32

// ScoreNegInf marks an unreachable DP state. It is not the minimum int32
// so that a few NEG_INF values can be summed without wrapping.
const ScoreNegInf Score = -0x3FFFFFFF

// ScoreFromFloat64 converts a real number to its nearest Q8.8 representation.
func ScoreFromFloat64(f float64) Score {
	return Score(math.Round(f * 256.0))
}

// Float64 returns the real value of s.
func (s Score) Float64() float64 {
	return float64(s) / 256.0
}

// MulQ88 multiplies two Q8.8 values, widening to int64 to avoid overflow
// before shifting the fractional bits back off.
func MulQ88(a, b Score) Score {
	return Score((int64(a) * int64(b)) >> 8)
}

// String implements flag.Value so Score-typed flags can be set directly
// as "--lambda0=1.5" on the command line.
func (s Score) String() string {
	return strconv.FormatFloat(s.Float64(), 'g', -1, 64)
}

// Set implements flag.Value.
func (s *Score) Set(text string) error {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return err
	}
	*s = ScoreFromFloat64(f)
	return nil
}
