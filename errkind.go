package mmjp

import "errors"

// Sentinel errors surfaced by the engine. Callers use errors.Is against
// these rather than switching on an integer code.
var (
	ErrBadArgument        = errors.New("mmjp: bad argument")
	ErrNoMemory           = errors.New("mmjp: allocation failed")
	ErrFull               = errors.New("mmjp: storage exhausted")
	ErrUTF8               = errors.New("mmjp: invalid utf-8")
	ErrNoCoverage         = errors.New("mmjp: lattice has no covering path")
	ErrCPOffsetOverflow   = errors.New("mmjp: codepoint offset table too small")
	ErrModelInvalid       = errors.New("mmjp: invalid model data")
	ErrInternalInvariant  = errors.New("mmjp: internal invariant violated")
)
