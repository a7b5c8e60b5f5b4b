package mmjp

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"reflect"
	"syscall"
	"unsafe"
)

// Binary model format: a fixed header followed by flat little-endian
// array sections. Two magics are recognized: v1 is the original fixed
// layout (no cc_ranges, no lossless flag); v2 adds both. Writing always
// produces v2; v1 is read-only, for loading models built before those
// fields existed.
var (
	magicV1 = [8]byte{'M', 'M', 'J', 'P', 'v', '1', 0, 0}
	magicV2 = [8]byte{'M', 'M', 'J', 'P', 'v', '2', 0, 0}
)

type modelHeader struct {
	Magic        [8]byte
	DatCap       uint32
	NumPieces    uint32
	BigramLen    uint32
	FeatLen      uint32
	CCRangeCount uint32 // v2 only; zero in a v1 file
	Trans00      int32
	Trans01      int32
	Trans10      int32
	Trans11      int32
	BosTo1       int32
	UnkBase      int32
	UnkPerCP     int32
	Lambda0      int32
	MaxWordLen   int32
	CCMode       uint8
	CCFallback   uint8
	_            [2]byte
	Flags        uint32 // v2 only; zero in a v1 file
}

// SaveBin writes m to w in the v2 binary format.
func SaveBin(m *Model, w io.Writer) error {
	trie, ok := m.Trie.(*Trie)
	if !ok {
		return fmt.Errorf("mmjp: SaveBin requires a writable *Trie, not %T", m.Trie)
	}
	bw := bufio.NewWriter(w)

	hdr := modelHeader{
		Magic:        magicV2,
		DatCap:       uint32(trie.Capacity()),
		NumPieces:    uint32(len(m.LogPUni)),
		BigramLen:    uint32(m.Bigram.Len()),
		FeatLen:      uint32(m.Feat.Len()),
		CCRangeCount: uint32(len(m.CC.Ranges)),
		Trans00:      int32(m.Trans00),
		Trans01:      int32(m.Trans01),
		Trans10:      int32(m.Trans10),
		Trans11:      int32(m.Trans11),
		BosTo1:       int32(m.BosTo1),
		UnkBase:      int32(m.UnkBase),
		UnkPerCP:     int32(m.UnkPerCP),
		Lambda0:      int32(m.Lambda0),
		MaxWordLen:   int32(m.MaxWordLen),
		CCMode:       uint8(m.CC.Mode),
		CCFallback:   uint8(m.CC.Fallback),
		Flags:        uint32(m.Flags),
	}
	if err := binary.Write(bw, binary.LittleEndian, &hdr); err != nil {
		return err
	}

	if err := writeIndexSlice(bw, trie.base); err != nil {
		return err
	}
	if err := writeIndexSlice(bw, trie.check); err != nil {
		return err
	}
	if err := writeScoreSlice(bw, m.LogPUni); err != nil {
		return err
	}
	if err := writeUint32Slice(bw, m.Bigram.Keys); err != nil {
		return err
	}
	if err := writeScoreSlice(bw, m.Bigram.Values); err != nil {
		return err
	}
	if err := writeUint32Slice(bw, m.Feat.Keys); err != nil {
		return err
	}
	if err := writeScoreSlice(bw, m.Feat.Values); err != nil {
		return err
	}
	for _, r := range m.CC.Ranges {
		var buf [12]byte
		binary.LittleEndian.PutUint32(buf[0:4], r.Lo)
		binary.LittleEndian.PutUint32(buf[4:8], r.Hi)
		buf[8] = r.ClassID
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// LoadBin reads a v1 or v2 model, fully materialized in memory (the trie
// is a writable *Trie, suitable for continued training). For a read-only,
// mmap-backed load see ReadOnlyFromFile.
func LoadBin(r io.Reader) (*Model, error) {
	br := bufio.NewReader(r)
	var hdr modelHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	isV1 := hdr.Magic == magicV1
	if !isV1 && hdr.Magic != magicV2 {
		return nil, ErrModelInvalid
	}

	base, err := readIndexSlice(br, int(hdr.DatCap))
	if err != nil {
		return nil, err
	}
	check, err := readIndexSlice(br, int(hdr.DatCap))
	if err != nil {
		return nil, err
	}
	logp, err := readScoreSlice(br, int(hdr.NumPieces))
	if err != nil {
		return nil, err
	}
	bigramKeys, err := readUint32Slice(br, int(hdr.BigramLen))
	if err != nil {
		return nil, err
	}
	bigramVals, err := readScoreSlice(br, int(hdr.BigramLen))
	if err != nil {
		return nil, err
	}
	featKeys, err := readUint32Slice(br, int(hdr.FeatLen))
	if err != nil {
		return nil, err
	}
	featVals, err := readScoreSlice(br, int(hdr.FeatLen))
	if err != nil {
		return nil, err
	}
	var ranges []CCRange
	if !isV1 {
		ranges = make([]CCRange, hdr.CCRangeCount)
		for i := range ranges {
			var buf [12]byte
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return nil, err
			}
			ranges[i] = CCRange{
				Lo:      binary.LittleEndian.Uint32(buf[0:4]),
				Hi:      binary.LittleEndian.Uint32(buf[4:8]),
				ClassID: buf[8],
			}
		}
	}

	trie := &Trie{base: base, check: check, dynamic: true}
	flags := ModelFlags(0)
	if !isV1 {
		flags = ModelFlags(hdr.Flags)
	}
	return &Model{
		Trie:       trie,
		LogPUni:    logp,
		Bigram:     &SortedTable{Keys: bigramKeys, Values: bigramVals},
		Feat:       &SortedTable{Keys: featKeys, Values: featVals},
		Trans00:    Score(hdr.Trans00),
		Trans01:    Score(hdr.Trans01),
		Trans10:    Score(hdr.Trans10),
		Trans11:    Score(hdr.Trans11),
		BosTo1:     Score(hdr.BosTo1),
		UnkBase:    Score(hdr.UnkBase),
		UnkPerCP:   Score(hdr.UnkPerCP),
		Lambda0:    Score(hdr.Lambda0),
		MaxWordLen: int(hdr.MaxWordLen),
		CC:         CharClass{Mode: CCMode(hdr.CCMode), Ranges: ranges, Fallback: CCMode(hdr.CCFallback)},
		Flags:      flags,
	}, nil
}

func writeIndexSlice(w io.Writer, s []Index) error {
	return binary.Write(w, binary.LittleEndian, s)
}

func writeScoreSlice(w io.Writer, s []Score) error {
	return binary.Write(w, binary.LittleEndian, s)
}

func writeUint32Slice(w io.Writer, s []uint32) error {
	return binary.Write(w, binary.LittleEndian, s)
}

func readIndexSlice(r io.Reader, n int) ([]Index, error) {
	s := make([]Index, n)
	if err := binary.Read(r, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return s, nil
}

func readScoreSlice(r io.Reader, n int) ([]Score, error) {
	s := make([]Score, n)
	if err := binary.Read(r, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return s, nil
}

func readUint32Slice(r io.Reader, n int) ([]uint32, error) {
	s := make([]uint32, n)
	if err := binary.Read(r, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return s, nil
}

// mmapModel owns a read-only mapping backing a TrieView plus the flat
// score/key arrays reinterpreted in place; Close unmaps it. This is the
// embedded-friendly load path: no per-array allocation or copy, the
// process page-faults model pages in on first touch.
type mmapModel struct {
	data []byte
}

func (m *mmapModel) Close() error {
	if m.data == nil {
		return nil
	}
	err := syscall.Munmap(m.data)
	m.data = nil
	return err
}

// ReadOnlyFromFile mmaps path and returns a Model whose Trie is a
// *TrieView and whose score tables alias the mapping directly, plus a
// closer that must be called (via Model's returned mmapModel) once the
// model is no longer needed. The file must be in the v2 layout produced
// by SaveBin; v1 files should be loaded with LoadBin instead.
func ReadOnlyFromFile(path string) (*Model, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := int(fi.Size())
	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	mm := &mmapModel{data: data}

	hdrSize := int(unsafe.Sizeof(modelHeader{}))
	if size < hdrSize {
		mm.Close()
		return nil, nil, ErrModelInvalid
	}
	hdr := (*modelHeader)(unsafe.Pointer(&data[0]))
	if hdr.Magic != magicV2 {
		mm.Close()
		return nil, nil, ErrModelInvalid
	}

	off := hdrSize
	base, off, err := castIndexSlice(data, off, int(hdr.DatCap))
	if err != nil {
		mm.Close()
		return nil, nil, err
	}
	check, off, err := castIndexSlice(data, off, int(hdr.DatCap))
	if err != nil {
		mm.Close()
		return nil, nil, err
	}
	logp, off, err := castScoreSlice(data, off, int(hdr.NumPieces))
	if err != nil {
		mm.Close()
		return nil, nil, err
	}
	bigramKeys, off, err := castUint32Slice(data, off, int(hdr.BigramLen))
	if err != nil {
		mm.Close()
		return nil, nil, err
	}
	bigramVals, off, err := castScoreSlice(data, off, int(hdr.BigramLen))
	if err != nil {
		mm.Close()
		return nil, nil, err
	}
	featKeys, off, err := castUint32Slice(data, off, int(hdr.FeatLen))
	if err != nil {
		mm.Close()
		return nil, nil, err
	}
	featVals, off, err := castScoreSlice(data, off, int(hdr.FeatLen))
	if err != nil {
		mm.Close()
		return nil, nil, err
	}
	ranges := make([]CCRange, hdr.CCRangeCount)
	for i := range ranges {
		if off+12 > len(data) {
			mm.Close()
			return nil, nil, ErrModelInvalid
		}
		ranges[i] = CCRange{
			Lo:      binary.LittleEndian.Uint32(data[off : off+4]),
			Hi:      binary.LittleEndian.Uint32(data[off+4 : off+8]),
			ClassID: data[off+8],
		}
		off += 12
	}

	view := NewTrieView(base, check)
	model := &Model{
		Trie:       view,
		LogPUni:    logp,
		Bigram:     &SortedTable{Keys: bigramKeys, Values: bigramVals},
		Feat:       &SortedTable{Keys: featKeys, Values: featVals},
		Trans00:    Score(hdr.Trans00),
		Trans01:    Score(hdr.Trans01),
		Trans10:    Score(hdr.Trans10),
		Trans11:    Score(hdr.Trans11),
		BosTo1:     Score(hdr.BosTo1),
		UnkBase:    Score(hdr.UnkBase),
		UnkPerCP:   Score(hdr.UnkPerCP),
		Lambda0:    Score(hdr.Lambda0),
		MaxWordLen: int(hdr.MaxWordLen),
		CC:         CharClass{Mode: CCMode(hdr.CCMode), Ranges: ranges, Fallback: CCMode(hdr.CCFallback)},
		Flags:      ModelFlags(hdr.Flags),
	}
	return model, mm, nil
}

// castIndexSlice reinterprets data[off:off+n*4] as an []Index without
// copying, the way kho-fslm's hashed reader casts its mmapped probing
// table in place.
func castIndexSlice(data []byte, off, n int) ([]Index, int, error) {
	end := off + n*4
	if end > len(data) {
		return nil, off, ErrModelInvalid
	}
	var s []Index
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&s))
	hdr.Data = uintptr(unsafe.Pointer(&data[off]))
	hdr.Len = n
	hdr.Cap = n
	return s, end, nil
}

func castScoreSlice(data []byte, off, n int) ([]Score, int, error) {
	end := off + n*4
	if end > len(data) {
		return nil, off, ErrModelInvalid
	}
	var s []Score
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&s))
	hdr.Data = uintptr(unsafe.Pointer(&data[off]))
	hdr.Len = n
	hdr.Cap = n
	return s, end, nil
}

func castUint32Slice(data []byte, off, n int) ([]uint32, int, error) {
	end := off + n*4
	if end > len(data) {
		return nil, off, ErrModelInvalid
	}
	var s []uint32
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&s))
	hdr.Data = uintptr(unsafe.Pointer(&data[off]))
	hdr.Len = n
	hdr.Cap = n
	return s, end, nil
}

// gobModel is the dev-format mirror of Model: plain slices only, no
// interface field, so gob can round-trip it without a registered
// concrete type for Trie. UnmarshalBinaryModel always produces a
// writable *Trie on load, suited to the train/retrain workflow rather
// than production serving.
type gobModel struct {
	Base, Check        []Index
	LogPUni            []Score
	BigramKeys, FeatKeys []uint32
	BigramVals, FeatVals []Score
	Trans00, Trans01, Trans10, Trans11, BosTo1 Score
	UnkBase, UnkPerCP, Lambda0                 Score
	MaxWordLen                                 int
	CCMode                                      CCMode
	CCRanges                                    []CCRange
	CCFallback                                  uint8
	Flags                                       ModelFlags
}

// MarshalBinaryModel encodes m with gob, for quick
// round-tripping during development (tests, small tools) where the
// mmap-friendly fixed layout of SaveBin is unnecessary ceremony.
func MarshalBinaryModel(m *Model) ([]byte, error) {
	trie, ok := m.Trie.(*Trie)
	if !ok {
		return nil, fmt.Errorf("mmjp: MarshalBinaryModel requires a writable *Trie, not %T", m.Trie)
	}
	g := gobModel{
		Base: trie.base, Check: trie.check,
		LogPUni:    m.LogPUni,
		BigramKeys: m.Bigram.Keys, BigramVals: m.Bigram.Values,
		FeatKeys: m.Feat.Keys, FeatVals: m.Feat.Values,
		Trans00: m.Trans00, Trans01: m.Trans01, Trans10: m.Trans10, Trans11: m.Trans11,
		BosTo1: m.BosTo1, UnkBase: m.UnkBase, UnkPerCP: m.UnkPerCP, Lambda0: m.Lambda0,
		MaxWordLen: m.MaxWordLen, CCMode: m.CC.Mode, CCRanges: m.CC.Ranges, CCFallback: uint8(m.CC.Fallback),
		Flags: m.Flags,
	}
	var buf gobBuffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(&g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinaryModel is the inverse of MarshalBinaryModel.
func UnmarshalBinaryModel(data []byte) (*Model, error) {
	var g gobModel
	dec := gob.NewDecoder(&gobBuffer{buf: data})
	if err := dec.Decode(&g); err != nil {
		return nil, err
	}
	trie := &Trie{base: g.Base, check: g.Check, dynamic: true}
	return &Model{
		Trie:       trie,
		LogPUni:    g.LogPUni,
		Bigram:     &SortedTable{Keys: g.BigramKeys, Values: g.BigramVals},
		Feat:       &SortedTable{Keys: g.FeatKeys, Values: g.FeatVals},
		Trans00:    g.Trans00, Trans01: g.Trans01, Trans10: g.Trans10, Trans11: g.Trans11,
		BosTo1:     g.BosTo1, UnkBase: g.UnkBase, UnkPerCP: g.UnkPerCP, Lambda0: g.Lambda0,
		MaxWordLen: g.MaxWordLen,
		CC:         CharClass{Mode: g.CCMode, Ranges: g.CCRanges, Fallback: CCMode(g.CCFallback)},
		Flags:      g.Flags,
	}, nil
}

// gobBuffer is a minimal io.Reader/io.Writer over a byte slice, avoiding
// a bytes.Buffer import purely for this narrow use.
type gobBuffer struct{ buf []byte }

func (b *gobBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *gobBuffer) Read(p []byte) (int, error) {
	if len(b.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

func (b *gobBuffer) Bytes() []byte { return b.buf }
