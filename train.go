package mmjp

import (
	"context"
	"io"

	"github.com/golang/glog"
	"github.com/kho/stream"
)

// TrainOptions configures the end-to-end training orchestrator.
type TrainOptions struct {
	CC           CharClass
	MaxWordLen   int
	EM           TrainConfig
	CRFIters     int
	CRFHistory   int // L-BFGS history size; 0 selects SGD instead
	CRFConfig    CRFTrainConfig
	MaxLineBytes int
}

// Train runs the full pipeline: scan the corpus into sentences, build and
// prune a UniLM vocabulary by EM+MDL, derive CRF training examples from
// the same corpus (gold boundaries implied by the corpus's own
// tokenization, one boundary per original whitespace-delimited word), fit
// the CRF, and assemble the final Model. ctx is checked for cancellation
// between sentences, never mid-sentence (a sentence's DP cannot be
// meaningfully paused partway through).
func Train(ctx context.Context, r io.Reader, opts TrainOptions) (*Model, error) {
	glog.V(1).Info("train: scanning corpus")
	sentences, err := scanSentences(r, opts.MaxLineBytes)
	if err != nil {
		return nil, err
	}
	if len(sentences) == 0 {
		return nil, ErrBadArgument
	}

	glog.V(1).Infof("train: building initial vocabulary from %d sentences", len(sentences))
	u, err := initVocabulary(sentences, opts.MaxWordLen)
	if err != nil {
		return nil, err
	}
	if err := u.RebuildTrieSorted(); err != nil {
		return nil, err
	}
	if err := checkCoverage(ctx, u, sentences, opts.EM.MaxPieceLenCP); err != nil {
		return nil, err
	}

	glog.V(1).Info("train: running EM+MDL")
	corpus := &SliceCorpus{Sentences: sentences}
	stats, err := TrainEMMDL(u, corpus, &opts.EM)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("train: EM converged, loglik=%.2f sentences=%.0f tokens=%.1f", stats.LogLik, stats.NSent, stats.NTokensExp)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	glog.V(1).Info("train: deriving CRF training examples")
	examples, err := buildCRFExamples(ctx, sentences, &opts.CC)
	if err != nil {
		return nil, err
	}

	glog.V(1).Info("train: fitting CRF")
	w := newCRFWeights()
	if opts.CRFHistory > 0 {
		TrainLBFGS(w, examples, opts.CRFIters, opts.CRFHistory)
	} else {
		TrainSGD(w, examples, opts.CRFConfig)
	}

	glog.V(1).Info("train: assembling model")
	return assembleModel(u, w, opts), nil
}

// scanSentences reads corpus lines via the shared line-scanning iteratee,
// treating each non-empty line as one training sentence.
func scanSentences(r io.Reader, maxLineBytes int) ([][]byte, error) {
	if maxLineBytes <= 0 {
		maxLineBytes = 1 << 20
	}
	var out [][]byte
	err := ScanCorpusLines(stream.EnumRead(r, lineSplit), maxLineBytes, func(line []byte) error {
		if len(line) == 0 {
			return nil
		}
		cp := append([]byte(nil), line...)
		out = append(out, cp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// initVocabulary seeds a Unilm with every substring up to maxLen
// codepoints observed in the corpus, marking every single-codepoint piece
// mandatory (the coverage invariant underpinning the MDL pruner).
func initVocabulary(sentences [][]byte, maxLen int) (*Unilm, error) {
	if maxLen <= 0 {
		maxLen = 8
	}
	u := NewUnilm(1 << 16)
	for _, sent := range sentences {
		cpOff, _, err := MakeCPOffsets(sent, len(sent)+1)
		if err != nil {
			return nil, err
		}
		nCP := len(cpOff) - 1
		for i := 0; i < nCP; i++ {
			maxK := maxLen
			if nCP-i < maxK {
				maxK = nCP - i
			}
			for k := 1; k <= maxK; k++ {
				key := sent[cpOff[i]:cpOff[i+k]]
				flags := uint8(0)
				if k == 1 {
					flags = PieceMandatory
				}
				u.AddPiece(key, k, flags)
			}
		}
	}
	for i := range u.logp {
		u.logp[i] = 0
	}
	u.Normalize(1e-9)
	return u, nil
}

// checkCoverage verifies every sentence has at least one segmentation
// under u (always true immediately after initVocabulary, but the
// recheck matters once callers skip straight to EM on a loaded partial
// vocabulary).
func checkCoverage(ctx context.Context, u *Unilm, sentences [][]byte, maxLenCP int) error {
	if maxLenCP <= 0 {
		maxLenCP = 8
	}
	for _, sent := range sentences {
		if err := ctx.Err(); err != nil {
			return err
		}
		cpOff, _, err := MakeCPOffsets(sent, len(sent)+1)
		if err != nil {
			return err
		}
		nCP := len(cpOff) - 1
		if nCP == 0 {
			continue
		}
		reachable := make([]bool, nCP+1)
		reachable[0] = true
		for i := 0; i < nCP; i++ {
			if !reachable[i] {
				continue
			}
			for _, mt := range collectMatches(u.TrieMatcher(), sent, cpOff, i, maxLenCP, nCP) {
				reachable[mt.EndCP] = true
			}
		}
		if !reachable[nCP] {
			return ErrNoCoverage
		}
	}
	return nil
}

// buildCRFExamples converts each corpus sentence into a CRFExample: the
// character-class sequence from opts.CC, and gold boundary labels taken
// from the corpus's own whitespace-delimited tokenization (ASCII space or
// tab between two non-space codepoints marks a boundary; the whitespace
// codepoints themselves are dropped from the training sequence, since the
// CRF operates on the already-detokenized character stream).
func buildCRFExamples(ctx context.Context, sentences [][]byte, cc *CharClass) ([]CRFExample, error) {
	var examples []CRFExample
	for _, sent := range sentences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var classes []uint8
		var labels []uint8
		nextIsBoundary := true
		for i := 0; i < len(sent); {
			cp, size, ok := decodeUTF8At(sent[i:])
			if !ok {
				return nil, ErrUTF8
			}
			if cp == ' ' || cp == '\t' {
				nextIsBoundary = true
				i += size
				continue
			}
			classes = append(classes, cc.Classify(cp))
			if nextIsBoundary {
				labels = append(labels, 1)
			} else {
				labels = append(labels, 0)
			}
			nextIsBoundary = false
			i += size
		}
		if len(classes) == 0 {
			continue
		}
		examples = append(examples, CRFExample{Classes: classes, Labels: labels})
	}
	return examples, nil
}

// assembleModel packs the trained Unilm and CRF weights into a Model
// ready for SaveBin, with a conservative default unknown-word penalty and
// the 2x2 transition block and BOS->1 score copied straight from the
// fitted crfWeights.
func assembleModel(u *Unilm, w *crfWeights, opts TrainOptions) *Model {
	logp := make([]Score, u.NumPieces())
	for i := range logp {
		logp[i] = ScoreFromFloat64(u.LogP(PieceID(i)))
	}
	return &Model{
		Trie:       u.trie,
		LogPUni:    logp,
		Bigram:     NewSparseBuilder(1).Freeze(),
		Feat:       ExportFeat(w),
		Trans00:    ScoreFromFloat64(w.trans00),
		Trans01:    ScoreFromFloat64(w.trans01),
		Trans10:    ScoreFromFloat64(w.trans10),
		Trans11:    ScoreFromFloat64(w.trans11),
		BosTo1:     ScoreFromFloat64(w.bosTo1),
		UnkBase:    ScoreFromFloat64(-10),
		UnkPerCP:   ScoreFromFloat64(-5),
		Lambda0:    ScoreFromFloat64(1.0),
		MaxWordLen: opts.MaxWordLen,
		CC:         opts.CC,
	}
}
