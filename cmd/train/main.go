// Command train fits a model from a plain-text corpus (one sentence per
// line, already whitespace-tokenized) read from stdin, writing the
// resulting binary model to -out.
package main

import (
	"context"
	"flag"
	"os"
	"runtime/pprof"

	"github.com/golang/glog"
	"github.com/kho/easy"

	"github.com/shin1985/mmjp"
)

func main() {
	var args struct {
		Out string `name:"out" usage:"output model file"`
	}
	ccMode := new(mmjp.CCMode)
	flag.Var(ccMode, "cc_mode", "character-class mode: ascii, utf8len, ranges, or compat")
	ccRangesFile := flag.String("cc_ranges", "", "cc_ranges table file, required when -cc_mode=ranges")
	maxWordLen := flag.Int("max_word_len", 8, "maximum segment length in codepoints")
	emIters := flag.Int("em_iters", 5, "EM iterations per pruning round")
	targetVocab := flag.Int("target_vocab", 0, "target vocabulary size for MDL pruning (0: threshold-only pruning)")
	smoothing := flag.Float64("smoothing", 0.5, "additive smoothing for the EM M-step")
	mdlLambda0 := flag.Float64("mdl_lambda0", 0, "fixed per-piece MDL cost")
	mdlLambdaLen := flag.Float64("mdl_lambda_len", 0, "per-codepoint MDL cost")
	minProb := flag.Float64("min_prob", 1e-9, "probability floor applied after each normalization")
	crfIters := flag.Int("crf_iters", 30, "CRF training iterations")
	crfHistory := flag.Int("crf_lbfgs_history", 8, "L-BFGS history size (0 selects plain SGD instead)")
	crfLR := flag.Float64("crf_lr", 0.1, "SGD learning rate, used only when -crf_lbfgs_history=0")
	crfL2 := flag.Float64("crf_l2", 1e-4, "SGD L2 regularization, used only when -crf_lbfgs_history=0")
	cpuprofile := flag.String("cpuprofile", "", "path to write a CPU profile")
	memprofile := flag.String("memprofile", "", "path to write a heap profile")
	easy.ParseFlagsAndArgs(&args)

	if *cpuprofile != "" {
		w := easy.MustCreate(*cpuprofile)
		pprof.StartCPUProfile(w)
		defer func() {
			pprof.StopCPUProfile()
			w.Close()
		}()
	}
	if *memprofile != "" {
		defer func() {
			w := easy.MustCreate(*memprofile)
			pprof.WriteHeapProfile(w)
			w.Close()
		}()
	}

	if args.Out == "" {
		glog.Fatal("-out is required")
	}

	cc := mmjp.CharClass{Mode: *ccMode}
	if *ccMode == mmjp.CCRanges {
		if *ccRangesFile == "" {
			glog.Fatal("-cc_ranges is required when -cc_mode=ranges")
		}
		f, err := os.Open(*ccRangesFile)
		if err != nil {
			glog.Fatal("opening cc_ranges: ", err)
		}
		ranges, err := mmjp.ParseCCRanges(f)
		f.Close()
		if err != nil {
			glog.Fatal("parsing cc_ranges: ", err)
		}
		cc.Ranges = ranges
		cc.Fallback = mmjp.CCUTF8Len
	}

	opts := mmjp.TrainOptions{
		CC:         cc,
		MaxWordLen: *maxWordLen,
		EM: mmjp.TrainConfig{
			NumIters:      *emIters,
			MaxPieceLenCP: *maxWordLen,
			Smoothing:     *smoothing,
			MDLLambda0:    *mdlLambda0,
			MDLLambdaLen:  *mdlLambdaLen,
			TargetVocab:   *targetVocab,
			PruneEachIter: true,
			MinProb:       *minProb,
		},
		CRFIters:   *crfIters,
		CRFHistory: *crfHistory,
		CRFConfig: mmjp.CRFTrainConfig{
			Iters:        *crfIters,
			LearningRate: *crfLR,
			L2:           *crfL2,
		},
	}

	var model *mmjp.Model
	glog.Info("training took ", easy.Timed(func() {
		m, err := mmjp.Train(context.Background(), os.Stdin, opts)
		if err != nil {
			glog.Fatal("training: ", err)
		}
		model = m
	}))

	w := easy.MustCreate(args.Out)
	defer w.Close()
	if err := mmjp.SaveBin(model, w); err != nil {
		glog.Fatal("saving model: ", err)
	}
}
