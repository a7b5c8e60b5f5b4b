// Command tokenize segments UTF-8 text on stdin, one sentence per line,
// writing one tokenized line per input line to stdout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/golang/glog"
	"github.com/kho/easy"

	"github.com/shin1985/mmjp"
)

func main() {
	var args struct {
		Model string `name:"model" usage:"binary model file (v2)"`
	}
	mode := flag.String("mode", "viterbi", "decode mode: viterbi, sample, or nbest")
	nbest := flag.Int("nbest", 1, "number of hypotheses for -mode=nbest")
	temperature := flag.Float64("temperature", 1.0, "FFBS sampling temperature for -mode=sample")
	seed := flag.Uint64("seed", 1, "RNG seed for -mode=sample")
	lossless := flag.Bool("lossless", false, "round-trip interior whitespace via the lossless codec")
	sep := flag.String("sep", " ", "separator written between output pieces")
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

	if args.Model == "" {
		glog.Fatal("-model is required")
	}
	model, closer, err := mmjp.ReadOnlyFromFile(args.Model)
	if err != nil {
		glog.Fatal("loading model: ", err)
	}
	defer closer.Close()

	ws := mmjp.NewWorkspace()
	rng := mmjp.NewXorshift32(uint32(*seed))
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		if err := processLine(model, ws, rng, scanner.Bytes(), out, *mode, *nbest, *temperature, *lossless, *sep); err != nil {
			glog.Fatal("tokenizing: ", err)
		}
	}
	if err := scanner.Err(); err != nil {
		glog.Fatal("reading stdin: ", err)
	}
}

func processLine(model *mmjp.Model, ws *mmjp.Workspace, rng *mmjp.Xorshift32, line []byte, out *bufio.Writer, mode string, nbest int, temperature float64, lossless bool, sep string) error {
	src := line
	if lossless {
		src = mmjp.Encode(src)
	}
	cpOff, _, err := mmjp.MakeCPOffsets(src, len(src)+1)
	if err != nil {
		return err
	}
	classes := make([]uint8, len(cpOff)-1)
	for i := range classes {
		cp := mmjp.CodepointAt(src, cpOff, i, ' ')
		classes[i] = model.CC.Classify(cp)
	}

	writeSeg := func(bounds []int) {
		for i := 0; i+1 < len(bounds); i++ {
			if i > 0 {
				out.WriteString(sep)
			}
			p := src[cpOff[bounds[i]]:cpOff[bounds[i+1]]]
			if lossless {
				out.Write(mmjp.DecodeLossless(p))
			} else {
				out.Write(p)
			}
		}
		out.WriteByte('\n')
	}

	switch mode {
	case "viterbi":
		bounds, err := mmjp.Decode(model, ws, src, cpOff, classes)
		if err != nil {
			return err
		}
		writeSeg(bounds)
	case "sample":
		bounds, err := mmjp.Sample(model, ws, src, cpOff, classes, rng, temperature)
		if err != nil {
			return err
		}
		writeSeg(bounds)
	case "nbest":
		all, err := mmjp.NBest(model, ws, src, cpOff, classes, nbest)
		if err != nil {
			return err
		}
		for _, bounds := range all {
			writeSeg(bounds)
		}
	default:
		return fmt.Errorf("mmjp: unknown -mode %q", mode)
	}
	return nil
}
