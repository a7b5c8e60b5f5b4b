package mmjp

import (
	"math"
	"testing"
)

func TestFeatKeyPacksDistinctValues(t *testing.T) {
	k1 := FeatKey(TemplateCur, 0, 5, 0)
	k2 := FeatKey(TemplateCur, 1, 5, 0)
	k3 := FeatKey(TemplatePrev, 0, 5, 0)
	if k1 == k2 || k1 == k3 || k2 == k3 {
		t.Errorf("FeatKey collision: k1=%d k2=%d k3=%d", k1, k2, k3)
	}
}

func TestTransBOSAndBlock(t *testing.T) {
	w := newCRFWeights()
	w.trans00, w.trans01, w.trans10, w.trans11, w.bosTo1 = 1, 2, 3, 4, 5
	if got := w.trans(255, 1); got != 5 {
		t.Errorf("trans(BOS,1) = %v, want 5", got)
	}
	if got := w.trans(255, 0); got != 0 {
		t.Errorf("trans(BOS,0) = %v, want 0", got)
	}
	cases := []struct {
		from, to uint8
		want     float64
	}{
		{0, 0, 1}, {0, 1, 2}, {1, 0, 3}, {1, 1, 4},
	}
	for _, c := range cases {
		if got := w.trans(c.from, c.to); got != c.want {
			t.Errorf("trans(%d,%d) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestRunForwardBackwardMarginalsSumToOne(t *testing.T) {
	w := newCRFWeights()
	w.add(FeatKey(TemplateCur, 1, ClassAlpha, 0), 0.7)
	w.trans00, w.trans11, w.bosTo1 = 0.3, 0.2, 0.1
	classes := []uint8{ClassAlpha, ClassDigit, ClassAlpha}
	fb := runForwardBackward(w, classes)
	for i := 0; i < len(classes); i++ {
		p0 := math.Exp(fb.alpha[i][0] + fb.beta[i][0] - fb.logZ)
		p1 := math.Exp(fb.alpha[i][1] + fb.beta[i][1] - fb.logZ)
		if math.Abs(p0+p1-1) > 1e-6 {
			t.Errorf("position %d marginals sum to %v, want 1", i, p0+p1)
		}
	}
}

func TestGradientEmpiricalMinusExpectedAtConvergence(t *testing.T) {
	// A single-position example with gold label 1: after enough SGD steps
	// the model marginal for label 1 should dominate, and the per-example
	// negative log likelihood should have dropped from its initial value.
	w := newCRFWeights()
	ex := CRFExample{Classes: []uint8{ClassAlpha}, Labels: []uint8{1}}
	grad0 := make(map[uint32]float64)
	var gt0 [5]float64
	nll0 := gradient(w, ex, grad0, &gt0)

	cfg := CRFTrainConfig{Iters: 50, LearningRate: 0.5}
	nllFinal := TrainSGD(w, []CRFExample{ex}, cfg)

	if nllFinal >= nll0 {
		t.Errorf("NLL did not decrease under SGD: initial=%v final=%v", nll0, nllFinal)
	}
}

func TestTrainLBFGSReducesLoss(t *testing.T) {
	examples := []CRFExample{
		{Classes: []uint8{ClassAlpha, ClassAlpha, ClassDigit}, Labels: []uint8{1, 0, 1}},
		{Classes: []uint8{ClassDigit, ClassAlpha}, Labels: []uint8{1, 1}},
	}
	w := newCRFWeights()
	initial := batchGradient(w, examples)
	final := TrainLBFGS(w, examples, 20, 5)
	if final > initial {
		t.Errorf("TrainLBFGS increased loss: initial=%v final=%v", initial, final)
	}
}

func TestExportFeatRoundTripsThroughSortedTable(t *testing.T) {
	w := newCRFWeights()
	w.add(FeatKey(TemplateCur, 0, 3, 0), 1.5)
	w.add(FeatKey(TemplateCurNext, 1, 2, 4), -0.25)
	table := ExportFeat(w)

	v, ok := table.Lookup(FeatKey(TemplateCur, 0, 3, 0))
	if !ok || v != ScoreFromFloat64(1.5) {
		t.Errorf("Lookup(TemplateCur) = %v, %v; want %v, true", v, ok, ScoreFromFloat64(1.5))
	}
	if _, ok := table.Lookup(FeatKey(TemplateCur, 0, 9, 0)); ok {
		t.Errorf("Lookup of an unset feature key found a value, want missing")
	}
}
