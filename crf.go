package mmjp

import "math"

// Two-label character CRF: label 0 means "inside a word" (no boundary
// before this character), label 1 means "boundary before this character".
// Feature templates look at the character-class sequence around a
// position; transition scores are a plain 2x2 table plus a BOS->1 score
// (the reference always forces a boundary at the start of a sentence).

// Feature templates, packed into the top byte of a FeatKey.
const (
	TemplateCur uint8 = iota
	TemplatePrev
	TemplateNext
	TemplatePrevCur
	TemplateCurNext
)

// FeatKey packs a (template, label, v1, v2) feature into a single uint32
// for the sparse/sorted weight table. v2 is unused (zero) for the
// single-class templates.
func FeatKey(template, label, v1, v2 uint8) uint32 {
	return uint32(template)<<24 | uint32(label)<<16 | uint32(v1)<<8 | uint32(v2)
}

// Emit computes the emission score of labeling position i (0-indexed
// codepoint position within the sentence) with label, given the
// character-class sequence classes (length nCP) with ClassBOS/ClassEOS
// sentinels conceptually at -1 and nCP.
func Emit(m *Model, classes []uint8, i int, label uint8) Score {
	nCP := len(classes)
	cur := classes[i]
	var prev, next uint8
	if i == 0 {
		prev = ClassBOS
	} else {
		prev = classes[i-1]
	}
	if i == nCP-1 {
		next = ClassEOS
	} else {
		next = classes[i+1]
	}
	s := m.FeatWeight(TemplateCur, label, cur, 0)
	s += m.FeatWeight(TemplatePrev, label, prev, 0)
	s += m.FeatWeight(TemplateNext, label, next, 0)
	s += m.FeatWeight(TemplatePrevCur, label, prev, cur)
	s += m.FeatWeight(TemplateCurNext, label, cur, next)
	return s
}

// Trans returns the transition score from label `from` to label `to`
// between positions i-1 and i; from==255 denotes BOS.
func Trans(m *Model, from, to uint8) Score {
	if from == 255 {
		if to == 1 {
			return m.BosTo1
		}
		return 0
	}
	switch {
	case from == 0 && to == 0:
		return m.Trans00
	case from == 0 && to == 1:
		return m.Trans01
	case from == 1 && to == 0:
		return m.Trans10
	default:
		return m.Trans11
	}
}

// CRFExample is one labeled training sentence: character classes and the
// gold boundary label (1 = boundary before this character) per position.
type CRFExample struct {
	Classes []uint8
	Labels  []uint8
}

// crfForwardBackward runs the standard two-label linear-chain
// forward-backward in double precision (log-space), returning log Z and
// alpha/beta tables of shape [nCP][2]; alpha[0] folds in the BOS
// transition directly.
type crfFB struct {
	alpha, beta [][2]float64
	logZ        float64
}

func runForwardBackward(w *crfWeights, classes []uint8) crfFB {
	n := len(classes)
	emit := make([][2]float64, n)
	for i := 0; i < n; i++ {
		emit[i][0] = w.emit(classes, i, 0)
		emit[i][1] = w.emit(classes, i, 1)
	}

	alpha := make([][2]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			alpha[0][0] = w.trans(255, 0) + emit[0][0]
			alpha[0][1] = w.trans(255, 1) + emit[0][1]
			continue
		}
		for to := uint8(0); to < 2; to++ {
			a := alpha[i-1][0] + w.trans(0, to)
			b := alpha[i-1][1] + w.trans(1, to)
			alpha[i][to] = logAdd(a, b) + emit[i][to]
		}
	}
	logZ := logAdd(alpha[n-1][0], alpha[n-1][1])

	beta := make([][2]float64, n)
	beta[n-1][0] = 0
	beta[n-1][1] = 0
	for i := n - 2; i >= 0; i-- {
		for from := uint8(0); from < 2; from++ {
			a := w.trans(from, 0) + emit[i+1][0] + beta[i+1][0]
			b := w.trans(from, 1) + emit[i+1][1] + beta[i+1][1]
			beta[i][from] = logAdd(a, b)
		}
	}
	return crfFB{alpha: alpha, beta: beta, logZ: logZ}
}

// crfWeights is the trainable float64 mirror of the CRF portion of Model:
// a map from packed FeatKey (template,label,v1[,v2]) to weight plus the
// 2x2+1 transition scores, rather than the fixed-point SortedTable used at
// decode time. Training accumulates
// gradients against this; export packs it into a SortedTable.
type crfWeights struct {
	w       map[uint32]float64
	trans00 float64
	trans01 float64
	trans10 float64
	trans11 float64
	bosTo1  float64
}

func newCRFWeights() *crfWeights {
	return &crfWeights{w: make(map[uint32]float64)}
}

func (w *crfWeights) get(k uint32) float64 { return w.w[k] }
func (w *crfWeights) add(k uint32, d float64) {
	if d == 0 {
		return
	}
	w.w[k] += d
}

func (w *crfWeights) emit(classes []uint8, i int, label uint8) float64 {
	nCP := len(classes)
	cur := classes[i]
	var prev, next uint8
	if i == 0 {
		prev = ClassBOS
	} else {
		prev = classes[i-1]
	}
	if i == nCP-1 {
		next = ClassEOS
	} else {
		next = classes[i+1]
	}
	return w.get(FeatKey(TemplateCur, label, cur, 0)) +
		w.get(FeatKey(TemplatePrev, label, prev, 0)) +
		w.get(FeatKey(TemplateNext, label, next, 0)) +
		w.get(FeatKey(TemplatePrevCur, label, prev, cur)) +
		w.get(FeatKey(TemplateCurNext, label, cur, next))
}

func (w *crfWeights) trans(from, to uint8) float64 {
	if from == 255 {
		if to == 1 {
			return w.bosTo1
		}
		return 0
	}
	switch {
	case from == 0 && to == 0:
		return w.trans00
	case from == 0 && to == 1:
		return w.trans01
	case from == 1 && to == 0:
		return w.trans10
	default:
		return w.trans11
	}
}

func (w *crfWeights) addTrans(from, to uint8, d float64) {
	if d == 0 {
		return
	}
	if from == 255 {
		if to == 1 {
			w.bosTo1 += d
		}
		return
	}
	switch {
	case from == 0 && to == 0:
		w.trans00 += d
	case from == 0 && to == 1:
		w.trans01 += d
	case from == 1 && to == 0:
		w.trans10 += d
	default:
		w.trans11 += d
	}
}

// gradient computes the negative log-likelihood of one example against the
// current weights, accumulating the log-likelihood gradient into grad (same
// key space as w.w) and gradTrans (00,01,10,11,bos1).
func gradient(w *crfWeights, ex CRFExample, grad map[uint32]float64, gradTrans *[5]float64) float64 {
	n := len(ex.Classes)
	fb := runForwardBackward(w, ex.Classes)

	addFeat := func(i int, label uint8, sign float64) {
		nCP := n
		cur := ex.Classes[i]
		var prev, next uint8
		if i == 0 {
			prev = ClassBOS
		} else {
			prev = ex.Classes[i-1]
		}
		if i == nCP-1 {
			next = ClassEOS
		} else {
			next = ex.Classes[i+1]
		}
		grad[FeatKey(TemplateCur, label, cur, 0)] += sign
		grad[FeatKey(TemplatePrev, label, prev, 0)] += sign
		grad[FeatKey(TemplateNext, label, next, 0)] += sign
		grad[FeatKey(TemplatePrevCur, label, prev, cur)] += sign
		grad[FeatKey(TemplateCurNext, label, cur, next)] += sign
	}

	// Empirical (gold) feature counts and transition counts, plus the gold
	// path's score. BOS->0 carries no weight, so it has no gradient slot.
	gold := 0.0
	for i := 0; i < n; i++ {
		addFeat(i, ex.Labels[i], 1)
		gold += w.emit(ex.Classes, i, ex.Labels[i])
	}
	prevLabel := uint8(255)
	for i := 0; i < n; i++ {
		gold += w.trans(prevLabel, ex.Labels[i])
		if prevLabel != 255 || ex.Labels[i] == 1 {
			gradTrans[transIdx(prevLabel, ex.Labels[i])] += 1
		}
		prevLabel = ex.Labels[i]
	}

	// Expected (model) feature counts: marginal P(y_i=label) per position,
	// and P(y_{i-1}=from, y_i=to) per adjacent pair.
	for i := 0; i < n; i++ {
		for label := uint8(0); label < 2; label++ {
			// alpha[i][label] already folds in emit(i,label); beta[i][label]
			// covers everything after i, so their sum minus logZ is the
			// position marginal directly.
			p := math.Exp(fb.alpha[i][label] + fb.beta[i][label] - fb.logZ)
			addFeat(i, label, -p)
		}
	}
	for i := 0; i < n; i++ {
		if i == 0 {
			p := math.Exp(fb.alpha[0][1] - fb.logZ) // P(y0=1), BOS->1 only edge
			gradTrans[transIdx(255, 1)] -= p
			continue
		}
		am1 := fb.alpha[i-1]
		emit0 := w.emit(ex.Classes, i, 0)
		emit1 := w.emit(ex.Classes, i, 1)
		for _, pair := range [][2]uint8{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
			from, to := pair[0], pair[1]
			var emitTo float64
			if to == 0 {
				emitTo = emit0
			} else {
				emitTo = emit1
			}
			logp := am1[from] + w.trans(from, to) + emitTo + fb.beta[i][to] - fb.logZ
			gradTrans[transIdx(from, to)] -= math.Exp(logp)
		}
	}

	return fb.logZ - gold
}

func transIdx(from, to uint8) int {
	if from == 255 {
		return 4
	}
	return int(from)*2 + int(to)
}

func applyGradTrans(w *crfWeights, g *[5]float64, lr float64) {
	w.trans00 += lr * g[0]
	w.trans01 += lr * g[1]
	w.trans10 += lr * g[2]
	w.trans11 += lr * g[3]
	w.bosTo1 += lr * g[4]
}

// CRFTrainConfig holds SGD hyperparameters for TrainSGD.
type CRFTrainConfig struct {
	Iters        int
	LearningRate float64
	L2           float64
}

// TrainSGD runs plain per-example stochastic gradient ascent on log
// likelihood (descent on negative log likelihood), the simplest of the
// two trainers the design calls for; suited to embedded retraining where
// an L-BFGS history buffer is too much memory.
func TrainSGD(w *crfWeights, examples []CRFExample, cfg CRFTrainConfig) float64 {
	var nll float64
	for iter := 0; iter < cfg.Iters; iter++ {
		nll = 0
		for _, ex := range examples {
			grad := make(map[uint32]float64)
			var gradTrans [5]float64
			nll += gradient(w, ex, grad, &gradTrans)
			for k, g := range grad {
				w.add(k, cfg.LearningRate*(g-cfg.L2*w.get(k)))
			}
			applyGradTrans(w, &gradTrans, cfg.LearningRate)
		}
	}
	return nll
}

// lbfgsState is the two-loop-recursion history buffer (§4.G).
type lbfgsState struct {
	sHist, yHist []map[uint32]float64
	sTrans, yTrans [][5]float64
	rho          []float64
	m            int
}

func newLBFGS(m int) *lbfgsState {
	if m < 1 {
		m = 1
	}
	if m > 32 {
		m = 32
	}
	return &lbfgsState{m: m}
}

func (l *lbfgsState) push(s, y map[uint32]float64, sT, yT [5]float64) {
	dot := 0.0
	for k, sv := range s {
		dot += sv * y[k]
	}
	for i := 0; i < 5; i++ {
		dot += sT[i] * yT[i]
	}
	if dot <= 1e-12 {
		return // skip curvature-violating pair
	}
	l.sHist = append(l.sHist, s)
	l.yHist = append(l.yHist, y)
	l.sTrans = append(l.sTrans, sT)
	l.yTrans = append(l.yTrans, yT)
	l.rho = append(l.rho, 1/dot)
	if len(l.sHist) > l.m {
		l.sHist = l.sHist[1:]
		l.yHist = l.yHist[1:]
		l.sTrans = l.sTrans[1:]
		l.yTrans = l.yTrans[1:]
		l.rho = l.rho[1:]
	}
}

// direction computes the L-BFGS search direction (negative of it, i.e. a
// descent direction on the negative-log-likelihood objective) via the
// standard two-loop recursion.
func (l *lbfgsState) direction(grad map[uint32]float64, gradTrans [5]float64) (map[uint32]float64, [5]float64) {
	q := make(map[uint32]float64, len(grad))
	for k, v := range grad {
		q[k] = v
	}
	qT := gradTrans
	k := len(l.sHist)
	alpha := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		dot := 0.0
		for key, sv := range l.sHist[i] {
			dot += sv * q[key]
		}
		for j := 0; j < 5; j++ {
			dot += l.sTrans[i][j] * qT[j]
		}
		alpha[i] = l.rho[i] * dot
		for key, yv := range l.yHist[i] {
			q[key] -= alpha[i] * yv
		}
		for j := 0; j < 5; j++ {
			qT[j] -= alpha[i] * l.yTrans[i][j]
		}
	}
	gamma := 1.0
	if k > 0 {
		sy := 0.0
		yy := 0.0
		for key, yv := range l.yHist[k-1] {
			sy += l.sHist[k-1][key] * yv
			yy += yv * yv
		}
		for j := 0; j < 5; j++ {
			sy += l.sTrans[k-1][j] * l.yTrans[k-1][j]
			yy += l.yTrans[k-1][j] * l.yTrans[k-1][j]
		}
		if yy > 0 {
			gamma = sy / yy
		}
	}
	r := make(map[uint32]float64, len(q))
	for key, v := range q {
		r[key] = v * gamma
	}
	rT := [5]float64{qT[0] * gamma, qT[1] * gamma, qT[2] * gamma, qT[3] * gamma, qT[4] * gamma}
	for i := 0; i < k; i++ {
		dot := 0.0
		for key, yv := range l.yHist[i] {
			dot += yv * r[key]
		}
		for j := 0; j < 5; j++ {
			dot += l.yTrans[i][j] * rT[j]
		}
		beta := l.rho[i] * dot
		coeff := alpha[i] - beta
		for key, sv := range l.sHist[i] {
			r[key] += coeff * sv
		}
		for j := 0; j < 5; j++ {
			rT[j] += coeff * l.sTrans[i][j]
		}
	}
	return r, rT
}

// TrainLBFGS trains the full batch with limited-memory BFGS: two-loop
// recursion for the search direction, Armijo backtracking line search
// (c1=1e-4, shrink 0.5, up to 20 steps), and a reset-and-retry on the rare
// non-descent direction (numerical noise in the curvature pairs).
func TrainLBFGS(w *crfWeights, examples []CRFExample, iters, historySize int) float64 {
	l := newLBFGS(historySize)
	nll := batchGradient(w, examples)

	for iter := 0; iter < iters; iter++ {
		grad, gradTrans, loss := batchGradientFull(w, examples)
		dir, dirTrans := l.direction(grad, gradTrans)
		// grad is the log-likelihood gradient, so dir (the two-loop product
		// with grad) points downhill on the loss; step along +dir.
		descentOK := dotProduct(grad, gradTrans, dir, dirTrans) > 0
		if !descentOK {
			l = newLBFGS(historySize) // reset-and-retry with steepest descent
			dir, dirTrans = grad, gradTrans
		}

		step := 1.0
		const c1 = 1e-4
		baseLoss := loss
		slope := -dotProduct(grad, gradTrans, dir, dirTrans)
		var newW *crfWeights
		for tries := 0; tries < 20; tries++ {
			cand := cloneWeights(w)
			applyStep(cand, dir, dirTrans, step)
			candLoss := batchGradient(cand, examples)
			if candLoss <= baseLoss+c1*step*slope {
				newW = cand
				nll = candLoss
				break
			}
			step *= 0.5
		}
		if newW == nil {
			break // line search failed to improve; stop
		}

		s, sT := diffWeights(newW, w)
		y, yT := diffGrad(grad, gradTrans, newW, examples)
		l.push(s, y, sT, yT)
		*w = *newW
	}
	return nll
}

func dotProduct(grad map[uint32]float64, gradTrans [5]float64, dir map[uint32]float64, dirTrans [5]float64) float64 {
	dot := 0.0
	for k, v := range grad {
		dot += v * dir[k]
	}
	for i := 0; i < 5; i++ {
		dot += gradTrans[i] * dirTrans[i]
	}
	return dot
}

func applyStep(w *crfWeights, dir map[uint32]float64, dirTrans [5]float64, scale float64) {
	for k, v := range dir {
		w.add(k, scale*v)
	}
	var g [5]float64
	for i := range g {
		g[i] = scale * dirTrans[i]
	}
	applyGradTrans(w, &g, 1)
}

func cloneWeights(w *crfWeights) *crfWeights {
	c := newCRFWeights()
	for k, v := range w.w {
		c.w[k] = v
	}
	c.trans00, c.trans01, c.trans10, c.trans11, c.bosTo1 = w.trans00, w.trans01, w.trans10, w.trans11, w.bosTo1
	return c
}

func diffWeights(a, b *crfWeights) (map[uint32]float64, [5]float64) {
	d := make(map[uint32]float64)
	for k, v := range a.w {
		d[k] = v - b.w[k]
	}
	for k, v := range b.w {
		if _, ok := d[k]; !ok {
			d[k] = -v
		}
	}
	dT := [5]float64{a.trans00 - b.trans00, a.trans01 - b.trans01, a.trans10 - b.trans10, a.trans11 - b.trans11, a.bosTo1 - b.bosTo1}
	return d, dT
}

func diffGrad(gradOld map[uint32]float64, gradTransOld [5]float64, newW *crfWeights, examples []CRFExample) (map[uint32]float64, [5]float64) {
	// The gradients are of the log-likelihood; the curvature pair needs the
	// change in the loss gradient, which is old minus new.
	gradNew, gradTransNew, _ := batchGradientFull(newW, examples)
	d := make(map[uint32]float64, len(gradNew))
	for k, v := range gradNew {
		d[k] = gradOld[k] - v
	}
	for k, v := range gradOld {
		if _, ok := d[k]; !ok {
			d[k] = v
		}
	}
	dT := [5]float64{
		gradTransOld[0] - gradTransNew[0], gradTransOld[1] - gradTransNew[1],
		gradTransOld[2] - gradTransNew[2], gradTransOld[3] - gradTransNew[3],
		gradTransOld[4] - gradTransNew[4],
	}
	return d, dT
}

func batchGradient(w *crfWeights, examples []CRFExample) float64 {
	total := 0.0
	for _, ex := range examples {
		grad := make(map[uint32]float64)
		var gradTrans [5]float64
		total += gradient(w, ex, grad, &gradTrans)
	}
	return total
}

func batchGradientFull(w *crfWeights, examples []CRFExample) (map[uint32]float64, [5]float64, float64) {
	grad := make(map[uint32]float64)
	var gradTrans [5]float64
	total := 0.0
	for _, ex := range examples {
		total += gradient(w, ex, grad, &gradTrans)
	}
	return grad, gradTrans, total
}

// ExportFeat freezes w's sparse feature weights into a SortedTable for the
// Model, converting float64 log-space weights to Q8.8 fixed-point.
func ExportFeat(w *crfWeights) *SortedTable {
	b := NewSparseBuilder(len(w.w))
	for k, v := range w.w {
		b.Set(k, ScoreFromFloat64(v))
	}
	return b.Freeze()
}
