// Package bandit implements the BanditArm variants and nine interchangeable
// BanditStrategy algorithms, all behind a uniform select_arm/add_reward
// surface. Grounded on original_source/src/afl-fuzz-one.c's
// non-stationary-reward additions and on the weight-normalization-with-
// overflow-guard pattern demonstrated by
// other_examples/google-syzkaller__mab.go's GetTSWeight; here the EXP3
// weights shift every exponent by the minimum cumulative loss to keep
// exp() calls from overflowing.
//
// Dispatch is via a tagged variant (Kind) held in a single Strategy struct
// rather than one wrapper type per algorithm, so the arm grid stays a
// flat, homogeneous slice.
package bandit

import (
	"math"

	"github.com/bradleyjkemp/rarefuzz/adwin"
	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

// Kind tags which algorithm a Strategy executes.
type Kind int

const (
	Uniform Kind = iota
	UCB1
	KLUCB
	Thompson
	ADWINThompson
	DiscountedThompson
	DiscountedBoltzmann
	EXP3IX
	EXP3PP
)

func (k Kind) String() string {
	switch k {
	case Uniform:
		return "uniform"
	case UCB1:
		return "ucb1"
	case KLUCB:
		return "klucb"
	case Thompson:
		return "thompson"
	case ADWINThompson:
		return "adsts"
	case DiscountedThompson:
		return "dts"
	case DiscountedBoltzmann:
		return "dbe"
	case EXP3IX:
		return "expix"
	case EXP3PP:
		return "exppp"
	default:
		return "unknown"
	}
}

// arm holds the union of per-arm sufficient statistics across the three
// BanditArm variants (plain, adwin, discounted);
// only the fields relevant to the owning Strategy's Kind are populated.
type arm struct {
	numSelected  int
	totalRewards float64 // s_a
	sampleMean   float64

	disRewards     float64 // decayed reward total (DTS numerator, DBE numerator)
	disLosses      float64 // decayed loss total (DTS denominator)
	disNumSelected float64 // decayed selection count (DBE denominator)

	window *adwin.Window // ADWIN-TS only

	weight float64 // EXP3 family
	loss   float64 // EXP3 family cumulative estimated loss
}

// Strategy is one bandit instance: a fixed arm count, a Kind tag, and the
// scratch state that Kind needs.
type Strategy struct {
	kind     Kind
	arms     []arm
	rngSrc   *rng.Source
	cfg      config.Config
	adwinCfg adwin.Config
	t        int // total SelectArm invocations this strategy has served
}

// New constructs a Strategy with numArms arms, all initially unseen.
func New(kind Kind, numArms int, rngSrc *rng.Source, cfg config.Config) *Strategy {
	s := &Strategy{
		kind:   kind,
		arms:   make([]arm, numArms),
		rngSrc: rngSrc,
		cfg:    cfg,
		adwinCfg: adwin.Config{
			M:                   cfg.ADWINM,
			Delta:               cfg.ADWINDelta,
			MinElemToCheck:      cfg.ADWINMinElemToCheck,
			MinElemToStartDrop:  cfg.ADWINMinElemToStartDrop,
			DropInterval:        cfg.ADWINDropInterval,
			AdaptiveReset:       cfg.ADWINAdaptiveReset,
		},
	}
	s.initArms()
	return s
}

func (s *Strategy) initArms() {
	uniform := 1.0 / float64(len(s.arms))
	for i := range s.arms {
		s.arms[i] = arm{}
		if s.kind == ADWINThompson {
			s.arms[i].window = adwin.New(s.adwinCfg)
		}
		if s.kind == DiscountedBoltzmann || s.kind == EXP3IX || s.kind == EXP3PP {
			s.arms[i].weight = uniform
		}
	}
}

// NumArms reports the arm count.
func (s *Strategy) NumArms() int { return len(s.arms) }

func isMasked(mask []bool, i int) bool {
	return mask != nil && i < len(mask) && mask[i]
}

func (s *Strategy) unmaskedIndices(mask []bool) []int {
	idx := make([]int, 0, len(s.arms))
	for i := range s.arms {
		if !isMasked(mask, i) {
			idx = append(idx, i)
		}
	}
	return idx
}

// SelectArm returns an unmasked arm index per the owning Kind's rule. It
// panics if every arm is masked -- callers are expected to always leave at
// least one arm selectable, since select_arm has no valid answer otherwise.
func (s *Strategy) SelectArm(mask []bool) int {
	s.t++
	switch s.kind {
	case Uniform:
		return s.selectUniform(mask)
	case UCB1:
		return s.selectUCB1(mask)
	case KLUCB:
		return s.selectKLUCB(mask)
	case Thompson:
		return s.selectThompson(mask)
	case ADWINThompson:
		return s.selectADWINThompson(mask)
	case DiscountedThompson:
		return s.selectDiscountedThompson(mask)
	case DiscountedBoltzmann:
		return s.selectDiscountedBoltzmann(mask)
	case EXP3IX:
		return s.selectEXP3IX(mask)
	case EXP3PP:
		return s.selectEXP3PP(mask)
	default:
		panic("bandit: unknown kind")
	}
}

func (s *Strategy) selectUniform(mask []bool) int {
	idx := s.unmaskedIndices(mask)
	if len(idx) == 0 {
		panic("bandit: all arms masked")
	}
	return idx[s.rngSrc.UniformU32(uint32(len(idx)))]
}

func (s *Strategy) selectUCB1(mask []bool) int {
	idx := s.unmaskedIndices(mask)
	if len(idx) == 0 {
		panic("bandit: all arms masked")
	}
	for _, i := range idx {
		if s.arms[i].numSelected == 0 {
			return i
		}
	}
	best := idx[0]
	bestVal := math.Inf(-1)
	for _, i := range idx {
		a := &s.arms[i]
		bound := a.sampleMean + math.Sqrt(2*math.Log(float64(s.t))/float64(a.numSelected))
		if bound > bestVal {
			bestVal = bound
			best = i
		}
	}
	return best
}

func (s *Strategy) selectKLUCB(mask []bool) int {
	idx := s.unmaskedIndices(mask)
	if len(idx) == 0 {
		panic("bandit: all arms masked")
	}
	for _, i := range idx {
		if s.arms[i].numSelected == 0 {
			return i
		}
	}
	best := idx[0]
	bestVal := math.Inf(-1)
	for _, i := range idx {
		a := &s.arms[i]
		q := klUCBUpperBound(a.sampleMean, float64(a.numSelected), float64(s.t), s.cfg.KLUCBDelta, s.cfg.KLUCBEps)
		if q > bestVal {
			bestVal = q
			best = i
		}
	}
	return best
}

func (s *Strategy) selectThompson(mask []bool) int {
	idx := s.unmaskedIndices(mask)
	if len(idx) == 0 {
		panic("bandit: all arms masked")
	}
	best := idx[0]
	bestVal := math.Inf(-1)
	for _, i := range idx {
		a := &s.arms[i]
		failures := float64(a.numSelected) - a.totalRewards
		if failures < 0 {
			failures = 0
		}
		sample := s.rngSrc.Beta(a.totalRewards+1, failures+1)
		if sample > bestVal {
			bestVal = sample
			best = i
		}
	}
	return best
}

func (s *Strategy) selectADWINThompson(mask []bool) int {
	idx := s.unmaskedIndices(mask)
	if len(idx) == 0 {
		panic("bandit: all arms masked")
	}
	best := idx[0]
	bestVal := math.Inf(-1)
	for _, i := range idx {
		w := s.arms[i].window
		successes := w.Sum()
		failures := float64(w.Size()) - successes
		if failures < 0 {
			failures = 0
		}
		sample := s.rngSrc.Beta(successes+1, failures+1)
		if sample > bestVal {
			bestVal = sample
			best = i
		}
	}
	return best
}

func (s *Strategy) selectDiscountedThompson(mask []bool) int {
	idx := s.unmaskedIndices(mask)
	if len(idx) == 0 {
		panic("bandit: all arms masked")
	}
	best := idx[0]
	bestVal := math.Inf(-1)
	for _, i := range idx {
		a := &s.arms[i]
		sample := s.rngSrc.Beta(a.disRewards+1, a.disLosses+1)
		if sample > bestVal {
			bestVal = sample
			best = i
		}
	}
	return best
}

func (s *Strategy) selectDiscountedBoltzmann(mask []bool) int {
	idx := s.unmaskedIndices(mask)
	if len(idx) == 0 {
		panic("bandit: all arms masked")
	}
	beta := 4 + 2*float64(len(idx))
	maxMu := 1e-9
	for _, i := range idx {
		a := &s.arms[i]
		if a.disNumSelected > 0 {
			if mu := a.disRewards / a.disNumSelected; mu > maxMu {
				maxMu = mu
			}
		}
	}
	weights := make([]float64, len(idx))
	blewUp := false
	for j, i := range idx {
		a := &s.arms[i]
		mu := 0.0
		if a.disNumSelected > 0 {
			mu = a.disRewards / a.disNumSelected
		}
		w := math.Exp2(beta * mu / (2 * maxMu))
		if math.IsInf(w, 1) || math.IsNaN(w) {
			blewUp = true
		}
		weights[j] = w
	}
	if blewUp {
		s.initArms()
		for j := range weights {
			weights[j] = 1
		}
	}
	return idx[weightedChoice(s.rngSrc, weights)]
}

func (s *Strategy) selectEXP3IX(mask []bool) int {
	idx := s.unmaskedIndices(mask)
	if len(idx) == 0 {
		panic("bandit: all arms masked")
	}
	weights := make([]float64, len(idx))
	for j, i := range idx {
		weights[j] = s.arms[i].weight
	}
	return idx[weightedChoice(s.rngSrc, weights)]
}

func (s *Strategy) selectEXP3PP(mask []bool) int {
	idx := s.unmaskedIndices(mask)
	if len(idx) == 0 {
		panic("bandit: all arms masked")
	}
	for _, i := range idx {
		if s.arms[i].numSelected == 0 {
			return i
		}
	}
	k := len(idx)
	epsilons := make([]float64, len(idx))
	sumEps := 0.0
	for j, i := range idx {
		delta := s.gapEstimate(i, idx)
		xi := s.cfg.ExpBeta * math.Log(float64(s.t)) / (float64(s.t) * delta * delta)
		eps := math.Min(0.5/float64(k), math.Min(0.5*math.Sqrt(math.Log(float64(k))/(float64(s.t)*float64(k))), xi))
		if eps < 0 {
			eps = 0
		}
		epsilons[j] = eps
		sumEps += eps
	}
	if sumEps > 1 {
		sumEps = 1
	}
	trusts := make([]float64, len(idx))
	for j, i := range idx {
		trusts[j] = (1-sumEps)*s.arms[i].weight + epsilons[j]
	}
	return idx[weightedChoice(s.rngSrc, trusts)]
}

// gapEstimate returns Δ̂_a, the estimated gap between arm i and the best
// other arm, via an LCB(i)/UCB(others) comparison -- the building block
// EXP3++ uses for its per-arm exploration floor ξ_a.
func (s *Strategy) gapEstimate(i int, idx []int) float64 {
	a := &s.arms[i]
	if a.numSelected == 0 {
		return 1.0
	}
	radA := math.Sqrt(math.Log(float64(s.t)) / (2 * float64(a.numSelected)))
	lcbA := a.sampleMean - radA
	bestUCB := math.Inf(-1)
	for _, j := range idx {
		if j == i {
			continue
		}
		b := &s.arms[j]
		if b.numSelected == 0 {
			return 1.0
		}
		radB := math.Sqrt(math.Log(float64(s.t)) / (2 * float64(b.numSelected)))
		if ucb := b.sampleMean + radB; ucb > bestUCB {
			bestUCB = ucb
		}
	}
	gap := bestUCB - lcbA
	if gap < 1e-6 {
		gap = 1e-6
	}
	return gap
}

// weightedChoice samples an index from [0,len(weights)) proportional to
// weight, falling back to a uniform draw if every weight is non-positive.
func weightedChoice(r *rng.Source, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return int(r.UniformU32(uint32(len(weights))))
	}
	target := r.UniformReal() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target < acc {
			return i
		}
	}
	return len(weights) - 1
}

// AddReward updates the chosen arm's statistics for reward in [0,1].
func (s *Strategy) AddReward(armIdx int, reward float64) {
	a := &s.arms[armIdx]
	switch s.kind {
	case Uniform, UCB1, KLUCB:
		a.numSelected++
		a.totalRewards += reward
		a.sampleMean = a.totalRewards / float64(a.numSelected)
	case Thompson:
		a.numSelected++
		a.totalRewards += reward
	case ADWINThompson:
		a.window.Insert(reward)
	case DiscountedThompson:
		a.disRewards += reward
		a.disLosses += 1 - reward
		s.decayAll(s.cfg.DTSGamma, dtsFields)
	case DiscountedBoltzmann:
		a.disRewards += reward
		a.disNumSelected++
		s.decayAll(s.cfg.DBEGamma, dbeFields)
	case EXP3IX:
		eta, gamma := exp3ixEta(len(s.arms), s.t)
		s.updateEXP3Weights(armIdx, reward, eta, gamma)
	case EXP3PP:
		a.numSelected++
		a.totalRewards += reward
		a.sampleMean = a.totalRewards / float64(a.numSelected)
		eta, gamma := exp3ppEta(len(s.arms), s.t)
		s.updateEXP3Weights(armIdx, reward, eta, gamma)
	}
}

type decayTarget int

const (
	dtsFields decayTarget = iota
	dbeFields
)

func (s *Strategy) decayAll(gamma float64, which decayTarget) {
	for i := range s.arms {
		switch which {
		case dtsFields:
			s.arms[i].disRewards *= gamma
			s.arms[i].disLosses *= gamma
		case dbeFields:
			s.arms[i].disRewards *= gamma
			s.arms[i].disNumSelected *= gamma
		}
	}
}

func exp3ixEta(k, t int) (eta, gamma float64) {
	eta = math.Sqrt(2 * math.Log(float64(k)) / (float64(k) * float64(t)))
	gamma = eta / 2
	return
}

func exp3ppEta(k, t int) (eta, gamma float64) {
	eta = math.Sqrt(math.Log(float64(k)) / (float64(k) * float64(t)))
	return eta, 0
}

// updateEXP3Weights implements the shared EXP3-family update for both
// EXP3-IX and EXP3++: the chosen arm's importance-
// weighted loss estimate is accumulated, then every arm's weight is
// recomputed from the cumulative losses via a softmax shifted by the
// minimum cumulative loss, so every exponent is at most 0 and math.Exp
// cannot overflow, and Σ weights stays 1 within floating-point tolerance.
func (s *Strategy) updateEXP3Weights(armIdx int, reward, eta, gamma float64) {
	a := &s.arms[armIdx]
	w := a.weight
	if w+gamma <= 0 {
		w = 1.0 / float64(len(s.arms))
	}
	a.loss += (1 - reward) / (w + gamma)

	minLoss := math.Inf(1)
	for i := range s.arms {
		if s.arms[i].loss < minLoss {
			minLoss = s.arms[i].loss
		}
	}
	raw := make([]float64, len(s.arms))
	sum := 0.0
	const maxExp = 700 // keeps math.Exp well under overflow for float64
	for i := range s.arms {
		x := -eta * (s.arms[i].loss - minLoss)
		if x > maxExp {
			x = maxExp
		}
		raw[i] = math.Exp(x)
		sum += raw[i]
	}
	if sum <= 0 {
		uniform := 1.0 / float64(len(s.arms))
		for i := range s.arms {
			s.arms[i].weight = uniform
		}
		return
	}
	for i := range s.arms {
		s.arms[i].weight = raw[i] / sum
	}
}
