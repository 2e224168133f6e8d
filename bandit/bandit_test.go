package bandit

import (
	"math"
	"testing"

	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

func TestUniformSanity(t *testing.T) {
	s := New(Uniform, 3, rng.New(1), config.DefaultConfig())
	counts := make([]int, 3)
	const n = 30000
	for i := 0; i < n; i++ {
		a := s.SelectArm(nil)
		counts[a]++
		s.AddReward(a, 0)
	}
	// Binomial(30000, 1/3): sigma ~= 81.6, so 3 sigma ~= 245.
	want := n / 3
	for i, c := range counts {
		if diff := c - want; diff > 260 || diff < -260 {
			t.Fatalf("arm %d selected %d times, want within 260 of %d", i, c, want)
		}
	}
}

func TestUCB1Bias(t *testing.T) {
	s := New(UCB1, 2, rng.New(2), config.DefaultConfig())
	r := rng.New(99)
	means := []float64{0.2, 0.8}
	counts := make([]int, 2)
	const n = 10000
	for i := 0; i < n; i++ {
		a := s.SelectArm(nil)
		counts[a]++
		reward := 0.0
		if r.UniformReal() < means[a] {
			reward = 1.0
		}
		s.AddReward(a, reward)
	}
	if counts[1] <= 8000 {
		t.Fatalf("arm 1 (true mean 0.8) selected %d times, want > 8000", counts[1])
	}
}

func TestMaskNeverSelected(t *testing.T) {
	kinds := []Kind{Uniform, UCB1, KLUCB, Thompson, ADWINThompson, DiscountedThompson, DiscountedBoltzmann, EXP3IX, EXP3PP}
	for _, k := range kinds {
		k := k
		t.Run(k.String(), func(t *testing.T) {
			s := New(k, 4, rng.New(7), config.DefaultConfig())
			mask := []bool{false, true, true, false}
			for i := 0; i < 500; i++ {
				a := s.SelectArm(mask)
				if mask[a] {
					t.Fatalf("%v: SelectArm returned masked arm %d at iter %d", k, a, i)
				}
				s.AddReward(a, 0.5)
			}
		})
	}
}

func TestEXP3WeightsSumToOne(t *testing.T) {
	for _, k := range []Kind{EXP3IX, EXP3PP} {
		k := k
		t.Run(k.String(), func(t *testing.T) {
			s := New(k, 5, rng.New(11), config.DefaultConfig())
			for i := 0; i < 1000; i++ {
				a := s.SelectArm(nil)
				reward := 0.0
				if a == 2 {
					reward = 1.0
				}
				s.AddReward(a, reward)
				sum := 0.0
				for _, arm := range s.arms {
					sum += arm.weight
				}
				if math.Abs(sum-1) > 1e-6 {
					t.Fatalf("%v: weights sum to %v after add_reward, want ~1", k, sum)
				}
			}
		})
	}
}

func TestKLUCBRootFindingStability(t *testing.T) {
	cfg := config.DefaultConfig()
	q := klUCBUpperBound(0.5, 100, 1000, cfg.KLUCBDelta, cfg.KLUCBEps)
	if q <= 0.5 || q >= 1 {
		t.Fatalf("klUCBUpperBound(0.5, 100, 1000) = %v, want in (0.5, 1)", q)
	}
}

func TestADWINThompsonUsesWindow(t *testing.T) {
	s := New(ADWINThompson, 2, rng.New(5), config.DefaultConfig())
	for i := 0; i < 200; i++ {
		a := s.SelectArm(nil)
		reward := 0.0
		if a == 0 {
			reward = 1.0
		}
		s.AddReward(a, reward)
	}
	if s.arms[0].window.Size() == 0 {
		t.Fatalf("ADWIN-TS arm 0's window never received observations")
	}
}

func TestBatchBucketsConditionBySize(t *testing.T) {
	cfg := config.DefaultConfig()
	bb := NewBatchBuckets(cfg, rng.New(3), UCB1, Uniform)
	smallOp, smallBatch := bb.For(cfg, 10)
	largeOp, largeBatch := bb.For(cfg, 200000)
	if smallOp == largeOp || smallBatch == largeBatch {
		t.Fatalf("size classes 10 and 200000 should not share a bandit pair")
	}
}
