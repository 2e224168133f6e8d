// Package rng provides the single seeded random source every randomized
// decision in the core routes through. Grounded on go-fuzz/worker.go's
// mutator, which embeds *rand.Rand directly; no third-party RNG appears
// anywhere in the corpus this module draws on.
package rng

import (
	"math"
	"math/rand"
)

// Source is a thin wrapper over math/rand.Rand adding Beta sampling,
// which the standard library does not provide.
type Source struct {
	r *rand.Rand
}

// New returns a Source seeded deterministically; the same seed reproduces
// the entire decision trace.
func New(seed int64) *Source {
	return &Source{r: rand.New(rand.NewSource(seed))}
}

// UniformU32 returns a value in [0, n). Panics if n == 0, matching
// math/rand's own Int63n contract.
func (s *Source) UniformU32(n uint32) uint32 {
	if n == 0 {
		panic("rng: UniformU32 with n == 0")
	}
	return uint32(s.r.Int63n(int64(n)))
}

// UniformReal returns a value in [0, 1).
func (s *Source) UniformReal() float64 {
	return s.r.Float64()
}

// Bool returns a fair coin flip, grounded on go-fuzz's repeated
// `rand.Intn(2) == 0` idiom.
func (s *Source) Bool() bool {
	return s.r.Int63n(2) == 0
}

// Intn is a convenience passthrough used where a plain bounded int is
// more natural than UniformU32's uint32 signature.
func (s *Source) Intn(n int) int {
	return s.r.Intn(n)
}

// Beta samples from a Beta(a, b) distribution via two independent Gamma
// draws: X ~ Gamma(a,1), Y ~ Gamma(b,1), X/(X+Y) ~ Beta(a,b). Neither
// math/rand nor any pack dependency exposes Beta directly, so this
// implements the standard Marsaglia-Tsang gamma sampler.
func (s *Source) Beta(a, b float64) float64 {
	x := s.gamma(a)
	y := s.gamma(b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gamma draws from Gamma(shape, 1) using Marsaglia & Tsang's method
// ("A Simple Method for Generating Gamma Variables", 2000). For
// shape < 1 it boosts via Gamma(shape+1,1)*U^(1/shape).
func (s *Source) gamma(shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := s.r.Float64()
		return s.gamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = s.r.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := s.r.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
