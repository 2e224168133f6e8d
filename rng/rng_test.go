package rng

import "testing"

func TestUniformU32Range(t *testing.T) {
	s := New(1)
	for i := 0; i < 10000; i++ {
		v := s.UniformU32(7)
		if v >= 7 {
			t.Fatalf("UniformU32(7) returned %d, want < 7", v)
		}
	}
}

func TestUniformRealRange(t *testing.T) {
	s := New(2)
	for i := 0; i < 10000; i++ {
		v := s.UniformReal()
		if v < 0 || v >= 1 {
			t.Fatalf("UniformReal() = %v, want in [0,1)", v)
		}
	}
}

func TestBetaMean(t *testing.T) {
	s := New(3)
	const a, b = 2.0, 8.0
	wantMean := a / (a + b)
	var sum float64
	const n = 20000
	for i := 0; i < n; i++ {
		v := s.Beta(a, b)
		if v < 0 || v > 1 {
			t.Fatalf("Beta(%v,%v) = %v, want in [0,1]", a, b, v)
		}
		sum += v
	}
	mean := sum / n
	if diff := mean - wantMean; diff > 0.02 || diff < -0.02 {
		t.Fatalf("Beta(%v,%v) empirical mean = %v, want near %v", a, b, mean, wantMean)
	}
}

func TestDeterministicWithFixedSeed(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 100; i++ {
		va := a.UniformU32(1000)
		vb := b.UniformU32(1000)
		if va != vb {
			t.Fatalf("same seed diverged at %d: %d != %d", i, va, vb)
		}
	}
}
