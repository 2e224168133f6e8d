package fuzzone

import (
	"testing"

	"github.com/bradleyjkemp/rarefuzz/bandit"
	"github.com/bradleyjkemp/rarefuzz/branch"
	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/iface"
	"github.com/bradleyjkemp/rarefuzz/internal/testexec"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

// marker is a byte value a test target keys a conditional edge on, so
// trimming and mutation stages have something real to preserve or break.
const marker = 0xAA

func markerTarget(data []byte, record func(edge int)) int {
	record(0)
	for _, b := range data {
		if b == marker {
			record(5)
		}
	}
	if len(data) > 10 {
		record(1)
	}
	return 0
}

func fastConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.HavocMin = 4
	cfg.HavocCycles = 4
	cfg.SpliceCycles = 2
	return cfg
}

func TestFuzzOneVanillaModeFuzzesToCompletion(t *testing.T) {
	exec := testexec.New(markerTarget, 0)
	cfg := fastConfig()
	rngSrc := rng.New(1)
	env := NewEnv(cfg, 64, bandit.Uniform, bandit.Uniform, rngSrc)
	q := testexec.NewQueue(nil, 1)

	entry := &iface.QueueEntry{Data: []byte{marker, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	fuzzed := branch.NewFuzzedBitmap()

	res, err := FuzzOne(exec, q, entry, cfg, env, fuzzed, nil, true, nil)
	if err != nil {
		t.Fatalf("FuzzOne: %v", err)
	}
	if res.Status != StatusFuzzed {
		t.Fatalf("expected StatusFuzzed in vanilla mode, got %v", res.Status)
	}
	if res.HasTargetEdge {
		t.Fatalf("vanilla mode must not select a target edge")
	}
	if len(res.DeterministicStats) == 0 {
		t.Fatalf("expected deterministic stages to run")
	}
}

func TestFuzzOneStopFuncAbortsImmediately(t *testing.T) {
	exec := testexec.New(markerTarget, 0)
	cfg := fastConfig()
	rngSrc := rng.New(2)
	env := NewEnv(cfg, 64, bandit.Uniform, bandit.Uniform, rngSrc)
	q := testexec.NewQueue(nil, 2)

	entry := &iface.QueueEntry{Data: []byte{1, 2, 3}}
	fuzzed := branch.NewFuzzedBitmap()

	alwaysStop := func() bool { return true }
	res, err := FuzzOne(exec, q, entry, cfg, env, fuzzed, nil, true, alwaysStop)
	if err != nil {
		t.Fatalf("FuzzOne: %v", err)
	}
	if res.Status != StatusRecoverableAbort {
		t.Fatalf("expected StatusRecoverableAbort, got %v", res.Status)
	}
}

func TestFuzzOneRareBranchTargetingRuns(t *testing.T) {
	exec := testexec.New(markerTarget, 0)
	cfg := fastConfig()
	rngSrc := rng.New(3)
	env := NewEnv(cfg, 64, bandit.Uniform, bandit.Uniform, rngSrc)
	env.HitBits.Observe(5) // makes edge 5 qualify as rare (hob=0 < initial exp=32)
	q := testexec.NewQueue(nil, 3)

	// footprint: one byte, bit 5 set, matching edge 5.
	footprint := []byte{1 << 5}
	entry := &iface.QueueEntry{
		Data:      []byte{marker, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
		Footprint: footprint,
	}
	fuzzed := branch.NewFuzzedBitmap()

	res, err := FuzzOne(exec, q, entry, cfg, env, fuzzed, nil, false, nil)
	if err != nil {
		t.Fatalf("FuzzOne: %v", err)
	}
	if res.Status == StatusFatal {
		t.Fatalf("rare-branch-targeted run should not hit a fatal executor error")
	}
	if res.Status == StatusFuzzed && !res.HasTargetEdge {
		t.Fatalf("a fuzzed-to-completion run in non-vanilla mode should report a target edge")
	}
}

func TestFuzzOneNoRareEdgesSkips(t *testing.T) {
	exec := testexec.New(markerTarget, 0)
	cfg := fastConfig()
	rngSrc := rng.New(4)
	env := NewEnv(cfg, 64, bandit.Uniform, bandit.Uniform, rngSrc)
	q := testexec.NewQueue(nil, 4)

	// Empty footprint: no edges set, so RareEdgesHitBy finds nothing.
	entry := &iface.QueueEntry{Data: []byte{1, 2, 3}, Footprint: nil}
	fuzzed := branch.NewFuzzedBitmap()

	res, err := FuzzOne(exec, q, entry, cfg, env, fuzzed, nil, false, nil)
	if err != nil {
		t.Fatalf("FuzzOne: %v", err)
	}
	if res.Status != StatusSkipped {
		t.Fatalf("expected StatusSkipped when no rare edge can be selected, got %v", res.Status)
	}
}
