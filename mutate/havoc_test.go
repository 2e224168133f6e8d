package mutate

import (
	"testing"

	"github.com/bradleyjkemp/rarefuzz/bandit"
	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/iface"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

func TestRestoreBufferPreservesProbedMaskAfterStructuralOp(t *testing.T) {
	st := NewState([]byte("seed1234"), 8)
	st.Mask.ClearOverwrite(0)

	originalMask := st.Mask.Clone()
	originalEff := st.Eff
	before := append([]byte{}, st.Buf...)

	// Simulate a structural havoc op (delete) firing mid-iteration: it
	// mutates st.Mask's bits in place via DeleteRange.
	st.DeleteBytes(2, 1)

	restoreBuffer(st, before, originalMask, originalEff)

	if len(st.Buf) != len(before) {
		t.Fatalf("restoreBuffer did not restore buffer length: got %d, want %d", len(st.Buf), len(before))
	}
	if st.Mask.Len() != len(before) {
		t.Fatalf("restored mask length %d does not match restored buffer length %d", st.Mask.Len(), len(before))
	}
	if st.Mask.Overwritable(0) {
		t.Fatalf("restoreBuffer discarded the probed branch mask: position 0 should stay overwrite-unsafe, got overwritable")
	}
}

func TestHavocCallsExecutorAndReportsStats(t *testing.T) {
	exec := &recordingExecutor{}
	st := NewState([]byte("hello world"), 8)
	cfg := config.DefaultConfig()
	cfg.HavocMin = 8
	cfg.HavocCycles = 8

	r := rng.New(7)
	opBandit := bandit.New(bandit.Uniform, cfg.NumOpClasses, r, cfg)
	batchBandit := bandit.New(bandit.Uniform, cfg.NumBatchArms, r, cfg)

	stats, err := Havoc(exec, st, cfg, opBandit, batchBandit, 0, 100, nil, nil, r)
	if err != nil {
		t.Fatalf("Havoc: %v", err)
	}
	if stats.Cycles == 0 {
		t.Fatalf("expected havoc to run at least one cycle")
	}
	if exec.calls == 0 {
		t.Fatalf("expected havoc to call the executor")
	}
	if stats.FinalStageMax < cfg.HavocMin {
		t.Fatalf("FinalStageMax %d below HavocMin %d", stats.FinalStageMax, cfg.HavocMin)
	}
}

func TestHavocEmptyModifiableMaskStillCallsExecutor(t *testing.T) {
	exec := &recordingExecutor{}
	st := NewState([]byte("ab"), 8)
	for i := 0; i < st.Mask.Len(); i++ {
		st.Mask.ClearOverwrite(i)
	}
	cfg := config.DefaultConfig()
	cfg.HavocMin = 4
	cfg.HavocCycles = 4

	r := rng.New(3)
	opBandit := bandit.New(bandit.Uniform, cfg.NumOpClasses, r, cfg)
	batchBandit := bandit.New(bandit.Uniform, cfg.NumBatchArms, r, cfg)

	_, err := Havoc(exec, st, cfg, opBandit, batchBandit, 0, 100, nil, nil, r)
	if err != nil {
		t.Fatalf("Havoc: %v", err)
	}
	if exec.calls == 0 {
		t.Fatalf("Executor must still be called even when every fine-grained op is skipped")
	}
}

// rewardOnceExecutor reports a QueuedPaths increase on its first call only,
// used to confirm stage_max doubles after a rewarded iteration.
type rewardOnceExecutor struct {
	calls    int
	rewardAt int
}

func (e *rewardOnceExecutor) Run(buf []byte) (iface.RunResult, error) {
	q := 0
	if e.calls == e.rewardAt {
		q = 1
	}
	e.calls++
	return iface.RunResult{Status: iface.StatusOK, QueuedPaths: q}, nil
}
func (e *rewardOnceExecutor) TraceContains(edge int) bool { return false }
func (e *rewardOnceExecutor) ExecChecksum() uint64        { return 0 }

func TestApplyOpInterestBEStoresBigEndian(t *testing.T) {
	cfg := config.DefaultConfig()
	r := rng.New(1)

	st16 := NewState([]byte{0, 0, 0, 0}, 8)
	res := applyOp(r, cfg, st16, OpSetInterest16BE, nil, nil)
	if !res.applied {
		t.Fatalf("OpSetInterest16BE: expected an applied mutation")
	}
	got16 := loadBE(st16.Buf, 0, 2)
	found16 := false
	for _, iv := range config.Interesting16 {
		if int16(got16) == iv {
			found16 = true
		}
	}
	if !found16 {
		t.Fatalf("OpSetInterest16BE wrote %d, not a big-endian decode of any Interesting16 value", got16)
	}

	st32 := NewState([]byte{0, 0, 0, 0}, 8)
	res = applyOp(r, cfg, st32, OpSetInterest32BE, nil, nil)
	if !res.applied {
		t.Fatalf("OpSetInterest32BE: expected an applied mutation")
	}
	got32 := loadBE(st32.Buf, 0, 4)
	found32 := false
	for _, iv := range config.Interesting32 {
		if int32(got32) == iv {
			found32 = true
		}
	}
	if !found32 {
		t.Fatalf("OpSetInterest32BE wrote %d, not a big-endian decode of any Interesting32 value", got32)
	}
}

func TestApplyOpDictArmsDrawFromSeparateSources(t *testing.T) {
	cfg := config.DefaultConfig()
	r := rng.New(2)
	userDict := [][]byte{[]byte("USER")}
	autoDict := NewAutoDict(cfg.MinAutoExtra, cfg.MaxAutoExtra, cfg.MaxDictFile)
	autoDict.Add([]byte("AUTOTOKN"), nil)

	stUser := NewState([]byte("xxxxxxxx"), 8)
	if res := applyOp(r, cfg, stUser, OpDictOverwriteExtra, userDict, nil); !res.applied {
		t.Fatalf("OpDictOverwriteExtra should apply given only a user dict")
	}
	if res := applyOp(r, cfg, stUser, OpDictOverwriteAutoExtra, userDict, nil); res.applied {
		t.Fatalf("OpDictOverwriteAutoExtra must not apply with no auto-dict tokens")
	}

	stAuto := NewState([]byte("xxxxxxxx"), 8)
	if res := applyOp(r, cfg, stAuto, OpDictOverwriteAutoExtra, nil, autoDict); !res.applied {
		t.Fatalf("OpDictOverwriteAutoExtra should apply given only an auto-dict")
	}
	if res := applyOp(r, cfg, stAuto, OpDictOverwriteExtra, nil, autoDict); res.applied {
		t.Fatalf("OpDictOverwriteExtra must not apply with no user-dict tokens")
	}
}

func TestHavocBatchSizeIsPowerOfTwoUpTo128(t *testing.T) {
	exec := &recordingExecutor{}
	st := NewState([]byte("0123456789abcdef0123456789abcdef"), 8)
	cfg := config.DefaultConfig()
	cfg.HavocMin = 64
	cfg.HavocCycles = 64

	r := rng.New(5)
	opBandit := bandit.New(bandit.Uniform, cfg.NumOpClasses, r, cfg)
	batchBandit := bandit.New(bandit.Uniform, cfg.NumBatchArms, r, cfg)

	if _, err := Havoc(exec, st, cfg, opBandit, batchBandit, 0, 100, nil, nil, r); err != nil {
		t.Fatalf("Havoc: %v", err)
	}

	seenAbove8 := false
	for i := 0; i < cfg.NumBatchArms; i++ {
		size := 1 << uint(i)
		if size > 8 {
			seenAbove8 = true
		}
		if size > 128 {
			t.Fatalf("arm %d implies batch size %d, exceeds the spec's 1..128 range", i, size)
		}
	}
	if !seenAbove8 {
		t.Fatalf("expected the batch-arm range to extend past 8 (power-of-two sizing), got only up to %d", 1<<uint(cfg.NumBatchArms-1))
	}
	if got := 1 << uint(cfg.NumBatchArms-1); got != 128 {
		t.Fatalf("NumBatchArms=%d should reach exactly 128 under power-of-two sizing, got %d", cfg.NumBatchArms, got)
	}
}

func TestHavocRewardDoublesStageMax(t *testing.T) {
	findOnFirst := &rewardOnceExecutor{rewardAt: 0}
	st := NewState([]byte("seed-data-0123456789"), 8)
	cfg := config.DefaultConfig()
	cfg.HavocMin = 2
	cfg.HavocCycles = 2
	cfg.HavocMaxMult = 1000

	r := rng.New(11)
	opBandit := bandit.New(bandit.Uniform, cfg.NumOpClasses, r, cfg)
	batchBandit := bandit.New(bandit.Uniform, cfg.NumBatchArms, r, cfg)

	stats, err := Havoc(findOnFirst, st, cfg, opBandit, batchBandit, 0, 100, nil, nil, r)
	if err != nil {
		t.Fatalf("Havoc: %v", err)
	}
	if stats.FinalStageMax != 2*cfg.HavocMin {
		t.Fatalf("expected stage_max to double from %d to %d after one reward, got %d", cfg.HavocMin, 2*cfg.HavocMin, stats.FinalStageMax)
	}
}
