package mutate

import (
	"testing"

	"github.com/bradleyjkemp/rarefuzz/branch"
	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/iface"
)

// recordingExecutor counts calls and reports OK for every run, letting
// stage tests check round-trip behavior without depending on real
// coverage semantics.
type recordingExecutor struct {
	calls int
	runs  [][]byte
}

func (r *recordingExecutor) Run(buf []byte) (iface.RunResult, error) {
	r.calls++
	r.runs = append(r.runs, append([]byte{}, buf...))
	return iface.RunResult{Status: iface.StatusOK}, nil
}
func (r *recordingExecutor) TraceContains(edge int) bool { return false }
func (r *recordingExecutor) ExecChecksum() uint64        { return 0 }

func TestFlipSubByteRestoresBuffer(t *testing.T) {
	exec := &recordingExecutor{}
	st := NewState([]byte{0x00, 0xff, 0x55}, 8)
	before := append([]byte{}, st.Buf...)

	cfg := config.DefaultConfig()
	autoDict := NewAutoDict(cfg.MinAutoExtra, cfg.MaxAutoExtra, cfg.MaxDictFile)
	if _, err := FlipSubByte(exec, st, cfg, 1, 0, autoDict, nil); err != nil {
		t.Fatalf("FlipSubByte: %v", err)
	}
	if string(st.Buf) != string(before) {
		t.Fatalf("buffer not restored after flip1: got %v, want %v", st.Buf, before)
	}
	if exec.calls == 0 {
		t.Fatalf("expected at least one executor call")
	}
}

func TestFlipBytesSkipsWhenNotOverwriteSafe(t *testing.T) {
	exec := &recordingExecutor{}
	st := NewState([]byte{1, 2, 3, 4}, 8)
	st.Mask.ClearOverwrite(0)

	stats, err := FlipBytes(exec, st, 0, 1, true, 0)
	if err != nil {
		t.Fatalf("FlipBytes: %v", err)
	}
	if stats.Skipped == 0 {
		t.Fatalf("expected position 0 to be skipped under rare-branch mode")
	}
}

func TestArithSkipsBitflipReachableDelta(t *testing.T) {
	exec := &recordingExecutor{}
	st := NewState([]byte{0}, 8)
	st.Mask = branch.NewDefaultMask(1)
	cfg := config.DefaultConfig()

	stats, err := Arith(exec, st, cfg, 1, 0, false)
	if err != nil {
		t.Fatalf("Arith: %v", err)
	}
	// +1 on value 0 produces 1, which CouldBeBitflip already reaches:
	// it must be skipped, not executed.
	if stats.Skipped == 0 {
		t.Fatalf("expected at least one skip for a bitflip-reachable delta")
	}
}

func TestInterestBoundaryLength1SkipsWideStages(t *testing.T) {
	exec := &recordingExecutor{}
	st := NewState([]byte{0x42}, 8)
	cfg := config.DefaultConfig()
	tabs := InterestingTables{I8: config.Interesting8, I16: config.Interesting16, I32: config.Interesting32}

	if len(st.Buf) >= 2 {
		t.Fatalf("test setup invalid")
	}
	stats, err := Interest(exec, st, cfg, 1, 0, false, tabs, widenI8(tabs.I8))
	if err != nil {
		t.Fatalf("Interest: %v", err)
	}
	if stats.Cycles == 0 {
		t.Fatalf("interest8 should still run on a length-1 buffer")
	}
}

func widenI8(in []int8) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func TestAutoDictQualityGate(t *testing.T) {
	d := NewAutoDict(2, 8, 4)
	d.Add([]byte{0xAA, 0xAA, 0xAA}, nil) // degenerate, rejected
	if d.Len() != 0 {
		t.Fatalf("degenerate token should be rejected")
	}
	d.Add([]byte{0x01, 0x02, 0x03}, nil)
	if d.Len() != 1 {
		t.Fatalf("valid token should be accepted")
	}
	d.Add([]byte{0x01, 0x02, 0x03}, nil) // duplicate
	if d.Len() != 1 {
		t.Fatalf("duplicate token should not grow the dictionary")
	}
	d.Add([]byte{0xAB}, [][]byte{{0xAB}}) // already in user dict
	if d.Len() != 1 {
		t.Fatalf("token already in user dictionary should be rejected")
	}
}
