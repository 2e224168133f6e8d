package branch

import (
	"bytes"
	"testing"

	"github.com/bradleyjkemp/rarefuzz/iface"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

const targetEdge = 1

// fakeExecutor treats edge `targetEdge` as hit iff input[3] == 'X'.
type fakeExecutor struct {
	last []byte
}

func (f *fakeExecutor) Run(buf []byte) (iface.RunResult, error) {
	f.last = append([]byte{}, buf...)
	return iface.RunResult{Status: iface.StatusOK}, nil
}

func (f *fakeExecutor) TraceContains(edge int) bool {
	if edge != targetEdge {
		return false
	}
	return len(f.last) > 3 && f.last[3] == 'X'
}

func (f *fakeExecutor) ExecChecksum() uint64 {
	var sum uint64
	for _, b := range f.last {
		sum = sum*131 + uint64(b)
	}
	return sum
}

func TestBranchMaskConstantProgram(t *testing.T) {
	exec := &fakeExecutor{}
	buf := []byte("AAAXA")
	// Flip position 3 in the live input to 'X' only when probing bit 0;
	// BuildMask's own overwrite sweep writes 0xFF everywhere though, so
	// instead drive the exec behavior off a buffer that already has 'X'
	// at position 3 and see that overwriting it with 0xFF clears the bit.
	mask, found, err := BuildMask(exec, buf, targetEdge, rng.New(1))
	if err != nil {
		t.Fatalf("BuildMask: %v", err)
	}
	if !found {
		t.Fatalf("expected an overwrite-safe position to be found")
	}
	if mask.Overwritable(3) {
		t.Fatalf("position 3 (the 'X') should lose bit 0 when overwritten with 0xFF")
	}
	for i := 0; i < len(buf); i++ {
		if i == 3 {
			continue
		}
		if !mask.Overwritable(i) {
			t.Fatalf("position %d should remain overwrite-safe", i)
		}
	}
}

func TestMaskGrowthInvariant(t *testing.T) {
	m := NewDefaultMask(5)
	m.InsertRange(2, 3)
	if m.Len() != 8 {
		t.Fatalf("Len() after insert = %d, want 8", m.Len())
	}
	for i := 2; i < 5; i++ {
		if m.bits[i] != (BitOverwrite | BitDelete | BitInsert) {
			t.Fatalf("newly grown position %d = %b, want all bits set", i, m.bits[i])
		}
	}
}

func TestMaskCloneIsIndependent(t *testing.T) {
	m := NewDefaultMask(4)
	m.ClearOverwrite(1)
	clone := m.Clone()

	m.InsertRange(0, 2)
	if clone.Len() != 4 {
		t.Fatalf("clone.Len() = %d after mutating the original, want unaffected 4", clone.Len())
	}
	if clone.Overwritable(1) {
		t.Fatalf("clone should retain the cleared overwrite bit at position 1")
	}
}

func TestDefaultMaskTrailingPosition(t *testing.T) {
	m := NewDefaultMask(4)
	if m.Insertable(4) != true || m.Overwritable(4) || m.Deletable(4) {
		t.Fatalf("trailing position should only carry BitInsert")
	}
}

func TestDefaultMaskFullySafe(t *testing.T) {
	m := NewDefaultMask(3)
	for i := 0; i < 3; i++ {
		if !m.Overwritable(i) || !m.Deletable(i) || !m.Insertable(i) {
			t.Fatalf("position %d not fully safe by default", i)
		}
	}
}

func TestModifiablePositionSentinelOnEmptyMask(t *testing.T) {
	m := NewDefaultMask(3)
	for i := 0; i < 3; i++ {
		m.bits[i] = 0
	}
	pos := ModifiablePosition(m, Overwritable, 8, rng.New(1))
	if pos.Valid {
		t.Fatalf("expected NoPosition when no byte is overwrite-safe")
	}
}

func TestInsertPositionFindsTrailingSlot(t *testing.T) {
	m := NewDefaultMask(3)
	for i := 0; i < 3; i++ {
		m.bits[i] &^= BitInsert
	}
	pos := InsertPosition(m, rng.New(1))
	if !pos.Valid || pos.Offset != 3 {
		t.Fatalf("InsertPosition = %+v, want offset 3", pos)
	}
}

type trimExecutor struct {
	want []byte
}

func (t *trimExecutor) Run(buf []byte) (iface.RunResult, error) {
	if bytes.Contains(buf, t.want) {
		return iface.RunResult{Status: iface.StatusOK}, nil
	}
	return iface.RunResult{Status: iface.StatusOK}, nil
}
func (t *trimExecutor) TraceContains(edge int) bool { return edge == targetEdge }
func (t *trimExecutor) ExecChecksum() uint64        { return 0 }

func TestTrimShrinksWithoutError(t *testing.T) {
	exec := &trimExecutor{want: []byte("X")}
	buf := bytes.Repeat([]byte("A"), 64)
	res, err := Trim(exec, buf, targetEdge, 4)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if len(res.Data) > len(buf) {
		t.Fatalf("Trim grew the input: %d > %d", len(res.Data), len(buf))
	}
	if res.TrimExecs == 0 {
		t.Fatalf("Trim reported zero executor calls")
	}
}

func TestRareEdgesStrictlyBelowThreshold(t *testing.T) {
	hb := NewHitBits(16)
	for i := 0; i < 1; i++ {
		hb.Observe(0)
	}
	for i := 0; i < 100; i++ {
		hb.Observe(1)
	}
	sel := NewSelector(hb, 64)
	rare := sel.RarestEdges()
	for _, e := range rare {
		hob := highestSetBit(hb.Count(e))
		if hob >= int(sel.RareBranchExp()) {
			t.Fatalf("edge %d hob=%d not strictly below rare_branch_exp=%d", e, hob, sel.RareBranchExp())
		}
	}
}

func TestSelectTargetEdgeMarksFuzzed(t *testing.T) {
	hb := NewHitBits(8)
	hb.Observe(2)
	sel := NewSelector(hb, 64)
	footprint := []byte{0b00000100} // edge 2 set

	fuzzed := NewFuzzedBitmap()
	first := sel.SelectTargetEdge(footprint, fuzzed)
	if !first.Found || first.Edge != 2 {
		t.Fatalf("SelectTargetEdge = %+v, want edge 2", first)
	}
	second := sel.SelectTargetEdge(footprint, fuzzed)
	if !second.Found || !second.SkipDeterministic {
		t.Fatalf("second SelectTargetEdge = %+v, want SkipDeterministic", second)
	}
}
