package branch

import (
	"github.com/bradleyjkemp/rarefuzz/iface"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

// Bit values for a BranchMask position.
const (
	BitOverwrite byte = 1 << iota
	BitDelete
	BitInsert
)

// Mask is the per-position 3-bit classification: one byte per buffer
// position (plus one sentinel position at len, which only ever carries
// BitInsert) recording which mutation kinds at that position still reach
// the target edge.
type Mask struct {
	bits []byte
}

// NewDefaultMask returns the "no branch targeting" mask: every position
// has all three bits set, except the trailing insert-only position at
// index length.
func NewDefaultMask(length int) *Mask {
	m := &Mask{bits: make([]byte, length+1)}
	for i := 0; i < length; i++ {
		m.bits[i] = BitOverwrite | BitDelete | BitInsert
	}
	m.bits[length] = BitInsert
	return m
}

// Len returns the length of the buffer this mask describes (one less
// than the underlying bit array, per the invariant mask.len() ==
// buffer.len()+1).
func (m *Mask) Len() int { return len(m.bits) - 1 }

// Clone returns an independent copy: InsertRange/DeleteRange mutate bits
// in place, so callers that need to snapshot a mask before a reversible
// structural mutation (havoc's stacked ops) must clone it first.
func (m *Mask) Clone() *Mask {
	bits := make([]byte, len(m.bits))
	copy(bits, m.bits)
	return &Mask{bits: bits}
}

func (m *Mask) Overwritable(i int) bool { return m.bits[i]&BitOverwrite != 0 }
func (m *Mask) Deletable(i int) bool    { return m.bits[i]&BitDelete != 0 }
func (m *Mask) Insertable(i int) bool   { return m.bits[i]&BitInsert != 0 }

// SetOverwrite, SetDelete and SetInsert let callers outside this package
// (notably mutate's flip8 stage, which doubles as part of branch-mask
// population) record a probed-safe bit.
func (m *Mask) SetOverwrite(i int) { m.bits[i] |= BitOverwrite }
func (m *Mask) SetDelete(i int)    { m.bits[i] |= BitDelete }
func (m *Mask) SetInsert(i int)    { m.bits[i] |= BitInsert }

// ClearOverwrite revokes a position's overwrite-safe bit.
func (m *Mask) ClearOverwrite(i int) { m.bits[i] &^= BitOverwrite }

// InsertRange grows the mask by n positions starting at pos, as happens
// when a structural havoc op inserts bytes into the buffer it describes.
// New positions start fully safe (all three bits set).
func (m *Mask) InsertRange(pos, n int) {
	grown := make([]byte, len(m.bits)+n)
	copy(grown, m.bits[:pos])
	for i := 0; i < n; i++ {
		grown[pos+i] = BitOverwrite | BitDelete | BitInsert
	}
	copy(grown[pos+n:], m.bits[pos:])
	m.bits = grown
}

// DeleteRange shrinks the mask by n positions starting at pos, mirroring
// a structural havoc op that deleted bytes from the buffer.
func (m *Mask) DeleteRange(pos, n int) {
	shrunk := make([]byte, 0, len(m.bits)-n)
	shrunk = append(shrunk, m.bits[:pos]...)
	shrunk = append(shrunk, m.bits[pos+n:]...)
	m.bits = shrunk
}

// BuildMask runs three sequential sweeps, probing whether overwriting, deleting, or inserting at each
// position of buf still reaches targetEdge under exec. If the overwrite
// sweep finds zero safe positions, targetEdge is reported unpreservable
// (the caller is expected to blacklist it) and the default, all-safe
// mask is returned so the rest of the pipeline degrades to non-targeted
// fuzzing for this seed.
func BuildMask(exec iface.Executor, buf []byte, targetEdge int, rngSrc *rng.Source) (mask *Mask, overwriteSafeFound bool, err error) {
	mask = &Mask{bits: make([]byte, len(buf)+1)}
	scratch := append([]byte{}, buf...)

	for i := range buf {
		orig := scratch[i]
		scratch[i] = 0xFF
		if _, runErr := exec.Run(scratch); runErr != nil {
			return nil, false, runErr
		}
		if exec.TraceContains(targetEdge) {
			mask.SetOverwrite(i)
			overwriteSafeFound = true
		}
		scratch[i] = orig
	}

	if !overwriteSafeFound {
		return NewDefaultMask(len(buf)), false, nil
	}

	for i := range buf {
		trimmed := make([]byte, 0, len(buf)-1)
		trimmed = append(trimmed, buf[:i]...)
		trimmed = append(trimmed, buf[i+1:]...)
		if _, runErr := exec.Run(trimmed); runErr != nil {
			return nil, false, runErr
		}
		if exec.TraceContains(targetEdge) {
			mask.SetDelete(i)
		}
	}

	for i := 0; i <= len(buf); i++ {
		spliced := make([]byte, 0, len(buf)+1)
		spliced = append(spliced, buf[:i]...)
		spliced = append(spliced, byte(rngSrc.UniformU32(256)))
		spliced = append(spliced, buf[i:]...)
		if _, runErr := exec.Run(spliced); runErr != nil {
			return nil, false, runErr
		}
		if exec.TraceContains(targetEdge) {
			mask.SetInsert(i)
		}
	}

	return mask, true, nil
}
