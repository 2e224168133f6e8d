package mutate

import "github.com/bradleyjkemp/rarefuzz/branch"

// State is the single owned aggregate a fuzzing pass mutates in place:
// the working buffer, its branch mask (the all-safe default outside
// rare-branch mode), and its effector map travel together so growth
// operations can reallocate all three atomically instead of keeping them
// independently and risking them drifting out of sync.
type State struct {
	Buf       []byte
	Mask      *branch.Mask // all-safe default when not targeting a rare edge
	Eff       *branch.EffectorMap
	chunkSize int
}

// NewState allocates a State for buf in vanilla (non-rare-branch) mode: a
// default all-safe mask and a fresh effector map.
func NewState(buf []byte, chunkSize int) *State {
	data := append([]byte{}, buf...)
	if chunkSize <= 0 {
		chunkSize = 8
	}
	return &State{
		Buf:       data,
		Mask:      branch.NewDefaultMask(len(data)),
		Eff:       branch.NewEffectorMap(len(data), chunkSize),
		chunkSize: chunkSize,
	}
}

// eligibleOverwrite reports whether pos may be overwritten: always, in
// vanilla mode (subject only to the effector map); and additionally
// subject to the branch mask's overwrite bit in rare-branch mode.
func (st *State) eligibleOverwrite(pos int, bypassEffector bool) bool {
	if !bypassEffector && !st.Eff.IsEffective(pos) {
		return false
	}
	if st.Mask != nil && !st.Mask.Overwritable(pos) {
		return false
	}
	return true
}

// eligibleRange reports whether every position in [pos, pos+n) may be
// overwritten: each must be effector-marked (unless bypassEffector) and,
// in rare-branch mode, overwrite-safe per the branch mask.
func (st *State) eligibleRange(pos, n int, bypassEffector bool) bool {
	for i := pos; i < pos+n; i++ {
		if !bypassEffector && !st.Eff.IsEffective(i) {
			return false
		}
		if st.Mask != nil && !st.Mask.Overwritable(i) {
			return false
		}
	}
	return true
}

// InsertBytes grows Buf and Mask together at pos and replaces Eff with a
// fresh map sized to the new length, in which no chunk is marked effective.
func (st *State) InsertBytes(pos int, extra []byte) {
	grown := make([]byte, 0, len(st.Buf)+len(extra))
	grown = append(grown, st.Buf[:pos]...)
	grown = append(grown, extra...)
	grown = append(grown, st.Buf[pos:]...)
	st.Buf = grown
	if st.Mask != nil {
		st.Mask.InsertRange(pos, len(extra))
	}
	st.Eff = branch.NewEffectorMap(len(st.Buf), st.chunkSize)
}

// DeleteBytes shrinks Buf and Mask together at pos and replaces Eff with a
// fresh map sized to the new length, in which no chunk is marked effective.
func (st *State) DeleteBytes(pos, n int) {
	shrunk := make([]byte, 0, len(st.Buf)-n)
	shrunk = append(shrunk, st.Buf[:pos]...)
	shrunk = append(shrunk, st.Buf[pos+n:]...)
	st.Buf = shrunk
	if st.Mask != nil {
		st.Mask.DeleteRange(pos, n)
	}
	st.Eff = branch.NewEffectorMap(len(st.Buf), st.chunkSize)
}
