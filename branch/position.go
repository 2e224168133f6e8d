package branch

import "github.com/bradleyjkemp/rarefuzz/rng"

// Position is an explicit absent-value result type, in place of the
// original source's 0xFFFFFFFF sentinel: Valid is false exactly when no
// candidate position exists.
type Position struct {
	Offset    int
	BitOffset int // nonzero only for sub-byte modifications (sizeBits < 8)
	Valid     bool
}

// NoPosition is the canonical invalid Position.
var NoPosition = Position{}

// predicate selects which mask bit a position must carry to qualify.
type predicate func(*Mask, int) bool

// Overwritable and Deletable adapt Mask's bit checks to the predicate
// shape ModifiablePosition expects.
func Overwritable(m *Mask, i int) bool { return m.Overwritable(i) }
func Deletable(m *Mask, i int) bool    { return m.Deletable(i) }

// ModifiablePosition is the branch-mask-aware position-pool helper: it
// scans mask for maximal runs ("1-blocks") of positions satisfying
// which, of length at least ceil(sizeBits/8), and returns a uniformly
// random offer among all valid starting offsets across every block. For
// sizeBits < 8 it instead offers any single qualifying byte plus a
// uniform random bit offset within it. Returns NoPosition if nothing
// qualifies.
func ModifiablePosition(mask *Mask, which predicate, sizeBits int, rngSrc *rng.Source) Position {
	n := mask.Len()

	if sizeBits < 8 {
		var offers []int
		for i := 0; i < n; i++ {
			if which(mask, i) {
				offers = append(offers, i)
			}
		}
		if len(offers) == 0 {
			return NoPosition
		}
		off := offers[rngSrc.UniformU32(uint32(len(offers)))]
		return Position{Offset: off, BitOffset: int(rngSrc.UniformU32(8)), Valid: true}
	}

	sizeBytes := (sizeBits + 7) / 8
	var offers []int
	runStart := -1
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		for s := runStart; s+sizeBytes <= end; s++ {
			offers = append(offers, s)
		}
		runStart = -1
	}
	for i := 0; i < n; i++ {
		if which(mask, i) {
			if runStart < 0 {
				runStart = i
			}
		} else {
			flush(i)
		}
	}
	flush(n)

	if len(offers) == 0 {
		return NoPosition
	}
	off := offers[rngSrc.UniformU32(uint32(len(offers)))]
	return Position{Offset: off, Valid: true}
}

// InsertPosition scans positions 0..=len(mask) where BitInsert is set and
// returns a uniformly random one, or NoPosition if none qualify.
func InsertPosition(mask *Mask, rngSrc *rng.Source) Position {
	n := mask.Len()
	var offers []int
	for i := 0; i <= n; i++ {
		if mask.Insertable(i) {
			offers = append(offers, i)
		}
	}
	if len(offers) == 0 {
		return NoPosition
	}
	return Position{Offset: offers[rngSrc.UniformU32(uint32(len(offers)))], Valid: true}
}
