package branch

import "math/bits"

// Selector is the RareBranchSelector: it tracks a
// moving rarity threshold (rare_branch_exp), an append-only blacklist of
// edges that repeatedly failed to be preserved by any mutation, and
// derives, for a given seed's coverage footprint, a priority-ordered list
// of rare edges to target.
type Selector struct {
	hitBits       *HitBits
	blacklist     map[int]struct{}
	rareBranchExp uint32
	maxRare       int
}

// NewSelector constructs a Selector over a shared HitBits array. The
// initial rare_branch_exp starts wide open (every edge qualifies) since
// nothing has been observed yet; the first RarestEdges call tightens it.
func NewSelector(hitBits *HitBits, maxRare int) *Selector {
	if maxRare <= 0 {
		maxRare = 64
	}
	return &Selector{
		hitBits:       hitBits,
		blacklist:     make(map[int]struct{}),
		rareBranchExp: 32,
		maxRare:       maxRare,
	}
}

// Blacklist marks edge as repeatedly unpreservable; it is excluded from
// all future RarestEdges results. Growth is append-only, so concurrent
// readers never observe a shrinking blacklist.
func (s *Selector) Blacklist(edge int) {
	s.blacklist[edge] = struct{}{}
}

// IsBlacklisted reports whether edge has been blacklisted.
func (s *Selector) IsBlacklisted(edge int) bool {
	_, ok := s.blacklist[edge]
	return ok
}

// RareBranchExp returns the current moving threshold.
func (s *Selector) RareBranchExp() uint32 { return s.rareBranchExp }

func highestSetBit(v uint32) int {
	if v == 0 {
		return -1
	}
	return bits.Len32(v) - 1
}

// RarestEdges scans HitBits for the globally rarest-hit edges: an edge
// qualifies iff its hit count's
// highest-set-bit is strictly below rare_branch_exp. Whenever an edge's
// exponent is more than one below the currently accepted exponent, the
// threshold tightens to that edge's exponent+1 and the already-collected
// list is discarded (prioritizing the rarer tier). If the scan finds
// nothing, it retries once the threshold is raised to lowest_hob+1.
func (s *Selector) RarestEdges() []int {
	return s.rarestEdges(s.rareBranchExp)
}

func (s *Selector) rarestEdges(exp uint32) []int {
	var result []int
	lowestHOB := -1
	currentExp := int(exp)

	for edge := 0; edge < s.hitBits.Len(); edge++ {
		count := s.hitBits.Count(edge)
		if count == 0 || s.IsBlacklisted(edge) {
			continue
		}
		hob := highestSetBit(count)
		if lowestHOB == -1 || hob < lowestHOB {
			lowestHOB = hob
		}
		if hob >= currentExp {
			continue
		}
		if currentExp-hob > 1 {
			currentExp = hob + 1
			result = result[:0]
		}
		result = append(result, edge)
		if len(result) >= s.maxRare {
			break
		}
	}

	s.rareBranchExp = uint32(currentExp)
	if len(result) == 0 && lowestHOB >= 0 && uint32(lowestHOB+1) != exp {
		return s.rarestEdges(uint32(lowestHOB + 1))
	}
	return result
}

func footprintBit(footprint []byte, edge int) bool {
	idx := edge / 8
	if idx < 0 || idx >= len(footprint) {
		return false
	}
	return footprint[idx]>>uint(edge%8)&1 != 0
}

// RareEdgesHitBy checks each edge of RarestEdges() against footprint and
// returns, in ascending hit-count order, every edge that is both set in
// footprint and currently in RarestEdges().
func (s *Selector) RareEdgesHitBy(footprint []byte) []int {
	rare := s.RarestEdges()
	if len(rare) == 0 {
		return nil
	}
	var result []int
	for _, edge := range rare {
		if !footprintBit(footprint, edge) {
			continue
		}
		result = insertSortedByHitCount(result, edge, s.hitBits)
	}
	return result
}

func insertSortedByHitCount(list []int, edge int, hb *HitBits) []int {
	c := hb.Count(edge)
	i := 0
	for i < len(list) && hb.Count(list[i]) <= c {
		i++
	}
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = edge
	return list
}

// FuzzedBitmap tracks, for one seed, which edges have already been
// selected as a fuzzing target -- the per-seed "fuzzed-branches" bitmap
// tracked alongside each QueueEntry.
type FuzzedBitmap struct {
	fuzzed map[int]struct{}
}

// NewFuzzedBitmap returns an empty bitmap.
func NewFuzzedBitmap() *FuzzedBitmap {
	return &FuzzedBitmap{fuzzed: make(map[int]struct{})}
}

// IsFuzzed reports whether edge was already selected for this seed.
func (f *FuzzedBitmap) IsFuzzed(edge int) bool {
	_, ok := f.fuzzed[edge]
	return ok
}

// MarkFuzzed records edge as selected.
func (f *FuzzedBitmap) MarkFuzzed(edge int) {
	f.fuzzed[edge] = struct{}{}
}

// TargetSelection is the outcome of SelectTargetEdge.
type TargetSelection struct {
	Edge              int
	Found             bool
	SkipDeterministic bool // rb_skip_deterministic: every candidate was already fuzzed
}

// SelectTargetEdge implements the target-edge choice:
// walk the sorted rare-edge list, skip any edge already fuzzed for this
// seed, and pick the first unfuzzed one; if every candidate is already
// fuzzed, pick the rarest anyway and flag the deterministic stages as
// skippable (rb_skip_deterministic/skip_simple_bitflip, from
// original_source/src/afl-fuzz-one.c).
func (s *Selector) SelectTargetEdge(footprint []byte, fuzzed *FuzzedBitmap) TargetSelection {
	sorted := s.RareEdgesHitBy(footprint)
	if len(sorted) == 0 {
		return TargetSelection{Found: false}
	}
	for _, edge := range sorted {
		if !fuzzed.IsFuzzed(edge) {
			fuzzed.MarkFuzzed(edge)
			return TargetSelection{Edge: edge, Found: true}
		}
	}
	edge := sorted[0]
	fuzzed.MarkFuzzed(edge)
	return TargetSelection{Edge: edge, Found: true, SkipDeterministic: true}
}
