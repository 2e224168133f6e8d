// Package adwin implements ADWIN (ADaptive WINdowing), a change-detection
// algorithm: an exponential-histogram summary of a [0,1]-valued reward
// stream that shrinks itself when a Hoeffding bound flags a distribution
// shift. Grounded on original_source/src/afl-fuzz-one.c (the RB_*
// non-stationary-reward additions) and on the general shape of
// weight-and-reset bookkeeping seen in other_examples/google-syzkaller__mab*.go,
// adapted here to its own bucket/node structure rather than syzkaller's own
// epoch-reset scheme.
package adwin

import "math"

// Config carries ADWIN's tunables.
type Config struct {
	M                  int     // max buckets per node before a merge cascades
	Delta              float64 // confidence parameter for the Hoeffding bound
	MinElemToCheck     int     // minimum side size considered during a cut scan
	MinElemToStartDrop int     // window must reach this size before drops are attempted
	DropInterval       int     // change detection runs every this many inserts
	AdaptiveReset      bool    // if true, a detected change resets the window fully instead of dropping one bucket
}

type bucket struct {
	sum float64
}

// node holds buckets that each summarize 2^level observations.
type node struct {
	level   int
	buckets []bucket // front (index 0) is newest within this level
}

// Window is the adaptive window itself: a doubly-linked (via the nodes
// slice, indexed by level) chain of exponential-histogram buckets.
type Window struct {
	cfg   Config
	nodes []*node // nodes[k] summarizes 2^k-observation buckets; grows lazily
	w     int     // W: total observations currently held
	sum   float64 // sum of all held observations
	count int     // total inserts ever made, gates DropInterval
}

// New returns an empty window.
func New(cfg Config) *Window {
	if cfg.M <= 0 {
		cfg.M = 5
	}
	if cfg.DropInterval <= 0 {
		cfg.DropInterval = 32
	}
	return &Window{cfg: cfg}
}

// Insert appends one observation (expected in [0,1], though nothing here
// enforces that) to the head of the window and, every DropInterval
// inserts once the window is large enough, checks for a distribution
// change.
func (w *Window) Insert(value float64) {
	w.insertAt(0, bucket{sum: value})
	w.w++
	w.sum += value
	w.count++
	if w.w >= w.cfg.MinElemToStartDrop && w.count%w.cfg.DropInterval == 0 {
		w.detectChange()
	}
}

// insertAt prepends b to node `level`, cascading a merge into level+1 if
// the node now holds more than M buckets: overflow collapses the two
// oldest buckets into one bucket of the next node.
func (w *Window) insertAt(level int, b bucket) {
	for len(w.nodes) <= level {
		w.nodes = append(w.nodes, &node{level: len(w.nodes)})
	}
	n := w.nodes[level]
	n.buckets = append([]bucket{b}, n.buckets...)
	if len(n.buckets) > w.cfg.M {
		last := len(n.buckets) - 1
		oldest := n.buckets[last]
		secondOldest := n.buckets[last-1]
		n.buckets = n.buckets[:last-1]
		w.insertAt(level+1, bucket{sum: oldest.sum + secondOldest.sum})
	}
}

// dropOldest removes the single oldest bucket in the whole window (the
// bucket at the highest populated level, at its tail) and adjusts W/sum.
func (w *Window) dropOldest() bool {
	for level := len(w.nodes) - 1; level >= 0; level-- {
		n := w.nodes[level]
		if len(n.buckets) == 0 {
			continue
		}
		last := len(n.buckets) - 1
		b := n.buckets[last]
		n.buckets = n.buckets[:last]
		size := 1 << uint(level)
		w.w -= size
		w.sum -= b.sum
		return true
	}
	return false
}

// Reset discards all buckets; used both by the adaptive-resetting
// alternative and by tests that need deterministic restarts.
func (w *Window) Reset() {
	w.nodes = nil
	w.w = 0
	w.sum = 0
	w.count = 0
}

// Size returns W, the current number of observations held.
func (w *Window) Size() int { return w.w }

// Sum returns the sum of all held observations.
func (w *Window) Sum() float64 { return w.sum }

// Estimate returns sum/W, or 0 if the window is empty.
func (w *Window) Estimate() float64 {
	if w.w == 0 {
		return 0
	}
	return w.sum / float64(w.w)
}

// detectChange walks buckets from tail (oldest) toward head (newest),
// accumulating (n0,s0) as the old side and (n1,s1) as the new side, and
// tests each cut point against the Hoeffding bound. On the first cut found
// to exceed the bound it drops the oldest bucket (or resets fully, under
// AdaptiveReset) and stops.
func (w *Window) detectChange() bool {
	var n0 int
	var s0 float64
	n1, s1 := w.w, w.sum

	for level := len(w.nodes) - 1; level >= 0; level-- {
		n := w.nodes[level]
		size := 1 << uint(level)
		for bi := len(n.buckets) - 1; bi >= 0; bi-- {
			b := n.buckets[bi]
			n0 += size
			s0 += b.sum
			n1 -= size
			s1 -= b.sum

			if n0 < w.cfg.MinElemToCheck || n1 < w.cfg.MinElemToCheck {
				continue
			}
			if w.hoeffdingCut(n0, s0, n1, s1) {
				if w.cfg.AdaptiveReset {
					w.Reset()
				} else {
					w.dropOldest()
				}
				return true
			}
		}
	}
	return false
}

// hoeffdingCut implements the ADWIN cut test:
//
//	δ' = 2 log(2 log n / δ)
//	ε = sqrt(u(1-u)·δ'·(1/(1+n0-k) + 1/(1+n1-k))) + δ'/3 · (1/(1+n0-k) + 1/(1+n1-k))
//
// returning true iff |mean0 - mean1| > ε.
func (w *Window) hoeffdingCut(n0 int, s0 float64, n1 int, s1 float64) bool {
	n := float64(w.w)
	if n <= 1 {
		return false
	}
	deltaPrime := 2 * math.Log(2*math.Log(n)/w.cfg.Delta)
	if deltaPrime <= 0 {
		return false
	}
	k := float64(w.cfg.MinElemToCheck)
	invSum := 1/(1+float64(n0)-k) + 1/(1+float64(n1)-k)
	if invSum <= 0 {
		return false
	}
	u := w.sum / n
	eps := math.Sqrt(u*(1-u)*deltaPrime*invSum) + deltaPrime/3*invSum
	mean0 := s0 / float64(n0)
	mean1 := s1 / float64(n1)
	diff := mean0 - mean1
	if diff < 0 {
		diff = -diff
	}
	return diff > eps
}
