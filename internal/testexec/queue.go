package testexec

import (
	"math/rand"

	"github.com/bradleyjkemp/rarefuzz/iface"
)

// Queue is a minimal in-memory iface.Queue for tests: a fixed slice of
// entries with uniform-random selection, standing in for the corpus
// storage an external fuzzer process owns.
type Queue struct {
	entries []*iface.QueueEntry
	r       *rand.Rand
}

// NewQueue wraps entries for random iteration.
func NewQueue(entries []*iface.QueueEntry, seed int64) *Queue {
	return &Queue{entries: entries, r: rand.New(rand.NewSource(seed))}
}

// Random returns a uniformly random entry, or ok=false if empty.
func (q *Queue) Random() (*iface.QueueEntry, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[q.r.Intn(len(q.entries))], true
}

// Len reports the entry count.
func (q *Queue) Len() int { return len(q.entries) }
