package bandit

import (
	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

// BatchBuckets is a flat, two-dimensional grid: one (operator-bandit,
// batch-bandit) pair per input-length size class, so that havoc's learning
// is conditioned on input size.
type BatchBuckets struct {
	op    []*Strategy
	batch []*Strategy
}

// NewBatchBuckets constructs cfg.NumBatchBucket pairs of strategies, the
// operator bandit with cfg.NumOpClasses arms and the batch bandit with
// cfg.NumBatchArms arms.
func NewBatchBuckets(cfg config.Config, rngSrc *rng.Source, opKind, batchKind Kind) *BatchBuckets {
	bb := &BatchBuckets{
		op:    make([]*Strategy, cfg.NumBatchBucket),
		batch: make([]*Strategy, cfg.NumBatchBucket),
	}
	for i := range bb.op {
		bb.op[i] = New(opKind, cfg.NumOpClasses, rngSrc, cfg)
		bb.batch[i] = New(batchKind, cfg.NumBatchArms, rngSrc, cfg)
	}
	return bb
}

// For returns the (operator, batch) bandit pair for an input of the given
// length.
func (bb *BatchBuckets) For(cfg config.Config, length int) (op, batch *Strategy) {
	i := cfg.BatchBucket(length)
	return bb.op[i], bb.batch[i]
}
