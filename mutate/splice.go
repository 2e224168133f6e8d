package mutate

import (
	"github.com/bradleyjkemp/rarefuzz/bandit"
	"github.com/bradleyjkemp/rarefuzz/branch"
	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/iface"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

// firstLastDiff returns the first and last byte offsets where a and b
// differ, or found=false if they are identical over their shared prefix.
func firstLastDiff(a, b []byte) (first, last int, found bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	first, last = -1, -1
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last, first >= 0
}

// Splice implements the splice stage: up to
// cfg.SpliceCycles attempts pick another corpus entry at least 4 bytes
// long, locate the first and last differing byte against the current
// seed, and -- if that differing range spans at least 2 bytes -- splice
// the other entry's tail onto the current seed's head at a random point
// within the range. A successful splice resets the branch mask to
// default (the spliced buffer's reachability to the original target edge
// is no longer known) and re-enters the havoc stage on the result.
func Splice(exec iface.Executor, st *State, cfg config.Config, q iface.Queue, opBandit, batchBandit *bandit.Strategy, baselineQueued, score int, userDict [][]byte, autoDict *AutoDict, rngSrc *rng.Source) (HavocStats, error) {
	var stats HavocStats
	stats.Name = "splice"

	if q == nil || q.Len() < 2 {
		return stats, nil
	}

	for attempt := 0; attempt < cfg.SpliceCycles; attempt++ {
		entry, ok := q.Random()
		if !ok || len(entry.Data) < 4 {
			continue
		}
		first, last, found := firstLastDiff(st.Buf, entry.Data)
		if !found || last-first < 2 {
			continue
		}
		splitPoint := first + 1 + rngSrc.Intn(last-first-1)

		spliced := make([]byte, 0, splitPoint+len(entry.Data)-splitPoint)
		spliced = append(spliced, st.Buf[:splitPoint]...)
		spliced = append(spliced, entry.Data[splitPoint:]...)

		st.Buf = spliced
		st.Mask = branch.NewDefaultMask(len(st.Buf))
		st.Eff = branch.NewEffectorMap(len(st.Buf), st.chunkSize)

		havocStats, err := Havoc(exec, st, cfg, opBandit, batchBandit, baselineQueued, score, userDict, autoDict, rngSrc)
		stats.Cycles += havocStats.Cycles
		stats.Finds += havocStats.Finds
		stats.FinalStageMax = havocStats.FinalStageMax
		if err != nil {
			return stats, err
		}
		return stats, nil
	}

	return stats, nil
}
