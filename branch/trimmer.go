package branch

import "github.com/bradleyjkemp/rarefuzz/iface"

// TrimResult reports BranchTrimmer's outcome. TrimExecs mirrors
// original_source/src/afl-fuzz-one.c's trim_exec counter (a supplemented
// feature per SPEC_FULL.md), letting callers budget trimming cost.
type TrimResult struct {
	Data      []byte
	TrimExecs int
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Trim implements BranchTrimmer: geometrically
// shrink buf while preserving reachability of targetEdge. Step starts at
// max(next_pow2(L)/16, minBytes) and halves each full pass over the
// buffer until it would drop below max(next_pow2(L)/1024, minBytes),
// using the *original* length L for both bounds. Crashes and timeouts
// encountered while trimming are treated as "this window doesn't commit"
// rather than as findings or as reasons to stop; only an Executor error
// aborts trimming outright.
func Trim(exec iface.Executor, buf []byte, targetEdge int, minBytes int) (TrimResult, error) {
	data := append([]byte{}, buf...)
	origLen := len(data)

	step := nextPow2(origLen) / 16
	if step < minBytes {
		step = minBytes
	}
	floor := nextPow2(origLen) / 1024
	if floor < minBytes {
		floor = minBytes
	}

	execs := 0
	for step >= floor && step > 0 {
		pos := 0
		for pos < len(data) {
			remove := step
			if pos+remove > len(data) {
				remove = len(data) - pos
			}
			if remove <= 0 {
				break
			}
			candidate := make([]byte, 0, len(data)-remove)
			candidate = append(candidate, data[:pos]...)
			candidate = append(candidate, data[pos+remove:]...)

			res, err := exec.Run(candidate)
			execs++
			if err != nil {
				return TrimResult{Data: data, TrimExecs: execs}, err
			}
			if res.Status == iface.StatusOK && exec.TraceContains(targetEdge) {
				data = candidate
				continue
			}
			pos += step
		}
		step /= 2
	}
	return TrimResult{Data: data, TrimExecs: execs}, nil
}
