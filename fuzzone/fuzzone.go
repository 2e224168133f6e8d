// Package fuzzone implements the FuzzOne driver: the orchestrator that
// takes one queue entry plus an instrumented target and runs it through
// calibration, rare-branch target selection, trim, the deterministic stage
// sequence, havoc, and splice, in a fixed order. Grounded on
// runtime/worker.go's worker loop, which plays the same orchestrator role
// around triageInput/smash.
package fuzzone

import (
	"errors"

	"github.com/bradleyjkemp/rarefuzz/bandit"
	"github.com/bradleyjkemp/rarefuzz/branch"
	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/iface"
	"github.com/bradleyjkemp/rarefuzz/mutate"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

// Status is the driver's outcome: "fuzzed-to-completion" or
// "skipped-or-aborted", refined with the specific reason for telemetry.
type Status int

const (
	StatusFuzzed Status = iota
	StatusSkipped
	StatusRecoverableAbort
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusFuzzed:
		return "fuzzed"
	case StatusSkipped:
		return "skipped"
	case StatusRecoverableAbort:
		return "aborted"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrFatal wraps an error the driver treats as its "Fatal" class: the
// outer fuzzer is expected to terminate, not retry.
var ErrFatal = errors.New("fuzzone: fatal executor error")

// Result reports what FuzzOne did with one seed.
type Result struct {
	Status               Status
	SkippedDeterministic bool // rb_skip_deterministic, see SPEC_FULL.md section 6
	TargetEdge           int
	HasTargetEdge        bool
	TrimExecs            int
	DeterministicStats   []mutate.StageStats
	HavocStats           mutate.HavocStats
	SpliceStats          mutate.HavocStats
}

// Env bundles the process-lifetime collaborators FuzzOne needs across
// calls: shared HitBits/Selector/bandit buckets persist between seeds,
// while per-seed scratch (State, FuzzedBitmap) is constructed fresh by the
// caller for each entry.
type Env struct {
	HitBits  *branch.HitBits
	Selector *branch.Selector
	Buckets  *bandit.BatchBuckets
	AutoDict *mutate.AutoDict
	RNG      *rng.Source
	Log      *Logger
}

// NewEnv constructs the process-lifetime bandit/selector state shared
// across every FuzzOne call. A nil logger is valid (Logf on a nil receiver
// is a no-op).
func NewEnv(cfg config.Config, numEdges int, opKind, batchKind bandit.Kind, rngSrc *rng.Source) *Env {
	hitBits := branch.NewHitBits(numEdges)
	return &Env{
		HitBits:  hitBits,
		Selector: branch.NewSelector(hitBits, cfg.MaxRareBranches),
		Buckets:  bandit.NewBatchBuckets(cfg, rngSrc, opKind, batchKind),
		AutoDict: mutate.NewAutoDict(cfg.MinAutoExtra, cfg.MaxAutoExtra, cfg.MaxDictFile),
		RNG:      rngSrc,
	}
}

// scoreFor derives perf_score for the havoc stage entry formula. The
// scoring formula itself belongs to the external queue/scheduling
// collaborator; this driver uses the AFL default baseline of 100 and 60
// for favored vs. unfavored entries, leaving the bitmap-size/exec-time
// factors original_source/src/afl-fuzz-one.c's calibrate_case computes to
// BatchBuckets' size-class conditioning instead of reproducing the full
// scheduler here.
func scoreFor(entry *iface.QueueEntry) int {
	if entry.Favored {
		return 100
	}
	return 60
}

// calibrate runs entry's bytes once to confirm the target is still
// reachable and stable before committing further execution budget to it.
// A crash or timeout here is not an error to the core (forwarded
// unchanged) but a non-ok status aborts the seed as a calibration
// failure.
func calibrate(exec iface.Executor, buf []byte) (iface.RunResult, error) {
	res, err := exec.Run(buf)
	if err != nil {
		return res, err
	}
	return res, nil
}

// FuzzOne runs the full per-seed pipeline. vanillaMode disables rare-edge
// targeting (the branch mask stays the all-safe default throughout). stop
// is polled before calibration, after branch-mask construction and before
// each deterministic stage; when it reports true no further stage starts
// and the driver returns StatusRecoverableAbort. A running stage is not
// interrupted, and havoc and splice do not poll stop at all.
func FuzzOne(exec iface.Executor, q iface.Queue, entry *iface.QueueEntry, cfg config.Config, env *Env, fuzzed *branch.FuzzedBitmap, userDict [][]byte, vanillaMode bool, stop func() bool) (Result, error) {
	var res Result

	if stop != nil && stop() {
		res.Status = StatusRecoverableAbort
		return res, nil
	}

	calResult, err := calibrate(exec, entry.Data)
	if err != nil {
		env.Log.Logf(0, "calibration of [%d]bytes failed fatally: %v", len(entry.Data), err)
		res.Status = StatusFatal
		return res, ErrFatal
	}
	if calResult.Status != iface.StatusOK {
		res.Status = StatusRecoverableAbort
		return res, nil
	}
	baselineQueued := calResult.QueuedPaths

	// BranchTrimmer is defined in terms of a target edge, so trimming runs
	// after target-edge selection rather than before it; vanilla mode (no
	// edge to preserve) skips trimming entirely. See DESIGN.md.
	buf := entry.Data
	chunkSize := 8

	var targetEdge int
	hasTarget := false
	if !vanillaMode {
		sel := env.Selector.SelectTargetEdge(entry.Footprint, fuzzed)
		if !sel.Found {
			env.Log.Logf(2, "no rare edge to target for [%d]bytes, skipping", len(entry.Data))
			res.Status = StatusSkipped
			return res, nil
		}
		targetEdge = sel.Edge
		hasTarget = true
		res.TargetEdge = targetEdge
		res.HasTargetEdge = true
		res.SkippedDeterministic = sel.SkipDeterministic

		trimmed, err := branch.Trim(exec, buf, targetEdge, cfg.TrimMinBytes)
		if err != nil {
			res.Status = StatusFatal
			return res, ErrFatal
		}
		res.TrimExecs = trimmed.TrimExecs
		if len(trimmed.Data) > 0 {
			buf = trimmed.Data
		}
	}

	st := mutate.NewState(buf, chunkSize)

	if hasTarget {
		mask, overwriteSafe, err := branch.BuildMask(exec, st.Buf, targetEdge, env.RNG)
		if err != nil {
			res.Status = StatusFatal
			return res, ErrFatal
		}
		if !overwriteSafe {
			env.Log.Logf(1, "edge %d blacklisted: no overwrite-safe position found", targetEdge)
			env.Selector.Blacklist(targetEdge)
		}
		st.Mask = mask
	}

	if stop != nil && stop() {
		res.Status = StatusRecoverableAbort
		return res, nil
	}

	if !res.SkippedDeterministic {
		stats, aborted, err := runDeterministicStages(exec, st, cfg, env, baselineQueued, hasTarget, targetEdge, userDict, stop)
		res.DeterministicStats = stats
		if err != nil {
			res.Status = StatusFatal
			return res, ErrFatal
		}
		if aborted {
			res.Status = StatusRecoverableAbort
			return res, nil
		}
	}

	opBandit, batchBandit := env.Buckets.For(cfg, len(st.Buf))
	score := scoreFor(entry)

	havocStats, err := mutate.Havoc(exec, st, cfg, opBandit, batchBandit, baselineQueued, score, userDict, env.AutoDict, env.RNG)
	res.HavocStats = havocStats
	if err != nil {
		res.Status = StatusFatal
		return res, ErrFatal
	}

	spliceStats, err := mutate.Splice(exec, st, cfg, q, opBandit, batchBandit, baselineQueued, score, userDict, env.AutoDict, env.RNG)
	res.SpliceStats = spliceStats
	if err != nil {
		res.Status = StatusFatal
		return res, ErrFatal
	}

	res.Status = StatusFuzzed
	return res, nil
}

// runDeterministicStages executes the fixed stage sequence: flip1, flip8
// (+ mask population), flip2, flip4, flip16, flip32, arith8/16/32,
// interest8/16/32, extras_UO, extras_UI, extras_AO.
func runDeterministicStages(exec iface.Executor, st *mutate.State, cfg config.Config, env *Env, baselineQueued int, hasTarget bool, targetEdge int, userDict [][]byte, stop func() bool) ([]mutate.StageStats, bool, error) {
	var all []mutate.StageStats
	tabs := mutate.InterestingTables{I8: config.Interesting8, I16: config.Interesting16, I32: config.Interesting32}

	run := func(f func() (mutate.StageStats, error)) (bool, error) {
		if stop != nil && stop() {
			return true, nil
		}
		stats, err := f()
		all = append(all, stats)
		return false, err
	}

	if aborted, err := run(func() (mutate.StageStats, error) {
		return mutate.FlipSubByte(exec, st, cfg, 1, baselineQueued, env.AutoDict, userDict)
	}); aborted || err != nil {
		return all, aborted, err
	}

	if aborted, err := run(func() (mutate.StageStats, error) {
		return mutate.FlipBytes(exec, st, baselineQueued, 1, hasTarget, targetEdge)
	}); aborted || err != nil {
		return all, aborted, err
	}

	for _, w := range []int{2, 4} {
		width := w
		if aborted, err := run(func() (mutate.StageStats, error) {
			return mutate.FlipSubByte(exec, st, cfg, width, baselineQueued, env.AutoDict, userDict)
		}); aborted || err != nil {
			return all, aborted, err
		}
	}

	if len(st.Buf) >= 2 {
		if aborted, err := run(func() (mutate.StageStats, error) {
			return mutate.FlipBytes(exec, st, baselineQueued, 2, hasTarget, targetEdge)
		}); aborted || err != nil {
			return all, aborted, err
		}
	}
	if len(st.Buf) >= 4 {
		if aborted, err := run(func() (mutate.StageStats, error) {
			return mutate.FlipBytes(exec, st, baselineQueued, 4, hasTarget, targetEdge)
		}); aborted || err != nil {
			return all, aborted, err
		}
	}

	for _, w := range []int{1, 2, 4} {
		width := w
		if len(st.Buf) < width {
			continue
		}
		if aborted, err := run(func() (mutate.StageStats, error) {
			return mutate.Arith(exec, st, cfg, width, baselineQueued, hasTarget)
		}); aborted || err != nil {
			return all, aborted, err
		}
	}

	for _, w := range []int{1, 2, 4} {
		width := w
		if len(st.Buf) < width {
			continue
		}
		if aborted, err := run(func() (mutate.StageStats, error) {
			return mutate.Interest(exec, st, cfg, width, baselineQueued, hasTarget, tabs, allInterestingValues(tabs, width))
		}); aborted || err != nil {
			return all, aborted, err
		}
	}

	if len(userDict) > 0 {
		if aborted, err := run(func() (mutate.StageStats, error) {
			return mutate.ExtrasOverwrite(exec, st, userDict, baselineQueued)
		}); aborted || err != nil {
			return all, aborted, err
		}
		if aborted, err := run(func() (mutate.StageStats, error) {
			return mutate.ExtrasInsert(exec, st, userDict, baselineQueued)
		}); aborted || err != nil {
			return all, aborted, err
		}
	}

	if cfg.UseAutoExtras && env.AutoDict.Len() > 0 {
		tokens := make([][]byte, 0, env.AutoDict.Len())
		for _, t := range env.AutoDict.Tokens() {
			tokens = append(tokens, t.Bytes)
		}
		if aborted, err := run(func() (mutate.StageStats, error) {
			return mutate.ExtrasOverwrite(exec, st, tokens, baselineQueued)
		}); aborted || err != nil {
			return all, aborted, err
		}
	}

	return all, false, nil
}

func allInterestingValues(tabs mutate.InterestingTables, widthBytes int) []int32 {
	switch widthBytes {
	case 1:
		out := make([]int32, len(tabs.I8))
		for i, v := range tabs.I8 {
			out[i] = int32(v)
		}
		return out
	case 2:
		out := make([]int32, len(tabs.I16))
		for i, v := range tabs.I16 {
			out[i] = int32(v)
		}
		return out
	default:
		return tabs.I32
	}
}
