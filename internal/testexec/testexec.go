// Package testexec supplies a reference Executor: a small in-process
// implementation of the iface.Executor contract so tests can
// drive fuzzone.FuzzOne end-to-end without a real subprocess/shared-memory
// harness. Grounded directly on
// runtime/worker.go's runFuzzFunc (panic recovery around the target call)
// and extractSuppression (turning a recovered goroutine dump into a
// stable crash signature via maruel/panicparse/stack).
package testexec

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"io"
	"runtime/debug"
	"sort"
	"time"

	"github.com/maruel/panicparse/stack"
)

// Target is a fuzzable function instrumented by hand to report the
// control-flow edges it visits via record, playing the role an
// AST-rewritten CoverTab plays for real targets (a real build-time
// instrumentation pass is out of scope here). It returns an arbitrary
// result code; negative means "don't add to corpus", mirroring
// runtime/worker.go's noteNewInput convention.
type Target func(data []byte, record func(edge int)) int

// Executor is a reference iface.Executor: it runs Target in-process,
// recovers panics the way runFuzzFunc does, and deduplicates discovered
// coverage signatures the way go-fuzz/coordinator.go's hub
// (compareCover/updateMaxCover) does to decide whether QueuedPaths should
// grow.
type Executor struct {
	fn          Target
	maxDuration time.Duration

	lastTrace    map[int]struct{}
	lastChecksum uint64

	seenSignatures map[string]struct{}
	queuedPaths    int

	LastCrashSignature []byte
}

// New constructs an Executor over fn. maxDuration, if positive, makes Run
// report iface.StatusTimeout for calls that take longer (0 disables the
// check, matching the in-process harness having no real hang detection).
func New(fn Target, maxDuration time.Duration) *Executor {
	return &Executor{
		fn:             fn,
		maxDuration:    maxDuration,
		seenSignatures: make(map[string]struct{}),
	}
}

func edgeChecksum(edges []int) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, e := range edges {
		for i := 0; i < 8; i++ {
			buf[i] = byte(e >> uint(8*i))
		}
		h.Write(buf)
	}
	return h.Sum64()
}

func sortedEdges(trace map[int]struct{}) []int {
	out := make([]int, 0, len(trace))
	for e := range trace {
		out = append(out, e)
	}
	sort.Ints(out)
	return out
}

func signatureKey(edges []int) string {
	var b bytes.Buffer
	for _, e := range edges {
		fmt.Fprintf(&b, "%d,", e)
	}
	return b.String()
}

// Internal run outcomes returned by run; Run (adapter.go) maps them onto
// iface.Status values.
const (
	statusOK = iota
	statusCrash
	statusTimeout
)

// run executes the target once and returns its internal status, the
// recorded trace and any crash output; fuzzone callers use the
// iface.Executor-satisfying Run method, which returns the real
// iface.RunResult type. result is Target's raw return code, passed
// through so Run can apply the negative-means-reject convention Target's
// doc comment promises.
func (e *Executor) run(data []byte) (status int, trace map[int]struct{}, crashOutput []byte, result int) {
	trace = make(map[int]struct{})
	record := func(edge int) { trace[edge] = struct{}{} }

	done := make(chan struct{})
	var crashed bool
	var output []byte

	go func() {
		defer func() {
			if r := recover(); r != nil {
				crashed = true
				output = []byte(fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack()))
			}
			close(done)
		}()
		result = e.fn(data, record)
	}()

	if e.maxDuration > 0 {
		select {
		case <-done:
		case <-time.After(e.maxDuration):
			return statusTimeout, trace, nil, result
		}
	} else {
		<-done
	}

	if crashed {
		return statusCrash, trace, output, result
	}
	return statusOK, trace, nil, result
}

// extractSuppression turns a recovered panic's goroutine dump into a
// stable crash signature, matching runtime/worker.go's function of the
// same name: it locates the first goroutine's stack, strips frames
// belonging to this package's own recovery machinery, and keeps the rest
// as the dedup key.
func extractSuppression(out []byte) []byte {
	ctx, err := stack.ParseDump(bytes.NewBuffer(out), io.Discard, false)
	if err != nil {
		return out
	}
	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		var suppression []byte
		for _, c := range gr.Stack.Calls {
			if c.Func.PkgDotName() == "testexec.(*Executor).run.func1" {
				break
			}
			suppression = append(suppression, []byte("\n"+c.Func.PkgDotName())...)
		}
		if len(suppression) > 0 {
			return suppression
		}
	}
	return out
}
