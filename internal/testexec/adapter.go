package testexec

import "github.com/bradleyjkemp/rarefuzz/iface"

// Run satisfies iface.Executor: it runs data through the target, records
// the coverage trace for TraceContains/ExecChecksum, and — when Target's
// result code is non-negative and the observed edge signature has not been
// seen before — grows QueuedPaths, mirroring go-fuzz/coordinator.go's
// corpus-admission dedup (f.corpusSigs) gated by Target's own
// noteNewInput-style reject convention (a negative result means "don't add
// to corpus", per Target's doc comment).
func (e *Executor) Run(data []byte) (iface.RunResult, error) {
	status, trace, crashOutput, result := e.run(data)
	e.lastTrace = trace
	edges := sortedEdges(trace)
	e.lastChecksum = edgeChecksum(edges)

	if status == statusCrash {
		e.LastCrashSignature = extractSuppression(crashOutput)
		return iface.RunResult{Status: iface.StatusCrash, QueuedPaths: e.queuedPaths}, nil
	}
	if status == statusTimeout {
		return iface.RunResult{Status: iface.StatusTimeout, QueuedPaths: e.queuedPaths}, nil
	}

	key := signatureKey(edges)
	if _, seen := e.seenSignatures[key]; !seen && len(edges) > 0 && result >= 0 {
		e.seenSignatures[key] = struct{}{}
		e.queuedPaths++
	}
	return iface.RunResult{Status: iface.StatusOK, QueuedPaths: e.queuedPaths}, nil
}

// TraceContains reports whether the most recent Run's trace hit edgeID.
func (e *Executor) TraceContains(edgeID int) bool {
	_, ok := e.lastTrace[edgeID]
	return ok
}

// ExecChecksum returns a hash of the most recent Run's trace, the
// edge-set fingerprint deterministic stages compare against a baseline
// to detect "this byte's flip changed coverage".
func (e *Executor) ExecChecksum() uint64 {
	return e.lastChecksum
}
