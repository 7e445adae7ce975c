package sweep

import "sync/atomic"

// HistogramEMAAlpha is the persistent-histogram smoothing coefficient from
// spec.md §4.5.
const HistogramEMAAlpha = 0.3

// CleanupMask is the default trigger mask from spec.md §4.7: a write whose
// slot hash satisfies (hash & CleanupMask) == 0 schedules a detached sweep,
// amortising one sweep trigger roughly every 512 insertions per cache.
const CleanupMask = 511

// ShouldTrigger reports whether a write with the given slot hash should
// schedule a sweep, per spec.md §4.7's amortised trigger rule.
func ShouldTrigger(hash uint64) bool {
	return hash&CleanupMask == 0
}

var sweeping atomic.Bool

// Sweep runs one global sweep pass: a process-wide test-and-set flag
// prevents overlapping sweeps, so a Sweep call that loses the race simply
// abandons rather than queuing behind the in-flight one (spec.md §4.7).
// For every enrolled cache it derives a threshold from the cache's own
// usage, walks one chunk, merges the building histogram, and — if the
// cache is still over budget afterwards — forces a second pass computed at
// usage=1.0 (target_pct(1.0)), which pushes the threshold to its most
// aggressive setting regardless of the cache's literal usage fraction.
func Sweep() {
	if !sweeping.CompareAndSwap(false, true) {
		return
	}
	defer sweeping.Store(false)

	for _, e := range snapshot() {
		// A pass that starts over budget is not a plain pressure pass, so it
		// queues no ghost candidates.
		runPass(e, e.Usage(), !e.OverBudget())
		if e.OverBudget() {
			runPass(e, 1.0, false)
		}
	}
}

func runPass(e RepoEntry, usage float64, queueGhosts bool) {
	threshold, _ := e.Threshold(usage)
	e.ResetBuildingHistogram()
	e.SweepOneChunk(threshold, queueGhosts)
	e.MergeHistogramEMA(HistogramEMAAlpha)
}

// TriggerAsync schedules a detached Sweep() invocation, matching spec.md
// §4.7's "a detached task invokes the global sweep" — the write path that
// calls this never waits on the sweep to finish.
func TriggerAsync() {
	go Sweep()
}
