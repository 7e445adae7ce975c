// Package sweep implements the process-wide registry and sweep driver from
// spec.md §4.6/§4.7: every cache enrols itself once, and a single global
// Sweep() call fans out one chunk-cleanup pass (plus a forced second pass
// if a cache is still over its budget) across every enrolled cache,
// serialized by a test-and-set flag so overlapping sweeps abandon instead
// of piling up.
//
// Grounded on the teacher's pkg/cache.go shard.rotate() (the per-shard
// eviction walk) and pkg/metrics.go's registration pattern
// (newMetricsSink/MustRegister), generalized into a type-erased RepoEntry
// so the registry can hold Cache[K,V] instances of arbitrary K/V without
// the registry itself being generic — Go has no existential generics, so
// type erasure via an interface is the idiomatic way to collect
// heterogeneous Cache[K,V] handles in one slice.
//
// © 2025 tiercache authors. MIT License.
package sweep

import "sync"

// RepoEntry is the type-erased handle a Cache[K,V] registers so the global
// sweep driver can invoke one chunk-cleanup pass on it without knowing its
// key/value types.
type RepoEntry interface {
	// Name identifies the cache for logging/metrics labels.
	Name() string

	// Usage returns current_memory / max_memory in [0, +Inf), or 0 if
	// memory accounting is disabled for this cache.
	Usage() float64

	// Threshold derives the GDSF score threshold and bytes-to-free target
	// for the given usage fraction (the caller may force usage=1.0 for the
	// over-budget second pass regardless of the cache's true usage).
	Threshold(usage float64) (threshold float64, bytesToFree int64)

	// ResetBuildingHistogram clears the building histogram ahead of a new
	// chunk walk.
	ResetBuildingHistogram()

	// SweepOneChunk walks this sweep's next chunk of buckets, decaying
	// ghosts and real entries, recording scores into the building
	// histogram, and evicting anything below threshold. queueGhosts is
	// false during the forced over-budget second pass (spec.md §4.6: ghost
	// candidates are only queued on a pressure sweep that is not also an
	// over-budget sweep). Returns the approximate number of bytes freed.
	SweepOneChunk(threshold float64, queueGhosts bool) int64

	// MergeHistogramEMA folds the building histogram into the persistent
	// one with the given EMA coefficient.
	MergeHistogramEMA(alpha float64)

	// OverBudget reports whether the cache is still above MAX_MEMORY after
	// a pass, triggering the driver's forced second pass.
	OverBudget() bool
}

var (
	registryMu sync.RWMutex
	entries    []RepoEntry
)

// Register enrols e in the process-wide sweep registry. Callers are
// responsible for calling this at most once per cache instance (spec.md
// §4.7: "each cache enrols itself exactly once, on first access") —
// typically guarded by a sync.Once on the cache side.
func Register(e RepoEntry) {
	registryMu.Lock()
	defer registryMu.Unlock()
	entries = append(entries, e)
}

// snapshot returns a stable copy of the currently registered entries so a
// sweep pass never iterates a slice being concurrently appended to.
func snapshot() []RepoEntry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]RepoEntry, len(entries))
	copy(out, entries)
	return out
}

// Count returns the number of currently enrolled caches, mainly for tests
// and introspection.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(entries)
}
