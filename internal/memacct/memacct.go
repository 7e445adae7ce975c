// Package memacct implements the striped signed-memory-accounting counter
// from spec.md §4.4: N cache-line-padded slots, each a plain relaxed
// atomic, charged by threads via a thread-local-ish dispatch index so
// concurrent charges don't contend on one cache line.
//
// Grounded on the teacher's pkg/metrics.go arenaMirror ([]atomic.Int64, one
// per shard, read without locking to avoid recomputing Prometheus label
// sets on the hot path) — generalized from "one mirror per shard" to "N
// striped slots addressed by a dispatch index", since spec.md's accounting
// counter is process-wide rather than per-shard.
//
// © 2025 tiercache authors. MIT License.
package memacct

import (
	"sync/atomic"
)

// cacheLineSize is sized so each stripe slot lives on its own cache line,
// avoiding false sharing between threads charging different slots
// concurrently.
const cacheLineSize = 64

type stripe struct {
	v   atomic.Int64
	_   [cacheLineSize - 8]byte // padding; 8 = sizeof(atomic.Int64)
}

// Counter is a striped, approximate, signed byte counter with a configured
// budget. A zero MaxMemory disables the GDSF policy entirely per spec.md
// §4.4/§8: OverBudget always reports false and Total may be ignored by
// callers in that mode.
type Counter struct {
	stripes   []stripe
	maxMemory int64
	mask      uint64 // len(stripes)-1, len is a power of two
	nextIdx   atomic.Uint64
}

// New constructs a Counter with slots stripe-slots (rounded up to the next
// power of two, capped at 64 per spec.md §6's MEMORY_COUNTER_SLOTS) and the
// given budget in bytes. maxMemory<=0 disables the budget policy.
func New(slots int, maxMemory int64) *Counter {
	if slots <= 0 {
		slots = 1
	}
	n := nextPow2(slots)
	if n > 64 {
		n = 64
	}
	if maxMemory < 0 {
		maxMemory = 0
	}
	return &Counter{
		stripes:   make([]stripe, n),
		maxMemory: maxMemory,
		mask:      uint64(n - 1),
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// dispatchIndex picks a stripe. Real thread-local storage isn't available
// in Go, so we approximate the teacher's per-shard-mirror locality with a
// round-robin counter: successive charges from any single goroutine still
// spread across stripes, which is sufficient since the aggregate total
// (Total) is exact regardless of which stripe absorbed which delta.
func (c *Counter) dispatchIndex() uint64 {
	return c.nextIdx.Add(1) & c.mask
}

// Charge adds delta (positive or negative) to one stripe. O(1), never
// blocks, and is safe under arbitrary concurrent callers.
func (c *Counter) Charge(delta int64) {
	if delta == 0 {
		return
	}
	c.stripes[c.dispatchIndex()].v.Add(delta)
}

// Total sums all stripes with relaxed loads. Approximate under contention
// (spec.md §4.4 accepts this), exact once quiescent.
func (c *Counter) Total() int64 {
	var total int64
	for i := range c.stripes {
		total += c.stripes[i].v.Load()
	}
	return total
}

// MaxMemory returns the configured budget (0 = disabled).
func (c *Counter) MaxMemory() int64 { return c.maxMemory }

// Enabled reports whether the GDSF policy is active at all.
func (c *Counter) Enabled() bool { return c.maxMemory > 0 }

// OverBudget reports whether Total() exceeds MaxMemory(). Always false
// when the policy is disabled.
func (c *Counter) OverBudget() bool {
	if !c.Enabled() {
		return false
	}
	return c.Total() > c.maxMemory
}

// Usage returns Total()/MaxMemory() in [0, +inf), or 0 if disabled.
func (c *Counter) Usage() float64 {
	if !c.Enabled() {
		return 0
	}
	return float64(c.Total()) / float64(c.maxMemory)
}
