// Package genctr implements the flat generation-counter table from
// spec.md §4.6: a fixed array of atomic counters, one per
// hash(key) mod TableSize slot, bumped by every write path. The slow path
// of a read-through find records the pre-fetch generation and skips
// admission if the slot's generation moved by the time the fetch returns —
// hash collisions this causes are pessimistic cache misses, never stale
// caching.
//
// Grounded on the teacher's pkg/loader.go singleflight keying scheme
// (hashing the key to a dedup key via strconv.FormatUint(keyHash, 16)) —
// generalized here from "one string key per singleflight call" into "one
// fixed-size atomic slot per hash bucket", since generation tracking must
// outlive any single singleflight call and needs O(1) space independent of
// how many distinct keys are live.
//
// © 2025 tiercache authors. MIT License.
package genctr

import "sync/atomic"

// TableSize is the fixed slot count from spec.md §4.6.
const TableSize = 4096

// Table is a flat array of generation counters.
type Table struct {
	slots [TableSize]atomic.Uint64
}

// NewTable constructs an empty generation table.
func NewTable() *Table { return &Table{} }

func (t *Table) index(hash uint64) uint64 { return hash % TableSize }

// Bump increments the generation for hash's slot, returning the new value.
// Called by every write path (upsert/patch/erase/invalidate) before or
// after the origin call per spec.md §4.6/§9.
func (t *Table) Bump(hash uint64) uint64 {
	return t.slots[t.index(hash)].Add(1)
}

// Load returns the current generation for hash's slot without modifying
// it — used by the slow-path find to record the pre-fetch generation.
func (t *Table) Load(hash uint64) uint64 {
	return t.slots[t.index(hash)].Load()
}

// Unchanged reports whether hash's slot still holds the same generation it
// held when `before` was recorded via Load. A false result means a write
// raced the fetch and admission must be skipped.
func (t *Table) Unchanged(hash uint64, before uint64) bool {
	return t.slots[t.index(hash)].Load() == before
}
