package tiercache

// guard.go defines GuardedView, the epoch-pinned handle returned by every
// read-path façade operation. A guard MUST outlive every read of the
// pointed-to entity and every byte read from its serialised buffers
// (spec.md §5) — callers must call Release when done.
//
// Grounded on the teacher's shard.get's dereference-then-copy pattern
// (pkg/cache.go), generalised from "copy out immediately, no guard needed"
// into "hand back a live pointer behind an epoch ticket", since spec.md
// §4.1 requires zero-copy reads rather than a defensive copy per access.
//
// © 2025 tiercache authors. MIT License.

import (
	"github.com/tiercache/tiercache/internal/epoch"
	"github.com/tiercache/tiercache/internal/slot"
)

// GuardedView pins a real entry behind an epoch guard. It is a value type —
// copying it is cheap and safe — but Release must be called exactly once
// per acquisition to let reclamation proceed.
type GuardedView[V any] struct {
	guard     *epoch.Guard
	entry     *slot.RealEntry[V]
	transient bool
}

func emptyView[V any]() GuardedView[V] { return GuardedView[V]{} }

func realView[V any](guard *epoch.Guard, entry *slot.RealEntry[V]) GuardedView[V] {
	return GuardedView[V]{guard: guard, entry: entry}
}

func transientView[V any](guard *epoch.Guard, entry *slot.RealEntry[V]) GuardedView[V] {
	return GuardedView[V]{guard: guard, entry: entry, transient: true}
}

// Found reports whether the view actually pins a live entry.
func (v GuardedView[V]) Found() bool { return v.entry != nil }

// Transient reports whether this view's entry was never admitted to L1:
// a read-miss fetched under pressure, a fetch that raced a concurrent
// write, or the entity handed back by a write that left L1 unpopulated
// (coalesced, or EvictAndLazyReload). It lives only as long as the guard is
// held, never observable by any other caller (spec.md §4.6).
func (v GuardedView[V]) Transient() bool { return v.transient }

// Value copies the payload out. ok is false iff Found() is false.
func (v GuardedView[V]) Value() (val V, ok bool) {
	if v.entry == nil {
		return val, false
	}
	return v.entry.Payload, true
}

// CachedJSON returns the entry's memoised JSON buffer, if one has been
// computed via FindAs.
func (v GuardedView[V]) CachedJSON() ([]byte, bool) {
	if v.entry == nil {
		return nil, false
	}
	buf := v.entry.CachedJSON()
	return buf, buf != nil
}

// CachedBinary returns the entry's memoised binary buffer, if one has been
// computed via FindAs.
func (v GuardedView[V]) CachedBinary() ([]byte, bool) {
	if v.entry == nil {
		return nil, false
	}
	buf := v.entry.CachedBinary()
	return buf, buf != nil
}

// Release drops the epoch guard. Safe to call on a zero-value GuardedView
// or to call more than once.
func (v GuardedView[V]) Release() {
	v.guard.Release()
}
