package tiercache

// entity.go defines the Entity contract: the opaque, move-constructible
// payload the core stores, plus the optional narrower interfaces an entity
// may implement to participate in lazy serialisation, binary L2 framing,
// and partial-field patching.
//
// New relative to the teacher (whose V any was fully opaque) — grounded in
// shape on examples/disk_eject/main.go's round-trip of a value through a
// remote K/V store, generalised from "the caller hands us bytes" into "the
// caller hands us an Entity that knows how to become bytes".
//
// © 2025 tiercache authors. MIT License.

// Entity is the payload every Cache[K,V] stores. Implementations must be
// move-constructible (ordinary Go value or pointer semantics both work)
// and must own no references back into the cache's internal map.
type Entity interface {
	// MemoryUsage reports the bytes of heap and inline data the entity
	// owns, including any lazily-built serialised buffers. Must be
	// monotone non-decreasing across calls to ToJSON/ToBinary on the same
	// value (spec.md §6).
	MemoryUsage() int64
}

// JSONCacheable is implemented by entities that can produce a cached JSON
// serialisation for FindAs. The buffer is computed once and memoised on
// the RealEntry, not on the Entity itself.
type JSONCacheable interface {
	ToJSON() ([]byte, error)
}

// BinaryCacheable is implemented by entities that can produce a cached
// binary serialisation and that opt into the binary L2 wire format.
type BinaryCacheable interface {
	ToBinary() ([]byte, error)
	HasBinarySerialization() bool
}

// Patchable is implemented by entities that can apply a partial field
// update in place, used by Cache.Patch. Entities without this capability
// can still be patched — the origin call still runs — but Patch returns
// the origin's own post-update entity rather than mutating the cached
// copy, since there's no way to apply field_updates with a sparse map
// without this contract.
type Patchable interface {
	ApplyPatch(fieldUpdates map[string]any) error
}
