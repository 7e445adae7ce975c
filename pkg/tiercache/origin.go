package tiercache

// origin.go declares the L3 (database origin) collaborator interface. Its
// implementation — SQL generation, connection pooling, row mapping — is
// explicitly out of scope (spec.md §1); the core only dictates the contract
// it calls through.
//
// Grounded on the teacher's pkg/loaderfunc.go LoaderFunc[K,V] signature,
// generalised from "one function that returns a value" into the five-verb
// read/write origin contract spec.md §6 requires, since the façade must
// also write through on insert/upsert/patch/erase, not just read-miss.
//
// © 2025 tiercache authors. MIT License.

import "context"

// Outcome reports the effect of a write-through call against the origin.
type Outcome struct {
	// Affected is the number of rows/records the origin call touched.
	Affected int64
	// Coalesced is true when this call rode on another in-flight identical
	// write; the façade then skips its own L1 cache-mutation side effects
	// to avoid double-eviction (spec.md §6, §8 scenario 4).
	Coalesced bool
}

// Origin is the L3 collaborator: the database-backed source of truth.
// Implementations must be safe for concurrent use; a single Origin value is
// shared by every goroutine driving a Cache[K,V].
type Origin[K comparable, V Entity] interface {
	// Fetch loads the entity for key. Returns an error wrapping
	// ErrNotFound, ErrOriginTransient, or ErrOriginPermanent on failure.
	Fetch(ctx context.Context, key K) (V, error)

	// Insert writes a brand-new entity.
	Insert(ctx context.Context, key K, entity V) (Outcome, error)

	// Update overwrites the entity for key in full.
	Update(ctx context.Context, key K, entity V) (Outcome, error)

	// Patch applies a sparse set of field updates.
	Patch(ctx context.Context, key K, fieldUpdates map[string]any) (Outcome, error)

	// Delete removes the entity for key.
	Delete(ctx context.Context, key K) (Outcome, error)
}
