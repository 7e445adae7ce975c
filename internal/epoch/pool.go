package epoch

// Pool[T] is a thin, typed convenience wrapper over a Manager: New allocates
// a fresh T on the heap (ordinary Go allocation — see DESIGN.md for why this
// replaces the teacher's goexperiment.arenas allocator), Retire files the
// pointer for deferred destruction, and Collect triggers a reclamation pass.
//
// This mirrors the shape of the teacher's internal/genring.Ring (New/
// Rotate/LiveBytes) but generalizes "generation" into "epoch" so the cache
// layer (pkg/tiercache) can retire individual entries displaced from the map
// instead of whole arenas.
type Pool[T any] struct {
	mgr *Manager
}

// NewPool binds a Pool to the given Manager. Most callers should pass
// Global().
func NewPool[T any](mgr *Manager) *Pool[T] {
	if mgr == nil {
		mgr = Global()
	}
	return &Pool[T]{mgr: mgr}
}

// New allocates a zero-valued T. The returned pointer is valid until it is
// retired and collected.
func (p *Pool[T]) New() *T { return new(T) }

// Retire queues ptr for destruction once no guard acquired before this call
// can still observe it. onDestroy, if non-nil, runs exactly once at
// collection time (typically used to discharge memory accounting — see
// internal/memacct — or decrement a ghost/real counter).
func (p *Pool[T]) Retire(ptr *T, onDestroy func(*T)) {
	p.mgr.retire(func() {
		if onDestroy != nil {
			onDestroy(ptr)
		}
	})
}

// Collect runs one reclamation pass on the underlying manager.
func (p *Pool[T]) Collect() { p.mgr.Collect() }

// Manager exposes the bound manager, e.g. so callers can Acquire a guard
// against the same epoch domain this pool retires into.
func (p *Pool[T]) Manager() *Manager { return p.mgr }

// RetireTransient immediately retires ptr without ever having installed it
// anywhere durable. This is used by the slow-path find under pressure
// (spec.md §4.6): the fetched entity is allocated, wrapped in a Guard the
// caller already holds, and retired on the spot so it becomes collectable
// once that Guard (and any other guard active right now) is released; it is
// destroyed by the first Collect after that point.
func (p *Pool[T]) RetireTransient(ptr *T) {
	p.Retire(ptr, nil)
}
