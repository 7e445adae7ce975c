// Package epoch implements epoch-based safe memory reclamation: readers pin
// the current epoch for the duration of a single operation via a cheap
// Guard, and writers retire objects for deferred destruction once no live
// guard could still be observing them.
//
// Guards are movable and thread-agnostic: a Guard acquired on one goroutine
// may be released on another — this matters because tiercache operations
// (find, upsert, patch) suspend between a map lookup and the point where the
// caller actually reads the result (see pkg/tiercache/guard.go).
//
// The Manager is a process-wide singleton (Global), matching the teacher's
// policy of never tearing down static caches/pools: destruction-order
// hazards across per-goroutine epoch state are avoided by simply never
// destroying the manager.
//
// © 2025 tiercache authors. MIT License.
package epoch

import (
	"sync"
	"sync/atomic"
)

// readerState is the bookkeeping kept per active Guard. epoch records the
// global epoch observed at acquisition time; active is cleared on Release.
type readerState struct {
	epoch  atomic.Uint64
	active atomic.Bool
}

// retiredItem is an object queued for destruction once its retirement
// epoch is no longer observable by any active reader.
type retiredItem struct {
	epoch   uint64
	destroy func()
}

// Manager owns the global epoch counter, the set of active readers, and the
// per-epoch retirement queues.
type Manager struct {
	globalEpoch atomic.Uint64

	readers      sync.Map // readerID (uint64) -> *readerState
	nextReaderID atomic.Uint64

	retiredMu sync.Mutex
	retired   map[uint64][]retiredItem
}

// NewManager constructs an empty epoch manager. Most callers should use
// Global() instead; NewManager exists for isolated tests.
func NewManager() *Manager {
	m := &Manager{retired: make(map[uint64][]retiredItem)}
	m.globalEpoch.Store(1) // 0 is reserved to mean "never observed an epoch"
	return m
}

var global = NewManager()

// Global returns the process-wide epoch manager shared by every tiercache
// instance, mirroring the teacher's policy of static, never-torn-down
// singletons (spec design notes, §9).
func Global() *Manager { return global }

// Guard is a lightweight ticket pinning the epoch observed at Acquire time.
// While any Guard acquired at or before epoch E is live, no object retired
// at epoch E may be destroyed. Guards are movable: store or pass the *Guard
// value across goroutines freely, and call Release exactly once from
// wherever its last read happens.
type Guard struct {
	mgr   *Manager
	state *readerState
	id    uint64
}

// Acquire pins the current global epoch and returns a Guard. The guard MUST
// be released exactly once; failing to release leaks reclamation progress
// (retired objects accumulate) but never memory-safety (no use-after-free
// can occur — it just means Collect makes less progress until the leaked
// guard is eventually released or the process exits).
func (m *Manager) Acquire() *Guard {
	id := m.nextReaderID.Add(1)
	st := &readerState{}
	st.epoch.Store(m.globalEpoch.Load())
	st.active.Store(true)
	m.readers.Store(id, st)
	return &Guard{mgr: m, state: st, id: id}
}

// Release ends the guarded region. Safe to call on a nil Guard (no-op) and
// safe to call from a different goroutine than the one that acquired it.
func (g *Guard) Release() {
	if g == nil || g.state == nil {
		return
	}
	g.state.active.Store(false)
	g.mgr.readers.Delete(g.id)
}

// Epoch returns the epoch this guard pinned, mostly useful for tests.
func (g *Guard) Epoch() uint64 {
	if g == nil || g.state == nil {
		return 0
	}
	return g.state.epoch.Load()
}

// retire advances the global epoch by one and files item under the epoch
// that just ended, so any guard acquired strictly before this call still
// protects it. retire is O(1) amortised (a single map-slice append under a
// mutex) and never blocks on readers.
func (m *Manager) retire(destroy func()) {
	ended := m.globalEpoch.Add(1) - 1
	m.retiredMu.Lock()
	m.retired[ended] = append(m.retired[ended], retiredItem{epoch: ended, destroy: destroy})
	m.retiredMu.Unlock()
}

// Collect scans active readers for the minimum pinned epoch and destroys
// every retired item filed strictly before that boundary. Collect is safe to
// call concurrently from multiple goroutines (the sweep driver calls it
// once per pass); destroy callbacks may run on any caller's goroutine.
func (m *Manager) Collect() {
	minSafe := m.globalEpoch.Load()
	m.readers.Range(func(_, v any) bool {
		st := v.(*readerState)
		if st.active.Load() {
			if e := st.epoch.Load(); e < minSafe {
				minSafe = e
			}
		}
		return true
	})

	m.retiredMu.Lock()
	var toRun []func()
	for e, items := range m.retired {
		if e < minSafe {
			for _, it := range items {
				toRun = append(toRun, it.destroy)
			}
			delete(m.retired, e)
		}
	}
	m.retiredMu.Unlock()

	for _, fn := range toRun {
		fn()
	}
}

// PendingRetirements reports how many objects are queued for destruction
// across all not-yet-collected epochs — used by metrics and tests.
func (m *Manager) PendingRetirements() int {
	m.retiredMu.Lock()
	defer m.retiredMu.Unlock()
	n := 0
	for _, items := range m.retired {
		n += len(items)
	}
	return n
}
