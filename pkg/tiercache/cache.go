package tiercache

// cache.go is the read-through/write-through cache layer façade described in
// spec.md §4.8: find, find_as, insert/upsert, patch, erase, invalidate,
// composed with an Origin (L3) and an optional Remote (L2) collaborator.
//
// Grounded on the teacher's pkg/cache.go Cache[K,V] (top-level struct wiring
// a key-space store to a generation/eviction backend) and pkg/loader.go's
// singleflight-based GetOrLoad, generalized from "opaque V, no write path"
// into the spec's five write-through operations plus GDSF-aware read-miss
// admission.
//
// © 2025 tiercache authors. MIT License.

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tiercache/tiercache/internal/cmap"
	"github.com/tiercache/tiercache/internal/epoch"
	"github.com/tiercache/tiercache/internal/gdsf"
	"github.com/tiercache/tiercache/internal/genctr"
	"github.com/tiercache/tiercache/internal/keyhash"
	"github.com/tiercache/tiercache/internal/memacct"
	"github.com/tiercache/tiercache/internal/slot"
	"github.com/tiercache/tiercache/internal/sweep"
)

// Cache is a read-through/write-through L1 in-memory cache for entities of
// type V keyed by K, optionally backed by an L2 remote cache and always
// backed by an L3 origin.
type Cache[K comparable, V Entity] struct {
	cfg    *config[K, V]
	origin Origin[K, V]

	m    *cmap.Map[K, V]
	mem  *memacct.Counter
	hist *gdsf.Histogram
	pool *epoch.Pool[slot.RealEntry[V]]
	gens *genctr.Table

	fetchCost gdsf.FetchCostEMA
	reads     singleflight.Group

	sweepCursor      atomic.Uint64
	currentThreshold atomic.Uint64 // float64 bits, written by Threshold()

	enrollOnce sync.Once
	metrics    metricsSink
}

// New constructs a Cache backed by origin, named for metrics/logging
// purposes. Name should be stable and unique per static cache instance,
// matching spec.md §3's "each static cache is a process-global singleton".
func New[K comparable, V Entity](name string, origin Origin[K, V], opts ...Option[K, V]) (*Cache[K, V], error) {
	if origin == nil {
		return nil, errors.New("tiercache: origin must not be nil")
	}
	cfg := defaultConfig[K, V](name)
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	c := &Cache[K, V]{
		cfg:     cfg,
		origin:  origin,
		m:       cmap.New[K, V](cfg.bucketCountLog2),
		mem:     memacct.New(cfg.memoryCounterSlots, cfg.maxMemory),
		hist:    gdsf.NewHistogram(),
		pool:    epoch.NewPool[slot.RealEntry[V]](epoch.Global()),
		gens:    genctr.NewTable(),
		metrics: newMetricsSink(name, cfg.registry),
	}
	c.enroll()
	return c, nil
}

func (c *Cache[K, V]) enroll() {
	c.enrollOnce.Do(func() { sweep.Register(c) })
}

/* -------------------------------------------------------------------------
   sweep.RepoEntry implementation
   ------------------------------------------------------------------------- */

// Name identifies this cache for metrics/logging/registry introspection.
func (c *Cache[K, V]) Name() string { return c.cfg.name }

// Usage returns current_memory / max_memory, or 0 if accounting is disabled.
func (c *Cache[K, V]) Usage() float64 { return c.mem.Usage() }

// Threshold derives and caches the GDSF score threshold for usage, so the
// hot read-miss path can consult it without re-walking the histogram.
func (c *Cache[K, V]) Threshold(usage float64) (float64, int64) {
	threshold, bytesToFree := c.hist.Threshold(usage, c.cfg.maxMemory)
	c.currentThreshold.Store(math.Float64bits(threshold))
	return threshold, bytesToFree
}

func (c *Cache[K, V]) loadThreshold() float64 {
	b := c.currentThreshold.Load()
	if b == 0 {
		return 0
	}
	return math.Float64frombits(b)
}

// ResetBuildingHistogram clears the per-sweep histogram.
func (c *Cache[K, V]) ResetBuildingHistogram() { c.hist.ResetBuilding() }

// MergeHistogramEMA folds the building histogram into the persistent one
// using this cache's own configured alpha (the sweep driver's alpha
// argument is the process-wide default; a per-cache WithHistogramAlpha
// override takes precedence, which is why this cache ignores the
// argument).
func (c *Cache[K, V]) MergeHistogramEMA(float64) { c.hist.MergeEMA(c.cfg.histogramAlpha) }

// OverBudget reports whether this cache's memory accounting is currently
// above MAX_MEMORY.
func (c *Cache[K, V]) OverBudget() bool { return c.mem.OverBudget() }

/* -------------------------------------------------------------------------
   Sweep: chunked cleanup predicate (spec.md §4.6)
   ------------------------------------------------------------------------- */

type ghostCandidate[K comparable] struct {
	hash  uint64
	key   K
	count uint32
	bytes uint32
}

// SweepOneChunk advances this cache's round-robin chunk cursor by one and
// applies the cleanup predicate to every slot in that chunk: ghosts decay
// and are dropped at zero; real entries decay, record (score, bytes) into
// the building histogram, and are evicted past TTL or below threshold.
// Ghost candidates for evicted entries are materialised only after the
// walk completes, via InsertIfAbsent, so admission control never demotes a
// live entry that was concurrently re-inserted mid-walk.
func (c *Cache[K, V]) SweepOneChunk(threshold float64, queueGhosts bool) int64 {
	bucketCount := c.m.BucketCount()
	chunkCount := 1 << uint(c.cfg.chunkCountLog2)
	bucketsPerChunk := bucketCount / chunkCount
	if bucketsPerChunk < 1 {
		bucketsPerChunk = 1
	}

	idx := int(c.sweepCursor.Add(1)-1) % chunkCount
	start := idx * bucketsPerChunk
	end := start + bucketsPerChunk

	var freed int64
	var candidates []ghostCandidate[K]
	now := time.Now()

	c.m.ForEachBucketInRange(start, end, func(hash uint64, key K, s cmap.TaggedSlot) (cmap.Action, cmap.TaggedSlot) {
		if s.IsGhost() {
			next := uint32(float64(s.GhostCount()) * c.cfg.decayRate)
			if next == 0 {
				c.mem.Charge(-int64(s.GhostBytes()))
				return cmap.ActionRemove, cmap.TaggedSlot(0)
			}
			return cmap.ActionUpdate, s.WithGhostCount(next)
		}
		if s.IsEmpty() {
			return cmap.ActionKeep, cmap.TaggedSlot(0)
		}

		real := slot.RealPtr[V](s)
		real.Meta.Decay(c.cfg.decayRate)
		count := real.Meta.Count()
		bytes := real.Payload.MemoryUsage()
		score := gdsf.Score(count, c.fetchCost.Load(), bytes)
		c.hist.Record(score, bytes)

		if real.Meta.HasTTL() && real.Meta.Expired(now) {
			c.retireReal(real)
			c.mem.Charge(-bytes)
			freed += bytes
			c.metrics.incEviction()
			return cmap.ActionRemove, cmap.TaggedSlot(0)
		}

		if threshold > 0 && score < threshold {
			c.retireReal(real)
			c.mem.Charge(-bytes)
			freed += bytes
			if queueGhosts {
				candidates = append(candidates, ghostCandidate[K]{
					hash:  hash,
					key:   key,
					count: count,
					bytes: clampGhostBytes(bytes),
				})
				c.metrics.incEvictionToGhost()
			} else {
				c.metrics.incEviction()
			}
			return cmap.ActionRemove, cmap.TaggedSlot(0)
		}
		return cmap.ActionKeep, cmap.TaggedSlot(0)
	})

	for _, cand := range candidates {
		g := slot.NewGhost(cand.bytes, cand.count, 0)
		if c.m.InsertIfAbsent(cand.hash, cand.key, g) {
			c.mem.Charge(int64(g.GhostBytes()))
			c.metrics.incGhostInstall()
		}
	}

	c.metrics.setMemoryBytes(c.mem.Total())
	c.metrics.setUsage(c.mem.Usage())
	c.pool.Collect()
	return freed
}

func clampGhostBytes(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > int64(slot.MaxGhostBytes) {
		return slot.MaxGhostBytes
	}
	return uint32(v)
}

func (c *Cache[K, V]) retireReal(real *slot.RealEntry[V]) {
	c.pool.Retire(real, nil)
}

func (c *Cache[K, V]) maybeTriggerSweep(h uint64) {
	mask := uint64(1)<<uint(c.cfg.cleanupFrequencyLog2) - 1
	if h&mask == 0 {
		sweep.TriggerAsync()
	}
}

/* -------------------------------------------------------------------------
   Read path: Find / FindAs
   ------------------------------------------------------------------------- */

// Find performs a read-through lookup: an L1 hit bumps the access counter
// and returns immediately without suspending; an L1 miss fetches through
// the origin and either admits the result, installs/refreshes a ghost, or
// (on a race with a concurrent write) returns a transient view.
func (c *Cache[K, V]) Find(ctx context.Context, key K) (GuardedView[V], error) {
	h := keyhash.Of(key)
	guard := c.pool.Manager().Acquire()

	s, ok := c.m.Find(h, key)
	if ok && s.IsReal() {
		real := slot.RealPtr[V](s)
		if !real.Meta.Expired(time.Now()) {
			real.Meta.Bump()
			c.metrics.incHit()
			return realView(guard, real), nil
		}
		// Expired but not yet swept: spec.md §8 scenario 5 requires an
		// expired entry to report empty immediately, without waiting on
		// the next sweep pass to physically remove the slot. Treat it as
		// absent rather than handing its (real, non-ghost) slot bits to
		// fetchAndAdmit, which interprets a non-real "existing" slot as
		// ghost metadata.
		s = cmap.TaggedSlot(0)
	}

	c.metrics.incMiss()
	return c.fetchAndAdmit(ctx, guard, h, key, s)
}

// FindAs returns a guarded view over the entity's cached serialised bytes
// in the requested format, computing and memoising the buffer on first
// use. The memory cost of a newly-built buffer is charged to this cache's
// accounting counter exactly once (spec.md §4.8). If an L2 remote
// collaborator is configured for this format, a locally-built buffer is
// also pushed there so subsequent L1-cold reads (on this or another
// process) can skip recomputing it.
func (c *Cache[K, V]) FindAs(ctx context.Context, key K, format L2Format) (GuardedView[[]byte], error) {
	view, err := c.Find(ctx, key)
	if err != nil {
		return GuardedView[[]byte]{}, err
	}
	if !view.Found() {
		view.Release()
		return GuardedView[[]byte]{}, ErrNotFound
	}

	buf, err := c.serialize(ctx, key, view.entry, format)
	if err != nil {
		view.Release()
		return GuardedView[[]byte]{}, permanentf("serialize %v: %v", key, err)
	}

	carrier := &slot.RealEntry[[]byte]{}
	carrier.Payload = buf
	return GuardedView[[]byte]{guard: view.guard, entry: carrier, transient: view.transient}, nil
}

// serialize returns the entry's cached buffer for format, consulting the L2
// remote before recomputing locally: spec.md §6 only prescribes a codec
// between the core and the database origin (from_row/to_insert_params,
// treated as origin-internal per entity.go); it names no Entity->bytes
// decode contract for L2, so the core never decodes raw L2 bytes back into
// a typed Entity — L2 is purely a cache for the byte view this method
// produces, populated lazily the first time any process computes it.
func (c *Cache[K, V]) serialize(ctx context.Context, key K, real *slot.RealEntry[V], format L2Format) ([]byte, error) {
	remote := c.cfg.remote
	useRemote := remote != nil && format == c.cfg.l2Format

	if format == L2FormatBinary {
		if bc, ok := any(real.Payload).(BinaryCacheable); ok && bc.HasBinarySerialization() {
			if cached := real.CachedBinary(); cached != nil {
				return cached, nil
			}
			if useRemote {
				if raw, found, _ := remote.GetRawEx(ctx, key, c.cfg.remoteTTL); found {
					effective, installed := real.StoreBinary(raw)
					if installed {
						c.mem.Charge(int64(len(effective)))
					}
					return effective, nil
				}
			}
			raw, err := bc.ToBinary()
			if err != nil {
				return nil, err
			}
			effective, installed := real.StoreBinary(raw)
			if installed {
				c.mem.Charge(int64(len(effective)))
			}
			if useRemote {
				c.asyncSetRemote(key, effective)
			}
			return effective, nil
		}
	}
	if jc, ok := any(real.Payload).(JSONCacheable); ok {
		if cached := real.CachedJSON(); cached != nil {
			return cached, nil
		}
		if useRemote {
			if raw, found, _ := remote.GetRawEx(ctx, key, c.cfg.remoteTTL); found {
				effective, installed := real.StoreJSON(raw)
				if installed {
					c.mem.Charge(int64(len(effective)))
				}
				return effective, nil
			}
		}
		raw, err := jc.ToJSON()
		if err != nil {
			return nil, err
		}
		effective, installed := real.StoreJSON(raw)
		if installed {
			c.mem.Charge(int64(len(effective)))
		}
		if useRemote {
			c.asyncSetRemote(key, effective)
		}
		return effective, nil
	}
	return nil, fmt.Errorf("tiercache: entity does not implement the requested serialisation")
}

func (c *Cache[K, V]) asyncSetRemote(key K, buf []byte) {
	remote := c.cfg.remote
	ttl := c.cfg.remoteTTL
	logger := c.cfg.logger
	go func() {
		if err := remote.SetRaw(context.Background(), key, buf, ttl); err != nil {
			logger.Warn("tiercache: remote set_raw failed", zap.Any("key", key), zap.Error(err))
		}
	}()
}

// fetchFromOrigin dedups concurrent identical fetches through singleflight,
// keyed by the key's hash, so a thundering herd on an L1 miss results in
// exactly one origin call. Grounded on the teacher's pkg/loader.go
// loaderGroup.
func (c *Cache[K, V]) fetchFromOrigin(ctx context.Context, h uint64, key K) (V, error) {
	k := strconv.FormatUint(h, 16)
	res, err, _ := c.reads.Do(k, func() (any, error) {
		start := time.Now()
		e, ferr := c.origin.Fetch(ctx, key)
		c.fetchCost.Update(float64(time.Since(start).Microseconds()))
		if ferr != nil {
			return nil, ferr
		}
		return e, nil
	})
	if err != nil {
		var zero V
		return zero, classifyOriginErr(err)
	}
	return res.(V), nil
}

func (c *Cache[K, V]) fetchAndAdmit(ctx context.Context, guard *epoch.Guard, h uint64, key K, existing cmap.TaggedSlot) (GuardedView[V], error) {
	before := c.gens.Load(h)

	entity, err := c.fetchFromOrigin(ctx, h, key)
	if err != nil {
		guard.Release()
		return emptyView[V](), err
	}

	bytes := entity.MemoryUsage()
	pressure := c.mem.Enabled() && c.mem.Usage() >= 0.5

	if !pressure {
		return c.admit(guard, h, key, entity, before)
	}

	threshold := c.loadThreshold()
	count := existing.GhostCount()
	if count == 0 {
		count = slot.CountScale
	}
	score := gdsf.Score(count, c.fetchCost.Load(), bytes)

	if score >= threshold {
		return c.admit(guard, h, key, entity, before)
	}

	newCount := slot.CountScale
	if existing.IsGhost() {
		newCount = existing.GhostCount() + slot.CountScale
		if newCount < existing.GhostCount() {
			newCount = slot.MaxGhostCount
		}
	}
	newGhost := slot.NewGhost(clampGhostBytes(bytes), newCount, 0)

	// mergeable runs under the bucket lock against whatever is actually
	// there right now: if a concurrent admit already installed a real
	// entry for this key, keep it — a ghost must never demote a live
	// entry (spec.md §4.6).
	var prior cmap.TaggedSlot
	installed, _ := c.m.Upsert(h, key, newGhost, func(old cmap.TaggedSlot) cmap.TaggedSlot {
		prior = old
		if old.IsReal() {
			return old
		}
		return newGhost
	})

	if !installed.IsReal() {
		if prior.IsGhost() {
			c.mem.Charge(int64(installed.GhostBytes()) - int64(prior.GhostBytes()))
		} else {
			c.mem.Charge(int64(installed.GhostBytes()))
		}
		c.metrics.incGhostInstall()
	}

	return c.returnTransient(guard, entity), nil
}

// admit installs the freshly fetched entity as a real entry, unless a
// concurrent write raced the fetch (observed via the generation counter),
// in which case the entity is handed back as a transient view without ever
// touching the map (spec.md §8 scenario 6). installReal observes the
// actual prior slot atomically under the bucket lock, rather than a
// snapshot taken before the origin fetch, so two concurrent misses on the
// same key never double-charge memory or leak an orphaned real entry.
func (c *Cache[K, V]) admit(guard *epoch.Guard, h uint64, key K, entity V, beforeGen uint64) (GuardedView[V], error) {
	if !c.gens.Unchanged(h, beforeGen) {
		return c.returnTransient(guard, entity), nil
	}

	entry, promoted := c.installReal(h, key, entity)
	if promoted {
		c.metrics.incPromotion()
	}
	return realView(guard, entry), nil
}

func (c *Cache[K, V]) returnTransient(guard *epoch.Guard, entity V) GuardedView[V] {
	entry := c.pool.New()
	entry.Meta.Seed()
	entry.Payload = entity
	c.pool.RetireTransient(entry)
	return transientView(guard, entry)
}

/* -------------------------------------------------------------------------
   Write path: Insert / Upsert / Patch / Erase / Invalidate
   ------------------------------------------------------------------------- */

type originWriteFn[K comparable, V Entity] func(ctx context.Context, key K, entity V) (Outcome, error)

// Insert writes entity to the origin as a new row, then admits it to L1.
func (c *Cache[K, V]) Insert(ctx context.Context, key K, entity V) (GuardedView[V], error) {
	return c.write(ctx, key, entity, c.origin.Insert)
}

// Upsert writes entity to the origin (full overwrite), then admits it.
func (c *Cache[K, V]) Upsert(ctx context.Context, key K, entity V) (GuardedView[V], error) {
	return c.write(ctx, key, entity, c.origin.Update)
}

func (c *Cache[K, V]) write(ctx context.Context, key K, entity V, originCall originWriteFn[K, V]) (GuardedView[V], error) {
	if c.cfg.readOnly {
		return emptyView[V](), ErrReadOnlyViolation
	}
	h := keyhash.Of(key)

	outcome, err := originCall(ctx, key, entity)
	if err != nil {
		return emptyView[V](), classifyOriginErr(err)
	}

	// Per spec.md §9's resolved open question: followers also bump the
	// generation counter, since correct invalidation outranks the
	// throughput cost of one extra atomic add.
	c.gens.Bump(h)

	if outcome.Coalesced {
		c.metrics.incCoalesced()
		guard := c.pool.Manager().Acquire()
		return c.returnTransient(guard, entity), nil
	}

	c.penalizeGhost(h, key)

	guard := c.pool.Manager().Acquire()

	if c.cfg.updateStrategy == EvictAndLazyReload {
		if old, existed := c.m.Remove(h, key); existed {
			c.chargeInvalidation(old)
			if old.IsReal() {
				c.retireReal(slot.RealPtr[V](old))
			}
		}
		c.maybeTriggerSweep(h)
		return c.returnTransient(guard, entity), nil
	}

	entry, _ := c.installReal(h, key, entity)
	c.maybeTriggerSweep(h)
	return realView(guard, entry), nil
}

// penalizeGhost multiplies a ghost's counter by cfg.updatePenalty, if one is
// currently installed for (h, key). The mergeable callback re-checks the
// slot under the bucket lock so a real entry concurrently admitted for the
// same key is never clobbered by a stale penalty write (spec.md §4.6).
func (c *Cache[K, V]) penalizeGhost(h uint64, key K) {
	existing, _ := c.m.Find(h, key)
	if !existing.IsGhost() {
		return
	}
	c.m.Upsert(h, key, slot.Empty, func(old cmap.TaggedSlot) cmap.TaggedSlot {
		if old.IsGhost() {
			return old.WithGhostCount(uint32(float64(old.GhostCount()) * c.cfg.updatePenalty))
		}
		return old
	})
}

// installReal admits entity as a fresh real entry for (h, key), charging
// memory accounting and seeding the entry's counter from whatever slot was
// actually present at install time (observed atomically via mergeable,
// never from a snapshot taken earlier) and retiring any displaced real
// entry.
func (c *Cache[K, V]) installReal(h uint64, key K, entity V) (entry *slot.RealEntry[V], promoted bool) {
	entry = c.pool.New()
	if c.cfg.l1TTL > 0 {
		entry.Meta.SetTTL(c.cfg.l1TTL)
	}
	entry.Payload = entity
	newBytes := entity.MemoryUsage()
	newSlot := slot.RealSlotFor[V](entry)

	var prior cmap.TaggedSlot
	c.m.Upsert(h, key, newSlot, func(old cmap.TaggedSlot) cmap.TaggedSlot {
		prior = old
		return newSlot
	})

	switch {
	case prior.IsGhost():
		entry.Meta.SeedFrom(prior.GhostCount())
		c.mem.Charge(newBytes - int64(prior.GhostBytes()))
		promoted = true
	case prior.IsReal():
		old := slot.RealPtr[V](prior)
		entry.Meta.SeedFrom(old.Meta.Count())
		c.mem.Charge(newBytes - old.Payload.MemoryUsage())
		c.retireReal(old)
	default:
		entry.Meta.Seed()
		c.mem.Charge(newBytes)
	}
	return entry, promoted
}

// Patch writes a sparse field update to the origin, evicts any stale L1
// slot, applies the configurable ghost update penalty, and re-admits the
// origin's resulting row.
func (c *Cache[K, V]) Patch(ctx context.Context, key K, fieldUpdates map[string]any) (GuardedView[V], error) {
	if c.cfg.readOnly {
		return emptyView[V](), ErrReadOnlyViolation
	}
	h := keyhash.Of(key)

	outcome, err := c.origin.Patch(ctx, key, fieldUpdates)
	if err != nil {
		return emptyView[V](), classifyOriginErr(err)
	}
	if outcome.Affected == 0 {
		return emptyView[V](), ErrNotFound
	}

	c.gens.Bump(h)

	if outcome.Coalesced {
		c.metrics.incCoalesced()
		return emptyView[V](), nil
	}

	c.penalizeGhost(h, key)

	// Only a real, now-stale entry is evicted here — a ghost just
	// penalised above is left in place so its discounted count still
	// seeds the re-admitted entry below (spec.md §4.6). Its payload is
	// captured before retirement so a Patchable entity can be updated in
	// place below instead of paying a second origin round-trip.
	var prior V
	havePrior := false
	c.m.RemoveIf(h, key, func(s cmap.TaggedSlot) bool {
		if !s.IsReal() {
			return false
		}
		old := slot.RealPtr[V](s)
		prior = old.Payload
		havePrior = true
		c.chargeInvalidation(s)
		c.retireReal(old)
		return true
	})

	fresh, ok := prior, havePrior
	if ok {
		// ApplyPatch runs against a local copy of the prior payload, never
		// against the retired entry itself, so concurrent readers still
		// holding a guard over the old entry never observe the mutation.
		if p, isPatchable := any(&fresh).(Patchable); isPatchable {
			if err := p.ApplyPatch(fieldUpdates); err != nil {
				ok = false
			}
		} else {
			ok = false
		}
	}
	if !ok {
		var err error
		fresh, err = c.fetchFromOrigin(ctx, h, key)
		if err != nil {
			return emptyView[V](), err
		}
	}

	guard := c.pool.Manager().Acquire()
	entry, _ := c.installReal(h, key, fresh)
	c.maybeTriggerSweep(h)
	return realView(guard, entry), nil
}

// Erase deletes key from the origin and, on a positive outcome, invalidates
// the cache. found is false if the origin reported no affected rows.
func (c *Cache[K, V]) Erase(ctx context.Context, key K) (affected int64, found bool, err error) {
	if c.cfg.readOnly {
		return 0, false, ErrReadOnlyViolation
	}
	h := keyhash.Of(key)

	outcome, err := c.origin.Delete(ctx, key)
	if err != nil {
		return 0, false, classifyOriginErr(err)
	}
	if outcome.Affected == 0 {
		return 0, false, nil
	}

	c.gens.Bump(h)
	if outcome.Coalesced {
		c.metrics.incCoalesced()
		return outcome.Affected, true, nil
	}

	c.invalidateLocal(h, key)
	c.asyncInvalidateRemote(key)
	return outcome.Affected, true, nil
}

// Invalidate synchronously removes key from L1 and asynchronously
// invalidates it on L2, bumping the key's generation counter so any
// in-flight slow-path fetch discovers the race (spec.md §4.8).
func (c *Cache[K, V]) Invalidate(ctx context.Context, key K) {
	h := keyhash.Of(key)
	c.gens.Bump(h)
	c.invalidateLocal(h, key)
	c.asyncInvalidateRemote(key)
}

func (c *Cache[K, V]) invalidateLocal(h uint64, key K) {
	if old, existed := c.m.Remove(h, key); existed {
		c.chargeInvalidation(old)
		if old.IsReal() {
			c.retireReal(slot.RealPtr[V](old))
		}
	}
}

func (c *Cache[K, V]) chargeInvalidation(old cmap.TaggedSlot) {
	switch {
	case old.IsReal():
		real := slot.RealPtr[V](old)
		c.mem.Charge(-real.Payload.MemoryUsage())
	case old.IsGhost():
		c.mem.Charge(-int64(old.GhostBytes()))
	}
}

func (c *Cache[K, V]) asyncInvalidateRemote(key K) {
	remote := c.cfg.remote
	if remote == nil {
		return
	}
	logger := c.cfg.logger
	go func() {
		if err := remote.Invalidate(context.Background(), key); err != nil {
			logger.Warn("tiercache: remote invalidate failed", zap.Any("key", key), zap.Error(err))
		}
	}()
}

// Len reports the approximate number of live (key, slot) pairs — real
// entries and ghosts combined.
func (c *Cache[K, V]) Len() int { return c.m.Len() }

// MemoryBytes reports the current memory-accounting total.
func (c *Cache[K, V]) MemoryBytes() int64 { return c.mem.Total() }

func classifyOriginErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, ErrOriginPermanent):
		return err
	case errors.Is(err, ErrOriginTransient):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrOriginTransient, err)
	}
}
