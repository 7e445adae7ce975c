package tiercache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

/* -------------------------------------------------------------------------
   Test doubles
   ------------------------------------------------------------------------- */

// row is the test Entity: a plain struct with a lazily-computable JSON
// serialisation, mirroring how a real caller's domain type would implement
// JSONCacheable.
type row struct {
	ID    string
	Value int
}

func (r row) MemoryUsage() int64 { return int64(len(r.ID)) + 8 }

func (r row) ToJSON() ([]byte, error) { return json.Marshal(r) }

// fakeOrigin is an in-memory Origin[K,V] double. fetchDelay lets a test
// force two Finds to race a concurrent write.
type fakeOrigin struct {
	mu      sync.Mutex
	rows    map[string]row
	fetches atomic.Int64

	fetchErr    error
	fetchDelay  time.Duration
	coalesceAll bool
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{rows: make(map[string]row)}
}

func (o *fakeOrigin) seed(id string, v int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows[id] = row{ID: id, Value: v}
}

func (o *fakeOrigin) Fetch(ctx context.Context, key string) (row, error) {
	o.fetches.Add(1)
	if o.fetchDelay > 0 {
		time.Sleep(o.fetchDelay)
	}
	if o.fetchErr != nil {
		return row{}, o.fetchErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rows[key]
	if !ok {
		return row{}, ErrNotFound
	}
	return r, nil
}

func (o *fakeOrigin) Insert(ctx context.Context, key string, entity row) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows[key] = entity
	return Outcome{Affected: 1, Coalesced: o.coalesceAll}, nil
}

func (o *fakeOrigin) Update(ctx context.Context, key string, entity row) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows[key] = entity
	return Outcome{Affected: 1, Coalesced: o.coalesceAll}, nil
}

func (o *fakeOrigin) Patch(ctx context.Context, key string, fieldUpdates map[string]any) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rows[key]
	if !ok {
		return Outcome{Affected: 0}, nil
	}
	if v, ok := fieldUpdates["Value"]; ok {
		r.Value = v.(int)
	}
	o.rows[key] = r
	return Outcome{Affected: 1, Coalesced: o.coalesceAll}, nil
}

func (o *fakeOrigin) Delete(ctx context.Context, key string) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.rows[key]; !ok {
		return Outcome{Affected: 0}, nil
	}
	delete(o.rows, key)
	return Outcome{Affected: 1, Coalesced: o.coalesceAll}, nil
}

// fakeRemote is an in-memory Remote[K] double.
type fakeRemote struct {
	mu      sync.Mutex
	data    map[string][]byte
	setErr  error
	getHits atomic.Int64
}

func newFakeRemote() *fakeRemote { return &fakeRemote{data: make(map[string][]byte)} }

func (r *fakeRemote) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	return r.GetRawEx(ctx, key, 0)
}

func (r *fakeRemote) GetRawEx(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.data[key]
	if ok {
		r.getHits.Add(1)
	}
	return buf, ok, nil
}

func (r *fakeRemote) SetRaw(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if r.setErr != nil {
		return r.setErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = data
	return nil
}

func (r *fakeRemote) Invalidate(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not satisfied within %v", timeout)
	}
}

/* -------------------------------------------------------------------------
   Find / read-through
   ------------------------------------------------------------------------- */

func TestFindMissThenHit(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 1)
	c, err := New[string, row]("t1", origin)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	view, err := c.Find(context.Background(), "a")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !view.Found() {
		t.Fatalf("expected hit after origin fetch")
	}
	val, _ := view.Value()
	if val.Value != 1 {
		t.Fatalf("expected value 1, got %d", val.Value)
	}
	view.Release()

	if origin.fetches.Load() != 1 {
		t.Fatalf("expected exactly one origin fetch, got %d", origin.fetches.Load())
	}

	view2, err := c.Find(context.Background(), "a")
	if err != nil {
		t.Fatalf("Find (cached): %v", err)
	}
	if !view2.Found() || view2.Transient() {
		t.Fatalf("expected a non-transient L1 hit on second Find")
	}
	view2.Release()

	if origin.fetches.Load() != 1 {
		t.Fatalf("second Find must not re-fetch from origin, got %d fetches", origin.fetches.Load())
	}
}

func TestFindNotFound(t *testing.T) {
	origin := newFakeOrigin()
	c, _ := New[string, row]("t2", origin)

	view, err := c.Find(context.Background(), "missing")
	if err == nil || !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if view.Found() {
		t.Fatalf("expected empty view on miss")
	}
}

func TestConcurrentMissesSingleflightToOneFetch(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 1)
	origin.fetchDelay = 20 * time.Millisecond
	c, _ := New[string, row]("t3", origin)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := c.Find(context.Background(), "a")
			if err != nil {
				t.Errorf("Find: %v", err)
				return
			}
			view.Release()
		}()
	}
	wg.Wait()

	if origin.fetches.Load() != 1 {
		t.Fatalf("expected one deduplicated origin fetch, got %d", origin.fetches.Load())
	}
}

/* -------------------------------------------------------------------------
   FindAs / L2 participation
   ------------------------------------------------------------------------- */

func TestFindAsMemoisesAndPushesToRemote(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 42)
	remote := newFakeRemote()
	c, _ := New[string, row]("t4", origin, WithRemote[string, row](remote, time.Minute, L2FormatJSON))

	view, err := c.FindAs(context.Background(), "a", L2FormatJSON)
	if err != nil {
		t.Fatalf("FindAs: %v", err)
	}
	buf, ok := view.Value()
	if !ok {
		t.Fatalf("expected a serialised buffer")
	}
	view.Release()

	var decoded row
	if err := json.Unmarshal(buf, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Value != 42 {
		t.Fatalf("expected round-tripped value 42, got %d", decoded.Value)
	}

	hit, _ := c.Find(context.Background(), "a")
	if _, ok := hit.CachedJSON(); !ok {
		t.Fatalf("expected the JSON buffer to be memoised on the L1 entry")
	}
	hit.Release()

	waitFor(t, time.Second, func() bool {
		_, found, _ := remote.GetRaw(context.Background(), "a")
		return found
	})
}

func TestFindAsReusesRemoteBufferInsteadOfRecomputing(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 7)
	remote := newFakeRemote()
	c, _ := New[string, row]("t5", origin, WithRemote[string, row](remote, time.Minute, L2FormatJSON))

	preEncoded, _ := json.Marshal(row{ID: "a", Value: 999})
	remote.data["a"] = preEncoded

	view, err := c.FindAs(context.Background(), "a", L2FormatJSON)
	if err != nil {
		t.Fatalf("FindAs: %v", err)
	}
	buf, _ := view.Value()
	view.Release()

	var decoded row
	json.Unmarshal(buf, &decoded)
	if decoded.Value != 999 {
		t.Fatalf("expected FindAs to prefer the pre-seeded remote buffer, got %d", decoded.Value)
	}
	if remote.getHits.Load() != 1 {
		t.Fatalf("expected exactly one remote GetRawEx hit, got %d", remote.getHits.Load())
	}
}

/* -------------------------------------------------------------------------
   Write-through: Insert / Upsert / Patch / Erase
   ------------------------------------------------------------------------- */

func TestInsertPopulatesL1(t *testing.T) {
	origin := newFakeOrigin()
	c, _ := New[string, row]("t6", origin, WithUpdateStrategy[string, row](PopulateImmediately))

	view, err := c.Insert(context.Background(), "a", row{ID: "a", Value: 5})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	val, ok := view.Value()
	if !ok || val.Value != 5 {
		t.Fatalf("expected inserted value echoed back, got %+v ok=%v", val, ok)
	}
	view.Release()

	if origin.fetches.Load() != 0 {
		t.Fatalf("Insert with PopulateImmediately must not re-fetch from origin")
	}
}

func TestUpsertEvictAndLazyReloadRefetches(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 1)
	c, _ := New[string, row]("t7", origin) // default strategy: EvictAndLazyReload

	view, _ := c.Find(context.Background(), "a")
	view.Release()
	if origin.fetches.Load() != 1 {
		t.Fatalf("expected priming fetch")
	}

	uview, err := c.Upsert(context.Background(), "a", row{ID: "a", Value: 2})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !uview.Transient() {
		t.Fatalf("EvictAndLazyReload must hand back a transient view, not populate L1")
	}
	uview.Release()

	view2, err := c.Find(context.Background(), "a")
	if err != nil {
		t.Fatalf("Find after Upsert: %v", err)
	}
	val, _ := view2.Value()
	if val.Value != 2 {
		t.Fatalf("expected the updated value 2 on reload, got %d", val.Value)
	}
	view2.Release()

	if origin.fetches.Load() != 2 {
		t.Fatalf("expected exactly one re-fetch after invalidation, got %d fetches", origin.fetches.Load())
	}
}

func TestPatchAppliesFieldUpdateAndReadmits(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 1)
	c, _ := New[string, row]("t8", origin)

	view, err := c.Patch(context.Background(), "a", map[string]any{"Value": 9})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	val, ok := view.Value()
	if !ok || val.Value != 9 {
		t.Fatalf("expected patched value 9, got %+v ok=%v", val, ok)
	}
	view.Release()
}

func TestPatchOnMissingKeyReturnsNotFound(t *testing.T) {
	origin := newFakeOrigin()
	c, _ := New[string, row]("t9", origin)

	_, err := c.Patch(context.Background(), "missing", map[string]any{"Value": 1})
	if !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// patchableRow implements Patchable so Cache.Patch can update a cached copy
// in place instead of re-fetching from the origin.
type patchableRow struct {
	ID    string
	Value int
}

func (r patchableRow) MemoryUsage() int64 { return int64(len(r.ID)) + 8 }

func (r *patchableRow) ApplyPatch(fieldUpdates map[string]any) error {
	if v, ok := fieldUpdates["Value"]; ok {
		r.Value = v.(int)
	}
	return nil
}

type patchableOrigin struct {
	mu      sync.Mutex
	rows    map[string]patchableRow
	fetches atomic.Int64
}

func newPatchableOrigin() *patchableOrigin {
	return &patchableOrigin{rows: make(map[string]patchableRow)}
}

func (o *patchableOrigin) seed(id string, v int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows[id] = patchableRow{ID: id, Value: v}
}

func (o *patchableOrigin) Fetch(ctx context.Context, key string) (patchableRow, error) {
	o.fetches.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rows[key]
	if !ok {
		return patchableRow{}, ErrNotFound
	}
	return r, nil
}

func (o *patchableOrigin) Insert(ctx context.Context, key string, entity patchableRow) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows[key] = entity
	return Outcome{Affected: 1}, nil
}

func (o *patchableOrigin) Update(ctx context.Context, key string, entity patchableRow) (Outcome, error) {
	return o.Insert(ctx, key, entity)
}

func (o *patchableOrigin) Patch(ctx context.Context, key string, fieldUpdates map[string]any) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rows[key]
	if !ok {
		return Outcome{Affected: 0}, nil
	}
	if v, ok := fieldUpdates["Value"]; ok {
		r.Value = v.(int)
	}
	o.rows[key] = r
	return Outcome{Affected: 1}, nil
}

func (o *patchableOrigin) Delete(ctx context.Context, key string) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.rows[key]; !ok {
		return Outcome{Affected: 0}, nil
	}
	delete(o.rows, key)
	return Outcome{Affected: 1}, nil
}

// TestPatchOnPatchableEntityAvoidsRefetch confirms Patch applies the field
// update to the already-cached copy via ApplyPatch instead of paying a
// second origin round-trip when the entity is Patchable and already L1-hot.
func TestPatchOnPatchableEntityAvoidsRefetch(t *testing.T) {
	origin := newPatchableOrigin()
	origin.seed("a", 1)
	c, _ := New[string, patchableRow]("t8b", origin)

	view, _ := c.Find(context.Background(), "a")
	view.Release()
	if origin.fetches.Load() != 1 {
		t.Fatalf("expected one priming fetch, got %d", origin.fetches.Load())
	}

	patched, err := c.Patch(context.Background(), "a", map[string]any{"Value": 42})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	val, ok := patched.Value()
	if !ok || val.Value != 42 {
		t.Fatalf("expected patched value 42, got %+v ok=%v", val, ok)
	}
	patched.Release()

	if origin.fetches.Load() != 1 {
		t.Fatalf("expected no re-fetch after Patch on a Patchable entity, got %d fetches", origin.fetches.Load())
	}
}

func TestEraseInvalidatesL1AndL2(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 1)
	remote := newFakeRemote()
	remote.data["a"] = []byte(`{"stale":true}`)
	c, _ := New[string, row]("t10", origin, WithRemote[string, row](remote, time.Minute, L2FormatJSON))

	view, _ := c.Find(context.Background(), "a")
	view.Release()

	affected, found, err := c.Erase(context.Background(), "a")
	if err != nil || !found || affected != 1 {
		t.Fatalf("Erase: affected=%d found=%v err=%v", affected, found, err)
	}

	waitFor(t, time.Second, func() bool {
		_, found, _ := remote.GetRaw(context.Background(), "a")
		return !found
	})

	_, err = c.Find(context.Background(), "a")
	if err == nil || !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound after Erase, got %v", err)
	}
	if origin.fetches.Load() != 2 {
		t.Fatalf("expected a re-fetch on the post-erase Find, got %d fetches", origin.fetches.Load())
	}
}

func TestWriteCoalescedSkipsL1Mutation(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 1)
	origin.coalesceAll = true
	c, _ := New[string, row]("t11", origin, WithUpdateStrategy[string, row](PopulateImmediately))

	view, _ := c.Find(context.Background(), "a")
	view.Release()

	uview, err := c.Upsert(context.Background(), "a", row{ID: "a", Value: 50})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !uview.Transient() {
		t.Fatalf("a coalesced write must return a transient view, never mutate L1 directly")
	}
	uview.Release()

	view2, _ := c.Find(context.Background(), "a")
	val, _ := view2.Value()
	view2.Release()
	if val.Value != 1 {
		t.Fatalf("coalesced write must not have touched the still-cached stale entry, got %d", val.Value)
	}
}

/* -------------------------------------------------------------------------
   Generation counters / stale-write protection
   ------------------------------------------------------------------------- */

func TestReadOnlyRejectsWrites(t *testing.T) {
	origin := newFakeOrigin()
	c, _ := New[string, row]("t12", origin, WithReadOnly[string, row](true))

	if _, err := c.Insert(context.Background(), "a", row{ID: "a", Value: 1}); err != ErrReadOnlyViolation {
		t.Fatalf("expected ErrReadOnlyViolation from Insert, got %v", err)
	}
	if _, err := c.Patch(context.Background(), "a", nil); err != ErrReadOnlyViolation {
		t.Fatalf("expected ErrReadOnlyViolation from Patch, got %v", err)
	}
	if _, _, err := c.Erase(context.Background(), "a"); err != ErrReadOnlyViolation {
		t.Fatalf("expected ErrReadOnlyViolation from Erase, got %v", err)
	}
}

func TestInvalidateRacingSlowFetchYieldsTransient(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 1)
	origin.fetchDelay = 30 * time.Millisecond
	c, _ := New[string, row]("t13", origin)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		c.Invalidate(context.Background(), "a")
	}()

	view, err := c.Find(context.Background(), "a")
	wg.Wait()
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !view.Transient() {
		t.Fatalf("a fetch racing a concurrent invalidate must return a transient view, not populate L1 with stale data")
	}
	view.Release()
}

/* -------------------------------------------------------------------------
   TTL expiry
   ------------------------------------------------------------------------- */

// TestTTLExpiryForcesRefetch exercises the literal property: once l1_ttl
// elapses, Find reports the key as gone immediately, before any sweep ever
// runs — no SweepOneChunk call here on purpose.
func TestTTLExpiryForcesRefetch(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 1)
	c, _ := New[string, row]("t14", origin, WithTTL[string, row](10*time.Millisecond))

	view, _ := c.Find(context.Background(), "a")
	view.Release()
	if origin.fetches.Load() != 1 {
		t.Fatalf("expected priming fetch")
	}

	time.Sleep(20 * time.Millisecond)

	view2, err := c.Find(context.Background(), "a")
	if err != nil {
		t.Fatalf("Find after TTL expiry: %v", err)
	}
	view2.Release()
	if origin.fetches.Load() != 2 {
		t.Fatalf("expected a re-fetch after TTL expiry, got %d fetches", origin.fetches.Load())
	}
}

/* -------------------------------------------------------------------------
   Admission under memory pressure
   ------------------------------------------------------------------------- */

// bigRow is a heavyweight Entity used to push memory usage above the
// pressure threshold with a single admitted entry.
type bigRow struct {
	ID   string
	Blob []byte
}

func (b bigRow) MemoryUsage() int64 { return int64(len(b.Blob)) }

type bigOrigin struct {
	mu   sync.Mutex
	rows map[string]bigRow
}

func (o *bigOrigin) Fetch(ctx context.Context, key string) (bigRow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rows[key]
	if !ok {
		return bigRow{}, ErrNotFound
	}
	return r, nil
}
func (o *bigOrigin) Insert(ctx context.Context, key string, e bigRow) (Outcome, error) {
	return Outcome{Affected: 1}, nil
}
func (o *bigOrigin) Update(ctx context.Context, key string, e bigRow) (Outcome, error) {
	return Outcome{Affected: 1}, nil
}
func (o *bigOrigin) Patch(ctx context.Context, key string, f map[string]any) (Outcome, error) {
	return Outcome{Affected: 1}, nil
}
func (o *bigOrigin) Delete(ctx context.Context, key string) (Outcome, error) {
	return Outcome{Affected: 1}, nil
}

func TestAdmissionUnderPressureInstallsGhostNotRealEntry(t *testing.T) {
	origin := &bigOrigin{rows: make(map[string]bigRow)}
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("k%d", i)
		origin.rows[id] = bigRow{ID: id, Blob: make([]byte, 600)}
	}
	c, _ := New[string, bigRow]("t15", origin, WithMaxMemory[string, bigRow](1000))

	// Prime the cache past 50% usage with an uncontested admission (no
	// pressure yet at usage=0), then simulate a sweep having derived an
	// aggressive threshold from an as-yet-empty persistent histogram —
	// internal/gdsf/histogram_test.go covers how that threshold evolves
	// over real sweeps; here it's forced directly so this test isolates
	// fetchAndAdmit's pressure/no-pressure branching.
	view, err := c.Find(context.Background(), "k0")
	if err != nil {
		t.Fatalf("Find k0: %v", err)
	}
	if view.Transient() {
		t.Fatalf("first admission at usage=0 must not be under pressure")
	}
	view.Release()
	c.Threshold(1.0)

	view2, err := c.Find(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Find k1: %v", err)
	}
	if !view2.Transient() {
		t.Fatalf("under pressure against a forced high threshold, expect a transient (ghost-admission) result")
	}
	view2.Release()

	if c.Len() != 2 {
		t.Fatalf("expected k0 (real) and k1 (ghost) both present, got Len=%d", c.Len())
	}
}

func TestGhostNeverDemotesConcurrentlyAdmittedRealEntry(t *testing.T) {
	origin := newFakeOrigin()
	origin.seed("a", 1)
	origin.fetchDelay = 10 * time.Millisecond
	c, _ := New[string, row]("t16", origin)

	// With no memory pressure, the first Find admits a real entry; the
	// second Find must still see it as a live, non-transient L1 hit, i.e.
	// the read path never turned it back into a ghost. No ghost is
	// installed and no concurrent write is raced here.
	view, err := c.Find(context.Background(), "a")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if view.Transient() {
		t.Fatalf("no pressure configured: expected a real, non-transient admission")
	}
	view.Release()

	view2, _ := c.Find(context.Background(), "a")
	if !view2.Found() || view2.Transient() {
		t.Fatalf("expected the previously admitted real entry to still be a live L1 hit")
	}
	view2.Release()
}
