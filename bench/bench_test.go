// Package bench provides reproducible micro-benchmarks for tiercache. Run
// via: go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a single key/value shape so results are
// comparable across versions:
//   - Key   – uint64 (cheap hashing, fits in a register)
//   - Value – 64-byte struct (large enough to matter, small enough to cache)
//
// We measure:
//  1. Insert      – write-through workload
//  2. Find        – read-only workload (after warm-up, mostly L1 hits;
//     entries that warm-up sweeps evicted are re-fetched from the origin)
//  3. FindParallel – highly concurrent reads (b.RunParallel)
//  4. FindMixed   – 90% hits, 10% misses paying the origin round-trip
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live elsewhere; this file is only for performance.
//
// Adapted from the teacher's bench/bench_test.go: the Put/GetOrLoad shape
// carries over one-for-one into Insert/Find against a zero-latency Origin
// double, since tiercache no longer has a bare Put with no source of truth.
//
// © 2025 tiercache authors. MIT License.
package bench

import (
	"context"
	"math/rand"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/tiercache/tiercache/pkg/tiercache"
)

/* -------------------------------------------------------------------------
   Test harness helpers
   ------------------------------------------------------------------------- */

type value64 struct {
	_ [64]byte
}

func (value64) MemoryUsage() int64 { return 64 }

const (
	capBytes = 64 << 20 // 64 MiB budget
	keys     = 1 << 20  // 1M keys for dataset
)

// benchOrigin is a zero-latency Origin double: benchmarks measure the
// cache's own overhead, not a simulated backend's.
type benchOrigin struct{}

func (benchOrigin) Fetch(ctx context.Context, key uint64) (value64, error) {
	return value64{}, nil
}
func (benchOrigin) Insert(ctx context.Context, key uint64, v value64) (tiercache.Outcome, error) {
	return tiercache.Outcome{Affected: 1}, nil
}
func (benchOrigin) Update(ctx context.Context, key uint64, v value64) (tiercache.Outcome, error) {
	return tiercache.Outcome{Affected: 1}, nil
}
func (benchOrigin) Patch(ctx context.Context, key uint64, f map[string]any) (tiercache.Outcome, error) {
	return tiercache.Outcome{Affected: 1}, nil
}
func (benchOrigin) Delete(ctx context.Context, key uint64) (tiercache.Outcome, error) {
	return tiercache.Outcome{Affected: 1}, nil
}

func newTestCache(name string) *tiercache.Cache[uint64, value64] {
	c, err := tiercache.New[uint64, value64](name, benchOrigin{},
		tiercache.WithMaxMemory[uint64, value64](capBytes),
		tiercache.WithUpdateStrategy[uint64, value64](tiercache.PopulateImmediately))
	if err != nil {
		panic(err)
	}
	return c
}

// global dataset reused across benches to avoid reallocating large slices.
// It draws from its own source with a fixed seed, so it is the same on
// every run.
var ds = func() []uint64 {
	rnd := rand.New(rand.NewSource(42))
	arr := make([]uint64, keys)
	for i := range arr {
		arr[i] = rnd.Uint64()
	}
	return arr
}()

/* -------------------------------------------------------------------------
   Benchmarks
   ------------------------------------------------------------------------- */

func BenchmarkInsert(b *testing.B) {
	c := newTestCache("bench-insert")
	val := value64{}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := ds[i&(keys-1)]
		view, _ := c.Insert(context.Background(), key, val)
		view.Release()
	}
}

func BenchmarkFind(b *testing.B) {
	c := newTestCache("bench-find")
	val := value64{}
	for _, k := range ds {
		view, _ := c.Insert(context.Background(), k, val)
		view.Release()
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		view, _ := c.Find(context.Background(), k)
		view.Release()
	}
}

func BenchmarkFindParallel(b *testing.B) {
	c := newTestCache("bench-find-parallel")
	val := value64{}
	for _, k := range ds {
		view, _ := c.Insert(context.Background(), k, val)
		view.Release()
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			view, _ := c.Find(context.Background(), ds[idx])
			view.Release()
		}
	})
}

func BenchmarkFindMixed(b *testing.B) {
	c := newTestCache("bench-find-mixed")
	val := value64{}
	// Preload 90% of keys to simulate mixed hit/miss.
	for i, k := range ds {
		if i%10 != 0 {
			view, _ := c.Insert(context.Background(), k, val)
			view.Release()
		}
	}
	var misses atomic.Uint64
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		view, err := c.Find(context.Background(), k)
		if tiercache.IsNotFound(err) {
			misses.Add(1)
			continue
		}
		view.Release()
	}
	b.ReportMetric(float64(misses.Load())/float64(b.N)*100, "miss-%")
}

/* -------------------------------------------------------------------------
   Utility – ensure deterministic Rand for repeatability
   ------------------------------------------------------------------------- */

func init() {
	rand.Seed(42)
	runtime.GOMAXPROCS(runtime.NumCPU())
}
