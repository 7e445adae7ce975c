package tiercache

// config.go defines the internal configuration object and the set of
// functional options passed to New[K,V]. A generic Option is used so that
// callbacks retain full type-safety with respect to the concrete key type K
// and entity type V chosen by the caller.
//
// Design notes
// ------------
// • All fields are initialised with sensible defaults in defaultConfig().
// • Options never allocate unless strictly necessary — they just capture
//   pointers to external objects (registry, logger, collaborators…).
// • The struct is unexported: users can only influence behaviour via
//   Option[K,V]. This guarantees forward compatibility.
//
// © 2025 tiercache authors. MIT License.

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// UpdateStrategy selects what happens to the L1 slot after a successful
// Insert/Upsert against the origin (spec.md §6). Patch does not consult it:
// it always re-admits the patched entity.
type UpdateStrategy int

const (
	// EvictAndLazyReload invalidates the L1 slot on write; the next find
	// repopulates it read-through.
	EvictAndLazyReload UpdateStrategy = iota
	// PopulateImmediately writes the fresh entity straight into L1 instead
	// of evicting it.
	PopulateImmediately
)

// L2Format selects the wire format used for the optional remote (L2) tier.
type L2Format int

const (
	// L2FormatJSON serialises through Entity.ToJSON.
	L2FormatJSON L2Format = iota
	// L2FormatBinary serialises through Entity.ToBinary, used only when the
	// entity declares binary support (see entity.go).
	L2FormatBinary
)

// Option is the functional option passed to New. It is generic because some
// options (the origin, the remote collaborator) refer to concrete K/V
// types.
type Option[K comparable, V Entity] func(*config[K, V])

// config bundles every knob that influences cache behaviour. All fields are
// immutable once the Cache is constructed.
type config[K comparable, V Entity] struct {
	name string

	maxMemory            int64
	cleanupFrequencyLog2 int
	decayRate            float64
	histogramAlpha       float64
	memoryCounterSlots   int
	chunkCountLog2       int
	bucketCountLog2      int
	updatePenalty        float64

	l1TTL          time.Duration
	readOnly       bool
	updateStrategy UpdateStrategy

	remote    Remote[K]
	remoteTTL time.Duration
	l2Format  L2Format

	registry *prometheus.Registry
	logger   *zap.Logger
}

func defaultConfig[K comparable, V Entity](name string) *config[K, V] {
	return &config[K, V]{
		name:                 name,
		maxMemory:            0, // disabled by default, per spec.md §6
		cleanupFrequencyLog2: 9, // every 512 insertions
		decayRate:            0.95,
		histogramAlpha:       0.3,
		memoryCounterSlots:   32,
		chunkCountLog2:       4, // 16 chunks
		bucketCountLog2:      12,
		updatePenalty:        0.25,
		updateStrategy:       EvictAndLazyReload,
		l2Format:             L2FormatJSON,
		logger:               zap.NewNop(),
	}
}

/*
   ---------------- Functional options exposed to users ----------------
*/

// WithMaxMemory sets the GDSF memory budget in bytes. Zero (the default)
// disables the eviction policy entirely — no sweeps are effective, no
// ghosts are ever installed (spec.md §8).
func WithMaxMemory[K comparable, V Entity](bytes int64) Option[K, V] {
	return func(c *config[K, V]) { c.maxMemory = bytes }
}

// WithCleanupFrequencyLog2 sets the sweep trigger amortisation: a sweep is
// scheduled once every 2^n insertions.
func WithCleanupFrequencyLog2[K comparable, V Entity](n int) Option[K, V] {
	return func(c *config[K, V]) { c.cleanupFrequencyLog2 = n }
}

// WithDecayRate overrides the per-sweep multiplicative decay applied to
// access counters, default 0.95.
func WithDecayRate[K comparable, V Entity](rate float64) Option[K, V] {
	return func(c *config[K, V]) { c.decayRate = rate }
}

// WithHistogramAlpha overrides the EMA coefficient used when folding the
// building histogram into the persistent one, default 0.3.
func WithHistogramAlpha[K comparable, V Entity](alpha float64) Option[K, V] {
	return func(c *config[K, V]) { c.histogramAlpha = alpha }
}

// WithMemoryCounterSlots overrides the striped memory-accounting counter's
// slot count. internal/memacct rounds it up to a power of two and caps it
// at 64.
func WithMemoryCounterSlots[K comparable, V Entity](slots int) Option[K, V] {
	return func(c *config[K, V]) { c.memoryCounterSlots = slots }
}

// WithChunkCountLog2 sets the number of chunks the map's buckets are
// divided into for incremental sweep (2^n, n≥1).
func WithChunkCountLog2[K comparable, V Entity](n int) Option[K, V] {
	return func(c *config[K, V]) { c.chunkCountLog2 = n }
}

// WithBucketCountLog2 sets the underlying concurrent map's bucket count
// (2^n). Must be ≥ chunkCountLog2 so every chunk owns at least one bucket.
func WithBucketCountLog2[K comparable, V Entity](n int) Option[K, V] {
	return func(c *config[K, V]) { c.bucketCountLog2 = n }
}

// WithTTL sets the L1 time-to-live for entries; zero (the default) means no
// expiration.
func WithTTL[K comparable, V Entity](d time.Duration) Option[K, V] {
	return func(c *config[K, V]) { c.l1TTL = d }
}

// WithReadOnly marks the cache read-only: write-path operations return
// ErrReadOnlyViolation without reaching the origin.
func WithReadOnly[K comparable, V Entity](ro bool) Option[K, V] {
	return func(c *config[K, V]) { c.readOnly = ro }
}

// WithUpdateStrategy selects what Insert/Upsert do to the L1 slot after a
// successful origin write.
func WithUpdateStrategy[K comparable, V Entity](s UpdateStrategy) Option[K, V] {
	return func(c *config[K, V]) { c.updateStrategy = s }
}

// WithUpdatePenalty sets the coefficient (in [0,1]) applied to a ghost's
// counter on update/patch paths, discouraging re-admission of frequently
// mutated data.
func WithUpdatePenalty[K comparable, V Entity](coef float64) Option[K, V] {
	return func(c *config[K, V]) { c.updatePenalty = coef }
}

// WithRemote plugs an L2 (remote cache) collaborator and its TTL/format.
func WithRemote[K comparable, V Entity](r Remote[K], ttl time.Duration, format L2Format) Option[K, V] {
	return func(c *config[K, V]) {
		c.remote = r
		c.remoteTTL = ttl
		c.l2Format = format
	}
}

// WithMetrics enables Prometheus metrics collection for the cache instance.
// Passing nil disables metrics (default).
func WithMetrics[K comparable, V Entity](reg *prometheus.Registry) Option[K, V] {
	return func(c *config[K, V]) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The cache never logs on the hot
// path; the only events it logs are failed asynchronous L2 calls (set_raw,
// invalidate), at warn level. Origin errors are returned to the caller and
// are not logged, and sweeps log nothing.
func WithLogger[K comparable, V Entity](l *zap.Logger) Option[K, V] {
	return func(c *config[K, V]) {
		if l != nil {
			c.logger = l
		}
	}
}

/*
   ---------------- Helper: apply options & validate ----------------
*/

func applyOptions[K comparable, V Entity](cfg *config[K, V], opts []Option[K, V]) error {
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.maxMemory < 0 {
		return errInvalidMaxMemory
	}
	if cfg.decayRate <= 0 || cfg.decayRate > 1 {
		return errInvalidDecayRate
	}
	if cfg.histogramAlpha <= 0 || cfg.histogramAlpha > 1 {
		return errInvalidHistogramAlpha
	}
	if cfg.chunkCountLog2 < 1 {
		return errInvalidChunkCount
	}
	if cfg.bucketCountLog2 < cfg.chunkCountLog2 {
		return errInvalidBucketCount
	}
	if cfg.updatePenalty < 0 || cfg.updatePenalty > 1 {
		return errInvalidUpdatePenalty
	}
	return nil
}

var (
	errInvalidMaxMemory      = errors.New("max memory must be >= 0")
	errInvalidDecayRate      = errors.New("decay rate must be in (0,1]")
	errInvalidHistogramAlpha = errors.New("histogram alpha must be in (0,1]")
	errInvalidChunkCount     = errors.New("chunk count log2 must be >= 1")
	errInvalidBucketCount    = errors.New("bucket count log2 must be >= chunk count log2")
	errInvalidUpdatePenalty  = errors.New("update penalty must be in [0,1]")
)
