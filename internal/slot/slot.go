// Package slot implements the 8-byte TaggedSlot union and the per-entry
// Metadata described in spec.md §3/§4.3: a slot is exactly one of Empty, a
// pointer to a heap-allocated RealEntry, or an inline Ghost carrying a byte
// estimate, format flags, and an access counter.
//
// Grounded on the teacher's pkg/cache.go entry[K,V] (weight/genID/state byte
// packing) and internal/clockpro's state/ref-bit constants, generalized
// from a single CLOCK-Pro status byte into the spec's full tagged-pointer
// encoding.
//
// © 2025 tiercache authors. MIT License.
package slot

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// CountScale is COUNT_SCALE from spec.md §4.3: access counts are stored
// scaled by this constant so repeated decay multiplications retain
// precision in integer arithmetic.
const CountScale = 1024

// Ghost format flags occupy bits 1-2 of a TaggedSlot.
const (
	FormatBinaryCached uint8 = 1 << 0
	FormatJSONCached   uint8 = 1 << 1
	formatMask         uint8 = 0b11
)

const (
	ghostBit         = uint64(1) << 0
	ghostFormatShift = 1
	ghostFormatBits  = uint64(formatMask)
	ghostBytesShift  = 3
	ghostBytesBits   = uint64(1)<<30 - 1 // 30 bits, ≤ 1 GiB estimate
	ghostCountShift  = 33
	ghostCountBits   = uint64(1)<<31 - 1 // 31 bits

	// MaxGhostBytes is the largest byte estimate a ghost can carry.
	MaxGhostBytes = uint32(ghostBytesBits)
	// MaxGhostCount is the largest access counter a ghost can carry.
	MaxGhostCount = uint32(ghostCountBits)
)

// TaggedSlot is the 8-byte value stored for every key in internal/cmap.
type TaggedSlot uint64

// Empty is the zero slot: the key is absent.
const Empty TaggedSlot = 0

// IsEmpty reports whether the slot represents an absent key.
func (s TaggedSlot) IsEmpty() bool { return uint64(s) == 0 }

// IsGhost reports whether the slot is an inline ghost admission record.
func (s TaggedSlot) IsGhost() bool { return uint64(s)&ghostBit != 0 }

// IsReal reports whether the slot references a heap-allocated RealEntry.
func (s TaggedSlot) IsReal() bool { return !s.IsEmpty() && !s.IsGhost() }

// RealSlotFor packs a *RealEntry[V] pointer into a TaggedSlot. Real entries
// are always allocated with new(), which on every supported Go platform
// returns addresses aligned to at least 8 bytes, so bit 0 is guaranteed
// clear.
func RealSlotFor[V any](e *RealEntry[V]) TaggedSlot {
	p := uintptr(unsafe.Pointer(e))
	if p&1 != 0 {
		panic("slot: real entry pointer is not 8-byte aligned")
	}
	return TaggedSlot(uint64(p))
}

// RealPtr reinterprets a real TaggedSlot as a *RealEntry[V]. Callers must
// only call this on slots for which IsReal() is true, and V must match the
// type the slot was created with (internal/cmap enforces this by storing
// one V per map instance).
func RealPtr[V any](s TaggedSlot) *RealEntry[V] {
	return (*RealEntry[V])(unsafe.Pointer(uintptr(s)))
}

// NewGhost packs a ghost record inline. byteEstimate and count are clamped
// to the field widths described in spec.md §3.
func NewGhost(byteEstimate, count uint32, formatFlags uint8) TaggedSlot {
	if byteEstimate > MaxGhostBytes {
		byteEstimate = MaxGhostBytes
	}
	if count > MaxGhostCount {
		count = MaxGhostCount
	}
	v := ghostBit
	v |= (uint64(formatFlags) & ghostFormatBits) << ghostFormatShift
	v |= (uint64(byteEstimate) & ghostBytesBits) << ghostBytesShift
	v |= (uint64(count) & ghostCountBits) << ghostCountShift
	return TaggedSlot(v)
}

// GhostBytes returns the inline byte estimate of a ghost slot.
func (s TaggedSlot) GhostBytes() uint32 {
	return uint32((uint64(s) >> ghostBytesShift) & ghostBytesBits)
}

// GhostCount returns the inline access counter of a ghost slot. Per
// spec.md §8, this must be > 0 for any ghost present in the map.
func (s TaggedSlot) GhostCount() uint32 {
	return uint32((uint64(s) >> ghostCountShift) & ghostCountBits)
}

// GhostFormatFlags returns the two format-cached bits of a ghost slot.
func (s TaggedSlot) GhostFormatFlags() uint8 {
	return uint8((uint64(s) >> ghostFormatShift) & ghostFormatBits)
}

// WithGhostCount rebuilds the slot with a new access counter, preserving
// byte estimate and format flags. Used by the promotion and admission
// paths (spec.md §4.6) when bumping or decaying a ghost's counter.
func (s TaggedSlot) WithGhostCount(count uint32) TaggedSlot {
	return NewGhost(s.GhostBytes(), count, s.GhostFormatFlags())
}

// WithGhostBytes rebuilds the slot with a refreshed byte estimate,
// preserving the access counter and format flags.
func (s TaggedSlot) WithGhostBytes(bytes uint32) TaggedSlot {
	return NewGhost(bytes, s.GhostCount(), s.GhostFormatFlags())
}

/* -------------------------------------------------------------------------
   Metadata — per real-entry atomic state (spec.md §3/§4.3)
   ------------------------------------------------------------------------- */

const (
	accessCountMask = uint32(1)<<31 - 1
	ghostFlagBit    = uint32(1) << 31
)

// Metadata is the atomically-updated state carried by every RealEntry. The
// low 31 bits of accessCount are the scaled access counter; bit 31 is the
// ghost flag, which is always 0 for a real entry (spec.md §3 invariant).
type Metadata struct {
	accessCount   atomic.Uint32
	hasExpiration atomic.Bool
	expirationNS  atomic.Int64
}

// Seed initialises a freshly admitted real entry's counter to the spec's
// required non-zero floor (one unscaled hit, i.e. CountScale).
func (m *Metadata) Seed() { m.accessCount.Store(CountScale) }

// SeedFrom initialises the counter from a transferred value — used when
// promoting a ghost to a real entry so the entry starts hot instead of at
// the floor (spec.md §4.6).
func (m *Metadata) SeedFrom(scaledCount uint32) {
	if scaledCount == 0 {
		scaledCount = CountScale
	}
	m.accessCount.Store(scaledCount & accessCountMask)
}

// Bump is the read-path update: a single relaxed add, never a multiply, so
// hot reads stay cheap (spec.md §4.3).
func (m *Metadata) Bump() { m.accessCount.Add(CountScale) }

// Decay is applied inline during sweep, never on the read path: it
// multiplies the scaled counter by rate ∈ (0,1) using a CAS retry loop so
// concurrent Bumps are never lost silently.
func (m *Metadata) Decay(rate float64) {
	for {
		old := m.accessCount.Load()
		scaled := old & accessCountMask
		next := uint32(float64(scaled) * rate)
		newVal := next | (old &^ accessCountMask)
		if m.accessCount.CompareAndSwap(old, newVal) {
			return
		}
	}
}

// Count returns the current scaled access counter.
func (m *Metadata) Count() uint32 { return m.accessCount.Load() & accessCountMask }

// SetTTL arms (or disarms, for d<=0) a wall-clock expiration measured from
// now. The expiration is stored as wall-clock Unix nanoseconds
// (time.Time.UnixNano), and Expired compares wall-clock readings: the
// monotonic clock reading is not kept, so a step of the system clock moves
// every armed expiration with it.
func (m *Metadata) SetTTL(d time.Duration) {
	if d <= 0 {
		m.hasExpiration.Store(false)
		return
	}
	m.expirationNS.Store(time.Now().Add(d).UnixNano())
	m.hasExpiration.Store(true)
}

// Expired reports whether the entry's TTL (if any) has elapsed as of now.
func (m *Metadata) Expired(now time.Time) bool {
	if !m.hasExpiration.Load() {
		return false
	}
	return now.UnixNano() >= m.expirationNS.Load()
}

// HasTTL reports whether an expiration is armed at all.
func (m *Metadata) HasTTL() bool { return m.hasExpiration.Load() }

/* -------------------------------------------------------------------------
   RealEntry — header (Metadata) + payload (Entity)
   ------------------------------------------------------------------------- */

// RealEntry is the heap-allocated object a real TaggedSlot points to: a
// Metadata header plus the opaque payload. Lazily-built serialised buffers
// (find_as, spec.md §4.8) are cached here so repeated calls reuse them.
type RealEntry[V any] struct {
	Meta    Metadata
	Payload V

	jsonBuf atomic.Pointer[[]byte]
	binBuf  atomic.Pointer[[]byte]
}

// CachedJSON returns the lazily-built JSON buffer, or nil if never built.
func (e *RealEntry[V]) CachedJSON() []byte {
	if p := e.jsonBuf.Load(); p != nil {
		return *p
	}
	return nil
}

// CachedBinary returns the lazily-built binary buffer, or nil if never
// built.
func (e *RealEntry[V]) CachedBinary() []byte {
	if p := e.binBuf.Load(); p != nil {
		return *p
	}
	return nil
}

// StoreJSON installs the JSON buffer if one hasn't been installed yet,
// returning the buffer actually in effect (another goroutine may have won
// the race) and whether this call was the one that installed it — the
// caller uses that to decide whether to charge memory accounting for the
// buffer's bytes exactly once.
func (e *RealEntry[V]) StoreJSON(buf []byte) (effective []byte, installed bool) {
	if e.jsonBuf.CompareAndSwap(nil, &buf) {
		return buf, true
	}
	return *e.jsonBuf.Load(), false
}

// StoreBinary is the binary-buffer counterpart of StoreJSON.
func (e *RealEntry[V]) StoreBinary(buf []byte) (effective []byte, installed bool) {
	if e.binBuf.CompareAndSwap(nil, &buf) {
		return buf, true
	}
	return *e.binBuf.Load(), false
}
