package slot

import (
	"testing"
	"time"
)

func TestEmptySlot(t *testing.T) {
	var s TaggedSlot
	if !s.IsEmpty() || s.IsGhost() || s.IsReal() {
		t.Fatalf("zero value slot must be Empty only")
	}
}

func TestRealSlotRoundTrip(t *testing.T) {
	e := &RealEntry[string]{Payload: "hello"}
	e.Meta.Seed()

	s := RealSlotFor(e)
	if !s.IsReal() || s.IsGhost() || s.IsEmpty() {
		t.Fatalf("real slot misclassified")
	}
	got := RealPtr[string](s)
	if got.Payload != "hello" {
		t.Fatalf("round trip lost payload: %q", got.Payload)
	}
}

func TestGhostPackUnpack(t *testing.T) {
	s := NewGhost(12345, 7, FormatBinaryCached|FormatJSONCached)
	if !s.IsGhost() || s.IsReal() || s.IsEmpty() {
		t.Fatalf("ghost slot misclassified")
	}
	if s.GhostBytes() != 12345 {
		t.Fatalf("byte estimate round trip: got %d", s.GhostBytes())
	}
	if s.GhostCount() != 7 {
		t.Fatalf("count round trip: got %d", s.GhostCount())
	}
	if s.GhostFormatFlags() != FormatBinaryCached|FormatJSONCached {
		t.Fatalf("format flags round trip: got %#b", s.GhostFormatFlags())
	}
}

func TestGhostClamping(t *testing.T) {
	s := NewGhost(MaxGhostBytes+1000, MaxGhostCount+1000, 0)
	if s.GhostBytes() != MaxGhostBytes {
		t.Fatalf("byte estimate not clamped: %d", s.GhostBytes())
	}
	if s.GhostCount() != MaxGhostCount {
		t.Fatalf("count not clamped: %d", s.GhostCount())
	}
}

func TestGhostWithers(t *testing.T) {
	s := NewGhost(10, 1, FormatJSONCached)
	s2 := s.WithGhostCount(99)
	if s2.GhostCount() != 99 || s2.GhostBytes() != 10 || s2.GhostFormatFlags() != FormatJSONCached {
		t.Fatalf("WithGhostCount mutated unrelated fields: %+v", s2)
	}
	s3 := s.WithGhostBytes(4096)
	if s3.GhostBytes() != 4096 || s3.GhostCount() != 1 {
		t.Fatalf("WithGhostBytes mutated unrelated fields: %+v", s3)
	}
}

func TestMetadataSeedBumpDecay(t *testing.T) {
	var m Metadata
	m.Seed()
	if m.Count() != CountScale {
		t.Fatalf("seed should set count to CountScale, got %d", m.Count())
	}
	m.Bump()
	if m.Count() != 2*CountScale {
		t.Fatalf("bump should add CountScale, got %d", m.Count())
	}
	m.Decay(0.5)
	if m.Count() != CountScale {
		t.Fatalf("decay by 0.5 should halve the count, got %d", m.Count())
	}
}

func TestMetadataTTL(t *testing.T) {
	var m Metadata
	if m.HasTTL() {
		t.Fatalf("fresh metadata must not have a TTL armed")
	}
	m.SetTTL(10 * time.Millisecond)
	if !m.HasTTL() {
		t.Fatalf("SetTTL with positive duration must arm a TTL")
	}
	if m.Expired(time.Now()) {
		t.Fatalf("must not be expired immediately")
	}
	if !m.Expired(time.Now().Add(20 * time.Millisecond)) {
		t.Fatalf("must be expired once the TTL has elapsed")
	}
	m.SetTTL(0)
	if m.HasTTL() {
		t.Fatalf("SetTTL(0) must disarm the TTL")
	}
}

func TestRealEntryLazyBuffers(t *testing.T) {
	e := &RealEntry[int]{Payload: 1}
	if e.CachedJSON() != nil || e.CachedBinary() != nil {
		t.Fatalf("fresh entry must have no cached buffers")
	}
	buf, installed := e.StoreJSON([]byte(`1`))
	if !installed {
		t.Fatalf("first StoreJSON call should install the buffer")
	}
	if string(buf) != "1" {
		t.Fatalf("unexpected buffer: %s", buf)
	}
	_, installed = e.StoreJSON([]byte(`2`))
	if installed {
		t.Fatalf("second StoreJSON call must not re-install")
	}
	if string(e.CachedJSON()) != "1" {
		t.Fatalf("cached buffer should remain the first one installed")
	}
}
