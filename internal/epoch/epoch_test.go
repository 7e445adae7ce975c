package epoch

import (
	"sync"
	"testing"
)

func TestGuardDelaysRetirement(t *testing.T) {
	m := NewManager()
	g := m.Acquire()

	destroyed := false
	m.retire(func() { destroyed = true })

	m.Collect()
	if destroyed {
		t.Fatalf("object destroyed while a guard acquired before retirement is still live")
	}

	g.Release()
	m.Collect()
	if !destroyed {
		t.Fatalf("object not destroyed after the only blocking guard released")
	}
}

func TestGuardReleasedOnDifferentGoroutine(t *testing.T) {
	m := NewManager()
	g := m.Acquire()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Release()
	}()
	wg.Wait()

	destroyed := make(chan struct{})
	m.retire(func() { close(destroyed) })
	m.Collect()

	select {
	case <-destroyed:
	default:
		t.Fatalf("object not destroyed after guard released on another goroutine")
	}
}

func TestPoolRetireAndCollect(t *testing.T) {
	mgr := NewManager()
	p := NewPool[int](mgr)

	v := p.New()
	*v = 42

	var gotVal int
	p.Retire(v, func(ptr *int) { gotVal = *ptr })
	p.Collect()

	if gotVal != 42 {
		t.Fatalf("onDestroy did not see the retired value: got %d", gotVal)
	}
}

func TestPendingRetirements(t *testing.T) {
	m := NewManager()
	g := m.Acquire()
	m.retire(func() {})
	m.retire(func() {})

	if n := m.PendingRetirements(); n != 2 {
		t.Fatalf("expected 2 pending retirements, got %d", n)
	}
	g.Release()
	m.Collect()
	if n := m.PendingRetirements(); n != 0 {
		t.Fatalf("expected 0 pending retirements after collect, got %d", n)
	}
}

func TestNilGuardRelease(t *testing.T) {
	var g *Guard
	g.Release() // must not panic
}
