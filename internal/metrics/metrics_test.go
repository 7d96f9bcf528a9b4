package metrics

import (
	"sync"
	"testing"
)

func TestIncAndGet(t *testing.T) {
	m := New()

	if got := m.Get(Joins); got != 0 {
		t.Fatalf("fresh counter = %d", got)
	}
	m.Inc(Joins)
	m.Inc(Joins)
	if got := m.Get(Joins); got != 2 {
		t.Fatalf("Joins = %d, want 2", got)
	}
}

func TestNilReceiverIncIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(Joins) // must not panic
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New()
	m.Inc(RoomsCreated)

	snap := m.Snapshot()
	snap[RoomsCreated] = 100

	if got := m.Get(RoomsCreated); got != 1 {
		t.Fatalf("Snapshot aliases internal state: %d", got)
	}
}

func TestConcurrentInc(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(SignalsRelayed)
			}
		}()
	}
	wg.Wait()
	if got := m.Get(SignalsRelayed); got != 8000 {
		t.Fatalf("SignalsRelayed = %d, want 8000", got)
	}
}
