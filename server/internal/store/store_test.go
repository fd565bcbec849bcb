package store

import (
	"sync"
	"testing"
	"time"
)

func batch(id string, events ...string) Batch {
	return Batch{ID: id, Device: "dev-1", Events: events}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPutAndGet(t *testing.T) {
	st := New(5*time.Minute, 10)
	st.Put(batch("b1", "GazedCube", "GazedSphere", "GazedCube"))

	e, ok := st.Get("GazedCube")
	if !ok {
		t.Fatal("Get: expected entry, got none")
	}
	if e.Count != 2 {
		t.Errorf("Count: got %d, want 2", e.Count)
	}
	if _, ok := st.Get("unknown"); ok {
		t.Error("Get(unknown): expected false")
	}
	if tot := st.Totals(); tot.Batches != 1 || tot.Events != 3 {
		t.Errorf("Totals: got %+v", tot)
	}
}

func TestPut_DuplicateBatchCountedOnce(t *testing.T) {
	st := New(5*time.Minute, 10)
	first := st.Put(batch("b1", "Cube"))
	again := st.Put(batch("b1", "Cube"))

	if first.Duplicate {
		t.Error("first receipt marked duplicate")
	}
	if !again.Duplicate {
		t.Error("redelivery not marked duplicate")
	}
	if e, _ := st.Get("Cube"); e.Count != 1 {
		t.Errorf("Count: got %d, want 1", e.Count)
	}
	if tot := st.Totals(); tot.Duplicates != 1 || tot.Batches != 1 {
		t.Errorf("Totals: got %+v", tot)
	}
	if n := len(st.Recent(0)); n != 2 {
		t.Errorf("Recent: got %d, want 2", n)
	}
}

func TestPut_EmptyIDNeverDuplicate(t *testing.T) {
	st := New(5*time.Minute, 10)
	st.Put(batch("", "Cube"))
	if b := st.Put(batch("", "Cube")); b.Duplicate {
		t.Error("batch without id marked duplicate")
	}
	if e, _ := st.Get("Cube"); e.Count != 2 {
		t.Errorf("Count: got %d, want 2", e.Count)
	}
}

func TestList_SortedAndExcludesStale(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, 10)

	st.now = fixedClock(base.Add(-10 * time.Minute)) // stale
	st.Put(batch("b0", "old"))

	st.now = fixedClock(base)
	st.Put(batch("b1", "a", "b", "b"))

	entries := st.List()
	if len(entries) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(entries))
	}
	if entries[0].EventID != "b" || entries[1].EventID != "a" {
		t.Errorf("List order: got %s,%s want b,a", entries[0].EventID, entries[1].EventID)
	}
}

func TestRecent_RingNewestFirst(t *testing.T) {
	st := New(5*time.Minute, 3)
	for _, id := range []string{"b1", "b2", "b3", "b4", "b5"} {
		st.Put(batch(id, "x"))
	}

	got := st.Recent(0)
	want := []string{"b5", "b4", "b3"}
	if len(got) != len(want) {
		t.Fatalf("Recent: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("Recent[%d]: got %s, want %s", i, got[i].ID, want[i])
		}
	}
	if got := st.Recent(1); len(got) != 1 || got[0].ID != "b5" {
		t.Errorf("Recent(1): got %+v", got)
	}
}

func TestRecent_BeforeWrap(t *testing.T) {
	st := New(5*time.Minute, 5)
	st.Put(batch("b1", "x"))
	st.Put(batch("b2", "x"))
	got := st.Recent(0)
	if len(got) != 2 || got[0].ID != "b2" || got[1].ID != "b1" {
		t.Errorf("Recent: got %+v", got)
	}
	if len(New(time.Minute, 5).Recent(0)) != 0 {
		t.Error("Recent on empty store: expected none")
	}
}

func TestPut_CopiesEvents(t *testing.T) {
	st := New(5*time.Minute, 5)
	events := []string{"a"}
	st.Put(Batch{ID: "b", Events: events})
	events[0] = "mutated"
	if got := st.Recent(1)[0].Events[0]; got != "a" {
		t.Errorf("stored events alias caller slice: got %q", got)
	}
}

func TestEvict_RemovesStale(t *testing.T) {
	base := time.Now()
	st := New(5*time.Minute, 10)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(batch("old-batch", "old1", "old2"))

	st.now = fixedClock(base)
	st.Put(batch("live-batch", "live"))

	removed := st.Evict(base)
	if removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
	// The evicted batch id is forgotten, so it counts again.
	if b := st.Put(batch("old-batch", "old1")); b.Duplicate {
		t.Error("batch id still remembered after eviction")
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	st := New(5*time.Minute, 16)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			st.Put(batch("", "src-a"))
		}()
		go func() {
			defer wg.Done()
			st.List()
		}()
		go func() {
			defer wg.Done()
			st.Recent(5)
		}()
	}
	wg.Wait()

	if e, _ := st.Get("src-a"); e.Count != 50 {
		t.Errorf("Count: got %d, want 50", e.Count)
	}
}
