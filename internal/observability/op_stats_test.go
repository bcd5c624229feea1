package observability

import (
	"sync"
	"testing"
	"time"
)

func TestRecordAndSnapshot(t *testing.T) {
	s := NewOpStats(time.Hour)

	s.Record("create", 10*time.Millisecond, false)
	s.Record("create", 30*time.Millisecond, true)
	s.Record("transition", 5*time.Millisecond, false)

	all := s.SnapshotAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(all))
	}
	if all[0].Operation != "create" {
		t.Errorf("expected create first by count, got %s", all[0].Operation)
	}
	create := all[0]
	if create.Count != 2 || create.Failures != 1 {
		t.Errorf("create stats = %+v", create)
	}
	if create.MaxLatency != 30*time.Millisecond {
		t.Errorf("max latency = %v, want 30ms", create.MaxLatency)
	}
	if create.MeanLatency() != 20*time.Millisecond {
		t.Errorf("mean latency = %v, want 20ms", create.MeanLatency())
	}
}

func TestTop(t *testing.T) {
	s := NewOpStats(time.Hour)
	for i := 0; i < 5; i++ {
		s.Record("update", time.Millisecond, false)
	}
	s.Record("create", time.Millisecond, false)
	s.Record("rollback", time.Millisecond, false)

	top := s.Top(2)
	if len(top) != 2 || top[0].Operation != "update" {
		t.Errorf("Top(2) = %+v", top)
	}
	if got := s.Top(0); len(got) != 0 {
		t.Errorf("Top(0) = %+v", got)
	}
	if got := s.Top(10); len(got) != 3 {
		t.Errorf("Top(10) returned %d entries, want all 3", len(got))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewOpStats(time.Hour)
	s.Record("create", time.Millisecond, false)

	snap := s.SnapshotAll()
	snap[0].Count = 999

	if s.SnapshotAll()[0].Count != 1 {
		t.Error("snapshot mutation leaked into the tracker")
	}
}

func TestPrune(t *testing.T) {
	s := NewOpStats(10 * time.Millisecond)
	s.Record("create", time.Millisecond, false)

	time.Sleep(20 * time.Millisecond)
	s.Record("update", time.Millisecond, false)
	s.Prune()

	all := s.SnapshotAll()
	if len(all) != 1 || all[0].Operation != "update" {
		t.Errorf("expected only the fresh entry to survive, got %+v", all)
	}
}

func TestConcurrentRecord(t *testing.T) {
	s := NewOpStats(time.Hour)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Record("update", time.Microsecond, i%10 == 0)
			}
		}()
	}
	wg.Wait()

	all := s.SnapshotAll()
	if all[0].Count != 800 {
		t.Errorf("count = %d, want 800", all[0].Count)
	}
	if all[0].Failures != 80 {
		t.Errorf("failures = %d, want 80", all[0].Failures)
	}
}
