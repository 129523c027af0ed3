package session

import (
	"sync"
	"testing"
	"time"
)

func TestTracker_ObserveCreatesOnce(t *testing.T) {
	tr := NewTracker()

	s1 := tr.Observe("t-1")
	s2 := tr.Observe("t-1")

	if s1.ID != s2.ID {
		t.Errorf("same transport produced two sessions: %s vs %s", s1.ID, s2.ID)
	}
	if tr.Count() != 1 {
		t.Errorf("count = %d, want 1", tr.Count())
	}

	snap := s1.Snapshot()
	if snap.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", snap.MessageCount)
	}
}

func TestTracker_DistinctTransports(t *testing.T) {
	tr := NewTracker()

	a := tr.Observe("t-a")
	b := tr.Observe("t-b")
	if a.ID == b.ID {
		t.Error("distinct transports share a session id")
	}
	if tr.Count() != 2 {
		t.Errorf("count = %d, want 2", tr.Count())
	}
}

func TestTracker_ObserveUpdatesActivity(t *testing.T) {
	tr := NewTracker()

	s := tr.Observe("t-1")
	first := s.Snapshot().LastActivity

	time.Sleep(5 * time.Millisecond)
	tr.Observe("t-1")

	second := s.Snapshot().LastActivity
	if !second.After(first) {
		t.Errorf("last activity did not advance: %v -> %v", first, second)
	}
}

func TestTracker_Get(t *testing.T) {
	tr := NewTracker()
	s := tr.Observe("t-1")

	if got := tr.Get(s.ID); got == nil || got.ID != s.ID {
		t.Errorf("Get(%s) = %v", s.ID, got)
	}
	if got := tr.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %v, want nil", got)
	}
}

func TestTracker_SetServerName(t *testing.T) {
	tr := NewTracker()

	// Name can arrive before the first message.
	tr.SetServerName("t-1", "filesystem")
	s := tr.Observe("t-1")
	if s.Snapshot().ServerName != "filesystem" {
		t.Errorf("server name = %q", s.Snapshot().ServerName)
	}
	if tr.Count() != 1 {
		t.Errorf("count = %d, want 1", tr.Count())
	}
}

func TestTracker_ListNewestFirst(t *testing.T) {
	tr := NewTracker()

	old := tr.Observe("t-old")
	time.Sleep(2 * time.Millisecond)
	fresh := tr.Observe("t-new")

	list := tr.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != fresh.ID || list[1].ID != old.ID {
		t.Errorf("list order = [%s %s], want newest first", list[0].ID, list[1].ID)
	}
}

func TestTracker_PruneIdle(t *testing.T) {
	tr := NewTracker()

	stale := tr.Observe("t-stale")
	time.Sleep(20 * time.Millisecond)
	tr.Observe("t-live")

	removed := tr.PruneIdle(10 * time.Millisecond)
	if removed != 1 {
		t.Fatalf("pruned %d, want 1", removed)
	}
	if tr.Get(stale.ID) != nil {
		t.Error("stale session still present after prune")
	}
	if tr.Count() != 1 {
		t.Errorf("count = %d, want 1", tr.Count())
	}

	// A pruned transport starts a new session on the next message.
	again := tr.Observe("t-stale")
	if again.ID == stale.ID {
		t.Error("pruned session id reused")
	}
}

func TestTracker_ConcurrentObserve(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tr.Observe("t-shared")
			}
		}()
	}
	wg.Wait()

	if tr.Count() != 1 {
		t.Fatalf("count = %d, want 1", tr.Count())
	}
	s := tr.Observe("t-shared").Snapshot()
	if s.MessageCount != 50*20+1 {
		t.Errorf("message count = %d, want %d", s.MessageCount, 50*20+1)
	}
}
