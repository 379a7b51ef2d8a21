package presence

import (
	"testing"
	"time"

	"github.com/opencommander/opencommander/internal/broadcast"
)

func newTestTracker(now time.Time) (*Tracker, *time.Time) {
	cur := now
	tr := New(broadcast.New())
	tr.now = func() time.Time { return cur }
	return tr, &cur
}

func TestTracker_HeartbeatThenList(t *testing.T) {
	tr, _ := newTestTracker(time.Unix(1000, 0))
	tr.Heartbeat("proj-1", "user-1", "sess-1", "active")

	entries := tr.List("proj-1")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].UserID != "user-1" || entries[0].SessionID != "sess-1" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[0].Status != "active" {
		t.Errorf("expected active status immediately after heartbeat, got %s", entries[0].Status)
	}
}

func TestTracker_StatusDerivedFromElapsedTime(t *testing.T) {
	tr, cur := newTestTracker(time.Unix(1000, 0))
	tr.Heartbeat("proj-1", "user-1", "sess-1", "active")

	*cur = cur.Add(2 * time.Minute)
	entries := tr.List("proj-1")
	if entries[0].Status == "active" {
		t.Errorf("expected non-active status after 2 minutes of silence, got %s", entries[0].Status)
	}
}

func TestTracker_ClientReportedStatusIsIgnored(t *testing.T) {
	tr, _ := newTestTracker(time.Unix(1000, 0))
	// The status string the client sends is not used: a nonsense value
	// still yields "active" right after the heartbeat, because only elapsed
	// time matters.
	tr.Heartbeat("proj-1", "user-1", "sess-1", "bogus-status-value")

	entries := tr.List("proj-1")
	if entries[0].Status != "active" {
		t.Errorf("expected derived status to ignore client-reported value, got %s", entries[0].Status)
	}
}

func TestTracker_Leave(t *testing.T) {
	tr, _ := newTestTracker(time.Unix(1000, 0))
	tr.Heartbeat("proj-1", "user-1", "sess-1", "active")
	tr.Leave("proj-1", "user-1", "sess-1")

	if entries := tr.List("proj-1"); len(entries) != 0 {
		t.Errorf("expected no entries after leave, got %d", len(entries))
	}
}

func TestTracker_SweepExpiredRemovesOnlyEligible(t *testing.T) {
	tr, cur := newTestTracker(time.Unix(1000, 0))
	tr.Heartbeat("proj-1", "user-old", "sess-1", "active")

	*cur = cur.Add(1 * time.Minute)
	tr.Heartbeat("proj-1", "user-new", "sess-2", "active")

	// user-old is now 7 minutes stale (at the GC horizon); user-new is
	// only 6 minutes stale and must survive the sweep.
	*cur = cur.Add(6 * time.Minute)
	tr.SweepExpired()

	entries := tr.List("proj-1")
	newSurvived := false
	for _, e := range entries {
		if e.UserID == "user-old" {
			t.Errorf("expected user-old to be GC'd, still present: %+v", e)
		}
		if e.UserID == "user-new" {
			newSurvived = true
		}
	}
	if !newSurvived {
		t.Errorf("expected user-new to survive the sweep")
	}
}

func TestTracker_SweepExpiredRemovesEmptyProjects(t *testing.T) {
	tr, cur := newTestTracker(time.Unix(1000, 0))
	tr.Heartbeat("proj-1", "user-1", "sess-1", "active")

	*cur = cur.Add(10 * time.Minute)
	tr.SweepExpired()

	tr.mu.Lock()
	_, exists := tr.entries["proj-1"]
	tr.mu.Unlock()
	if exists {
		t.Errorf("expected proj-1 to be removed once empty")
	}
}
