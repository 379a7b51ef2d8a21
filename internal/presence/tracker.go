// Package presence maintains the per-project presence table of users
// viewing or actively connected to a project.
package presence

import (
	"sync"
	"time"

	"github.com/opencommander/opencommander/internal/broadcast"
	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/metrics"
)

// Clock is injected for deterministic testing of age-based transitions.
type Clock func() time.Time

// Tracker owns the presence table and publishes mutations on the
// "presence:<projectId>" broadcast topic. Mutation is serialized per
// project via the single tracker-wide mutex.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]map[string]*domain.PresenceEntry // projectID -> "userID:sessionID" -> entry
	broadcast *broadcast.Registry
	now       Clock
}

// New creates a Tracker that publishes through reg.
func New(reg *broadcast.Registry) *Tracker {
	return &Tracker{
		entries:   make(map[string]map[string]*domain.PresenceEntry),
		broadcast: reg,
		now:       time.Now,
	}
}

func key(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Heartbeat upserts the entry for (userID, sessionID) in projectID,
// refreshing LastHeartbeatAt, then publishes to "presence:<projectID>".
// clientStatus is accepted for API compatibility but is never stored: the
// derived status is always computed from elapsed time.
func (t *Tracker) Heartbeat(projectID, userID, sessionID, clientStatus string) {
	_ = clientStatus

	t.mu.Lock()
	project, ok := t.entries[projectID]
	if !ok {
		project = make(map[string]*domain.PresenceEntry)
		t.entries[projectID] = project
	}
	k := key(userID, sessionID)
	entry, ok := project[k]
	if !ok {
		entry = &domain.PresenceEntry{ProjectID: projectID, UserID: userID, SessionID: sessionID}
		project[k] = entry
	}
	entry.LastHeartbeatAt = t.now()
	t.mu.Unlock()

	t.reportSize()
	t.broadcast.Notify(topicFor(projectID))
}

// Leave removes the entry for (userID, sessionID) in projectID and
// publishes the change.
func (t *Tracker) Leave(projectID, userID, sessionID string) {
	t.mu.Lock()
	if project, ok := t.entries[projectID]; ok {
		delete(project, key(userID, sessionID))
		if len(project) == 0 {
			delete(t.entries, projectID)
		}
	}
	t.mu.Unlock()

	t.reportSize()
	t.broadcast.Notify(topicFor(projectID))
}

// ListEntry is a presence row with its time-derived status, as emitted to
// clients.
type ListEntry struct {
	ProjectID string               `json:"projectId"`
	UserID    string               `json:"userId"`
	SessionID string               `json:"sessionId,omitempty"`
	Status    domain.PresenceStatus `json:"status"`
}

// List returns the current entries for projectID with status derived from
// elapsed time since each entry's last heartbeat.
func (t *Tracker) List(projectID string) []ListEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	project := t.entries[projectID]
	out := make([]ListEntry, 0, len(project))
	now := t.now()
	for _, e := range project {
		out = append(out, ListEntry{
			ProjectID: e.ProjectID,
			UserID:    e.UserID,
			SessionID: e.SessionID,
			Status:    e.DerivedStatus(now),
		})
	}
	return out
}

// SweepExpired removes entries across all projects that have been inactive
// past the GC horizon, publishing one notification per affected project.
// Invoked by the reconciler's scheduled sweep.
func (t *Tracker) SweepExpired() {
	now := t.now()

	t.mu.Lock()
	var affected []string
	for projectID, project := range t.entries {
		changed := false
		for k, e := range project {
			if e.EligibleForGC(now) {
				delete(project, k)
				changed = true
			}
		}
		if len(project) == 0 {
			delete(t.entries, projectID)
		}
		if changed {
			affected = append(affected, projectID)
		}
	}
	t.mu.Unlock()

	t.reportSize()
	for _, projectID := range affected {
		t.broadcast.Notify(topicFor(projectID))
	}
}

// reportSize publishes the total entry count across all projects to the
// presence_entries gauge.
func (t *Tracker) reportSize() {
	t.mu.Lock()
	total := 0
	for _, project := range t.entries {
		total += len(project)
	}
	t.mu.Unlock()
	metrics.PresenceEntries.Set(float64(total))
}

func topicFor(projectID string) string {
	return "presence:" + projectID
}
