package domain

import (
	"time"
)

// SessionStatus is the logical lifecycle state of a TerminalSession.
type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionStarting SessionStatus = "starting"
	SessionRunning  SessionStatus = "running"
	SessionStopped  SessionStatus = "stopped"
	SessionError    SessionStatus = "error"
)

// RelationType describes how a session relates to its parent.
type RelationType string

const (
	RelationNone  RelationType = ""
	RelationFork  RelationType = "fork"
	RelationStack RelationType = "stack"
)

// TerminalSession is a logical terminal backed by at most one container.
type TerminalSession struct {
	ID            string
	Name          string
	OwnerUserID   string
	ProjectID     string
	ParentID      string
	RelationType  RelationType
	Status        SessionStatus
	ContainerName string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// containerNamePrefix is the stable prefix used to derive container names
// from session ids, so the Session Service and proxy can compute it
// without a store round trip.
const containerNamePrefix = "oc-sess-"

// DeriveContainerName computes the deterministic container name for a
// session id. The mapping is stable and never stored separately: callers
// recompute it from the session id rather than reading it back from the
// store.
func DeriveContainerName(sessionID string) string {
	return containerNamePrefix + sessionID
}

// IsRunning reports whether the session's invariant for the running state
// holds structurally (non-empty container name). Callers must still confirm
// with the container driver that the container is actually running.
func (s *TerminalSession) IsRunning() bool {
	return s.Status == SessionRunning && s.ContainerName != ""
}
