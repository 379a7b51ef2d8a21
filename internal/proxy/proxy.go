// Package proxy implements the WebSocket Proxy: the `/terminal/:sessionId`,
// `/presence/:projectId`, and `/sessions/:projectId` endpoints.
package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencommander/opencommander/internal/broadcast"
	"github.com/opencommander/opencommander/internal/container"
	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/presence"
)

// Auth resolves the authenticated user for an inbound upgrade request.
// Implementations return ocerr.KindUnauthorized when no user can be
// resolved; under disabled-auth mode they resolve to the first admin user
// instead of failing.
type Auth interface {
	ResolveUser(r *http.Request) (userID string, err error)
}

// Store is the subset of the entity store the proxy depends on.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.TerminalSession, error)
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjectSessions(ctx context.Context, projectID string, statuses []domain.SessionStatus) ([]*domain.TerminalSession, error)
}

// UpstreamConfig carries the connectUpstream timing parameters.
type UpstreamConfig struct {
	Attempts            int
	AttemptSpacing      time.Duration
	DirectOpenTimeout   time.Duration
	PreConnectBufferCap int64
	TerminalPort        string
}

// Server wires the three endpoints onto a chi router.
type Server struct {
	auth      Auth
	store     Store
	presence  *presence.Tracker
	broadcast *broadcast.Registry
	driver    container.Driver
	upstream  UpstreamConfig
}

// New constructs a Server.
func New(auth Auth, store Store, pres *presence.Tracker, reg *broadcast.Registry, driver container.Driver, upstream UpstreamConfig) *Server {
	return &Server{auth: auth, store: store, presence: pres, broadcast: reg, driver: driver, upstream: upstream}
}

// Routes mounts the proxy's endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/terminal/{sessionId}", s.handleTerminal)
	r.Get("/presence/{projectId}", s.handlePresence)
	r.Get("/sessions/{projectId}", s.handleSessions)
}

func accessibleSession(sess *domain.TerminalSession, project *domain.Project, userID string) bool {
	if sess.OwnerUserID == userID {
		return true
	}
	return project != nil && project.Shared
}
