package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/metrics"
)

type sessionView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ProjectID     string    `json:"projectId"`
	ParentID      string    `json:"parentId,omitempty"`
	RelationType  string    `json:"relationType,omitempty"`
	Status        string    `json:"status"`
	ContainerName string    `json:"containerName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

var liveStatuses = []domain.SessionStatus{domain.SessionPending, domain.SessionStarting, domain.SessionRunning}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectId")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Warn("sessions upgrade failed", "project", projectID, "error", err)
		return
	}
	defer conn.CloseNow()

	userID, err := s.auth.ResolveUser(r)
	if err != nil {
		conn.Close(websocket.StatusCode(1008), "Unauthorized")
		return
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil || project == nil || !project.AccessibleBy(userID) {
		conn.Close(websocket.StatusCode(1008), "project not found or access denied")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.ProxyConnections.WithLabelValues("sessions").Inc()
	defer metrics.ProxyConnections.WithLabelValues("sessions").Dec()

	send := func() {
		sessions, err := s.store.ListProjectSessions(ctx, projectID, liveStatuses)
		if err != nil {
			return
		}
		views := make([]sessionView, 0, len(sessions))
		for _, sess := range sessions {
			if !project.Shared && sess.OwnerUserID != userID {
				continue
			}
			views = append(views, sessionView{
				ID:            sess.ID,
				Name:          sess.Name,
				ProjectID:     sess.ProjectID,
				ParentID:      sess.ParentID,
				RelationType:  string(sess.RelationType),
				Status:        string(sess.Status),
				ContainerName: sess.ContainerName,
				CreatedAt:     sess.CreatedAt,
				UpdatedAt:     sess.UpdatedAt,
			})
		}
		data, err := json.Marshal(views)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			cancel()
		}
	}

	unsubscribe := s.broadcast.Subscribe("sessions:"+projectID, send)
	defer unsubscribe()
	send()

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
}
