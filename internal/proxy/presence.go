package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/opencommander/opencommander/internal/metrics"
)

type presenceClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectId")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Warn("presence upgrade failed", "project", projectID, "error", err)
		return
	}
	defer conn.CloseNow()

	userID, err := s.auth.ResolveUser(r)
	if err != nil {
		conn.Close(websocket.StatusCode(1008), "Unauthorized")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.ProxyConnections.WithLabelValues("presence").Inc()
	defer metrics.ProxyConnections.WithLabelValues("presence").Dec()

	send := func() {
		entries := s.presence.List(projectID)
		data, err := json.Marshal(entries)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			cancel()
		}
	}

	unsubscribe := s.broadcast.Subscribe("presence:"+projectID, send)
	defer unsubscribe()
	send()

	var lastSessionID string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg presenceClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "heartbeat":
			lastSessionID = msg.SessionID
			s.presence.Heartbeat(projectID, userID, msg.SessionID, msg.Status)
		case "leave":
			s.presence.Leave(projectID, userID, lastSessionID)
		}
	}

	s.presence.Leave(projectID, userID, lastSessionID)
}
