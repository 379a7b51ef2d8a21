// Package api implements the HTTP API task delegation surface.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/opencommander/opencommander/internal/auth"
	"github.com/opencommander/opencommander/internal/session"
	"github.com/opencommander/opencommander/internal/store"
	"github.com/opencommander/opencommander/internal/workspace"
)

// Handler carries the dependencies shared by every API endpoint.
type Handler struct {
	store     store.Store
	auth      *auth.Service
	workspace *workspace.Service
	sessions  *session.Service
}

// NewHandler constructs a Handler.
func NewHandler(st store.Store, authSvc *auth.Service, ws *workspace.Service, sessions *session.Service) *Handler {
	return &Handler{store: st, auth: authSvc, workspace: ws, sessions: sessions}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response. All error bodies are `{error:string}`.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
