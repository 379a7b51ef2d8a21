package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/ocerr"
	"github.com/opencommander/opencommander/internal/store"
)

var validAgentIDs = map[string]bool{"claude": true, "codex": true, "cursor": true}

// RegisterRoutes mounts the task delegation surface under /api.
// Every route requires bearer-token authentication.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/github/verify-access", h.VerifyGitHubAccess)
	})
}

type contextKey int

const userContextKey contextKey = iota

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.auth.ResolveAPIKey(r)
		if err != nil || user == nil {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userContextKey).(*domain.User)
	return u
}

// ListTasks implements GET /api/tasks?status=&limit=&offset=.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	page, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"tasks": page.Tasks,
		"pagination": map[string]any{
			"total":   page.Total,
			"limit":   page.Limit,
			"offset":  page.Offset,
			"hasMore": page.HasMore,
		},
	})
}

type createTaskRequest struct {
	Body       string `json:"body"`
	AgentID    string `json:"agentId,omitempty"`
	Repository string `json:"repository,omitempty"`
	MountPoint string `json:"mountPoint,omitempty"` // deprecated, accepted and ignored
}

type createTaskResponse struct {
	Task      *domain.Task      `json:"task"`
	Execution *executionSummary `json:"execution"`
}

type executionSummary struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateTask implements POST /api/tasks.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Body == "" {
		Error(w, http.StatusBadRequest, "body is required")
		return
	}
	if req.AgentID != "" && !validAgentIDs[req.AgentID] {
		Error(w, http.StatusBadRequest, "unknown agentId")
		return
	}

	user := userFromContext(r.Context())
	task := &domain.Task{
		Body:       req.Body,
		AgentID:    req.AgentID,
		Repository: req.Repository,
		OwnerKeyID: user.ID,
		Status:     domain.TaskTodo,
	}

	if req.Repository != "" {
		if _, err := h.workspace.CloneOrPull(r.Context(), req.Repository); err != nil {
			if ocerr.Is(err, ocerr.KindInvalidInput) {
				Error(w, http.StatusBadRequest, "invalid repository")
				return
			}
			slog.Error("clone before task creation failed", "repository", req.Repository, "error", err)
			Error(w, http.StatusInternalServerError, "failed to prepare repository")
			return
		}
	}

	if err := h.store.CreateTask(r.Context(), task); err != nil {
		Error(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	if req.AgentID == "" {
		JSON(w, http.StatusCreated, createTaskResponse{Task: task, Execution: nil})
		return
	}

	execution := &domain.Execution{TaskID: task.ID, Status: domain.ExecutionPending}
	if err := h.store.CreateExecution(r.Context(), execution); err != nil {
		Error(w, http.StatusInternalServerError, "failed to enqueue execution")
		return
	}
	if err := h.store.UpdateTaskStatus(r.Context(), task.ID, domain.TaskDoing); err != nil {
		slog.Warn("failed to mark task doing", "task", task.ID, "error", err)
	}

	JSON(w, http.StatusCreated, createTaskResponse{
		Task:      task,
		Execution: &executionSummary{ID: execution.ID, Status: string(execution.Status)},
	})
}

type taskWithExecution struct {
	*domain.Task
	LatestExecution *domain.Execution `json:"latestExecution,omitempty"`
}

// GetTask implements GET /api/tasks/:id.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		Error(w, http.StatusNotFound, "task not found")
		return
	}

	execution, err := h.store.GetLatestExecution(r.Context(), id)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load execution")
		return
	}

	JSON(w, http.StatusOK, taskWithExecution{Task: task, LatestExecution: execution})
}
