// Package store provides the entity store: persistence for projects,
// terminal sessions, port mappings, tasks, executions, and operator
// accounts.
package store

import (
	"context"

	"github.com/opencommander/opencommander/internal/domain"
)

// TaskFilter narrows GET /api/tasks results.
type TaskFilter struct {
	Status string
	Limit  int
	Offset int
}

// TaskPage is a single page of tasks plus its pagination metadata.
type TaskPage struct {
	Tasks   []*domain.Task
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// Store is the full entity store interface the application depends on.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	GetUser(ctx context.Context, userID string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	// ListAPIKeyUsers returns every user with a configured API key hash, for
	// the auth collaborator to check a bearer token against via bcrypt.
	ListAPIKeyUsers(ctx context.Context) ([]*domain.User, error)
	GetFirstAdminUser(ctx context.Context) (*domain.User, error)

	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	CreateProject(ctx context.Context, project *domain.Project) error

	GetSession(ctx context.Context, sessionID string) (*domain.TerminalSession, error)
	CreateSession(ctx context.Context, session *domain.TerminalSession) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus, containerName string) error
	ListProjectSessions(ctx context.Context, projectID string, statuses []domain.SessionStatus) ([]*domain.TerminalSession, error)

	UpsertPortMapping(ctx context.Context, mapping *domain.PortMapping) error
	GetPortMapping(ctx context.Context, sessionID string) (*domain.PortMapping, error)

	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) (*TaskPage, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus) error

	CreateExecution(ctx context.Context, execution *domain.Execution) error
	GetLatestExecution(ctx context.Context, taskID string) (*domain.Execution, error)
	UpdateExecutionStatus(ctx context.Context, executionID string, status domain.ExecutionStatus) error
}
