package domain

import "time"

// TaskStatus is the lifecycle state of a delegated task.
type TaskStatus string

const (
	TaskTodo     TaskStatus = "todo"
	TaskDoing    TaskStatus = "doing"
	TaskDone     TaskStatus = "done"
	TaskCanceled TaskStatus = "canceled"
)

// ExecutionStatus is the lifecycle state of an agent execution run against
// a task.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionRunning    ExecutionStatus = "running"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionNeedsInput ExecutionStatus = "needs_input"
)

// Task is a unit of work submitted through the task delegation HTTP API.
type Task struct {
	ID         string
	Body       string
	AgentID    string
	Repository string
	OwnerKeyID string
	Status     TaskStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Execution is a single agent run against a Task.
type Execution struct {
	ID        string
	TaskID    string
	Status    ExecutionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
