package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/opencommander/opencommander/internal/domain"
)

// SQLiteStore implements Store using a pure-Go SQLite driver in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		api_key_hash TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		folder TEXT NOT NULL,
		owner_user_id TEXT NOT NULL,
		shared INTEGER NOT NULL DEFAULT 0,
		default_agent_id TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS terminal_sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_user_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		parent_id TEXT,
		relation_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		container_name TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON terminal_sessions(project_id, status);

	CREATE TABLE IF NOT EXISTS port_mappings (
		session_id TEXT PRIMARY KEY,
		host_port INTEGER NOT NULL,
		container_port INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		agent_id TEXT,
		repository TEXT,
		owner_key_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id, created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, is_admin, api_key_hash, created_at FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, is_admin, api_key_hash, created_at) VALUES (?, ?, ?, NULLIF(?, ''), ?)`,
		user.ID, user.Username, boolToInt(user.IsAdmin), user.APIKeyHash, user.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFirstAdminUser(ctx context.Context) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, is_admin, api_key_hash, created_at FROM users WHERE is_admin = 1 ORDER BY created_at ASC LIMIT 1`)
	return scanUser(row)
}

func (s *SQLiteStore) ListAPIKeyUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, is_admin, api_key_hash, created_at FROM users WHERE api_key_hash IS NOT NULL AND api_key_hash != ''`)
	if err != nil {
		return nil, fmt.Errorf("list api key users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var isAdmin int
	var apiKeyHash sql.NullString
	var createdAt int64

	err := row.Scan(&u.ID, &u.Username, &isAdmin, &apiKeyHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.IsAdmin = isAdmin != 0
	u.APIKeyHash = apiKeyHash.String
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

func scanUserRows(rows *sql.Rows) (*domain.User, error) {
	return scanUser(rows)
}

func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, folder, owner_user_id, shared, COALESCE(default_agent_id, ''), created_at FROM projects WHERE id = ?`, projectID)

	var p domain.Project
	var shared int
	var createdAt int64
	err := row.Scan(&p.ID, &p.Name, &p.Folder, &p.OwnerUserID, &shared, &p.DefaultAgentID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	p.Shared = shared != 0
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, folder, owner_user_id, shared, default_agent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, project.Folder, project.OwnerUserID, boolToInt(project.Shared), project.DefaultAgentID, project.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.TerminalSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_user_id, project_id, COALESCE(parent_id, ''), relation_type,
		       status, COALESCE(container_name, ''), created_at, updated_at
		FROM terminal_sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

func scanSession(row rowScanner) (*domain.TerminalSession, error) {
	var sess domain.TerminalSession
	var relationType string
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(&sess.ID, &sess.Name, &sess.OwnerUserID, &sess.ProjectID, &sess.ParentID, &relationType,
		&status, &sess.ContainerName, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.RelationType = domain.RelationType(relationType)
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.TerminalSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = domain.SessionPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminal_sessions (id, name, owner_user_id, project_id, parent_id, relation_type, status, container_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?, ?)`,
		session.ID, session.Name, session.OwnerUserID, session.ProjectID, session.ParentID,
		string(session.RelationType), string(session.Status), session.ContainerName,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// withBusyRetry retries fn with exponential backoff when SQLite reports the
// database as locked. Session status updates race against concurrent
// start/stop calls and the reconciler sweep, so this path in particular
// needs tolerance for transient SQLITE_BUSY errors.
func withBusyRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay * time.Duration(1<<attempt)):
		}
	}
	return fmt.Errorf("after %d retries: %w", maxRetries, err)
}

func isSQLiteBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus, containerName string) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE terminal_sessions SET status = ?, container_name = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
			string(status), containerName, time.Now().Unix(), sessionID)
		if err != nil {
			return fmt.Errorf("update session status: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListProjectSessions(ctx context.Context, projectID string, statuses []domain.SessionStatus) ([]*domain.TerminalSession, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := []any{projectID}
	for i, st := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`
		SELECT id, name, owner_user_id, project_id, COALESCE(parent_id, ''), relation_type,
		       status, COALESCE(container_name, ''), created_at, updated_at
		FROM terminal_sessions WHERE project_id = ? AND status IN (%s)
		ORDER BY created_at ASC`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list project sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.TerminalSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpsertPortMapping(ctx context.Context, mapping *domain.PortMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO port_mappings (session_id, host_port, container_port) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET host_port = excluded.host_port, container_port = excluded.container_port`,
		mapping.SessionID, mapping.HostPort, mapping.ContainerPort)
	if err != nil {
		return fmt.Errorf("upsert port mapping: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPortMapping(ctx context.Context, sessionID string) (*domain.PortMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id, host_port, container_port FROM port_mappings WHERE session_id = ?`, sessionID)
	var m domain.PortMapping
	err := row.Scan(&m.SessionID, &m.HostPort, &m.ContainerPort)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan port mapping: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = domain.TaskTodo
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, body, agent_id, repository, owner_key_id, status, created_at, updated_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)`,
		task.ID, task.Body, task.AgentID, task.Repository, task.OwnerKeyID, string(task.Status),
		task.CreatedAt.Unix(), task.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&t.ID, &t.Body, &t.AgentID, &t.Repository, &t.OwnerKeyID, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = domain.TaskStatus(status)
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, body, COALESCE(agent_id,''), COALESCE(repository,''), owner_key_id, status, created_at, updated_at
		FROM tasks WHERE id = ?`, taskID)
	return scanTask(row)
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) (*TaskPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	whereClause := ""
	args := []any{}
	if filter.Status != "" {
		whereClause = "WHERE status = ?"
		args = append(args, filter.Status)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM tasks " + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, body, COALESCE(agent_id,''), COALESCE(repository,''), owner_key_id, status, created_at, updated_at
		FROM tasks %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, whereClause)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &TaskPage{
		Tasks:   tasks,
		Total:   total,
		Limit:   limit,
		Offset:  filter.Offset,
		HasMore: filter.Offset+len(tasks) < total,
	}, nil
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().Unix(), taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateExecution(ctx context.Context, execution *domain.Execution) error {
	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}
	now := time.Now()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}
	execution.UpdatedAt = now
	if execution.Status == "" {
		execution.Status = domain.ExecutionPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, task_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		execution.ID, execution.TaskID, string(execution.Status), execution.CreatedAt.Unix(), execution.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLatestExecution(ctx context.Context, taskID string) (*domain.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, status, created_at, updated_at FROM executions
		WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`, taskID)

	var e domain.Execution
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&e.ID, &e.TaskID, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	e.Status = domain.ExecutionStatus(status)
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}

func (s *SQLiteStore) UpdateExecutionStatus(ctx context.Context, executionID string, status domain.ExecutionStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE executions SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().Unix(), executionID)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
