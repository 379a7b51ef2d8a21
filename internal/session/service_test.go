package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/opencommander/opencommander/internal/broadcast"
	"github.com/opencommander/opencommander/internal/container"
	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/mountplan"
	"github.com/opencommander/opencommander/internal/ocerr"
)

type fakeStore struct {
	sessions map[string]*domain.TerminalSession
	projects map[string]*domain.Project
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*domain.TerminalSession),
		projects: make(map[string]*domain.Project),
	}
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*domain.TerminalSession, error) {
	return f.sessions[sessionID], nil
}

func (f *fakeStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	return f.projects[projectID], nil
}

func (f *fakeStore) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus, containerName string) error {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.Status = status
	sess.ContainerName = containerName
	return nil
}

// fakeDriver is an in-memory stand-in for container.Driver.
type fakeDriver struct {
	running   map[string]bool
	existing  map[string]bool
	runErr    error
	runCalled int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{running: map[string]bool{}, existing: map[string]bool{}}
}

func (d *fakeDriver) Run(ctx context.Context, spec container.Spec) error {
	d.runCalled++
	if d.runErr != nil {
		err := d.runErr
		d.runErr = nil
		return err
	}
	d.existing[spec.Name] = true
	d.running[spec.Name] = true
	return nil
}

func (d *fakeDriver) Start(ctx context.Context, name string) error {
	if !d.existing[name] {
		return ocerr.New(ocerr.KindNotFound, "fakeDriver.Start", nil)
	}
	d.running[name] = true
	return nil
}

func (d *fakeDriver) Restart(ctx context.Context, name string) error {
	d.running[name] = true
	return nil
}

func (d *fakeDriver) Stop(ctx context.Context, name string, timeout time.Duration) error {
	d.running[name] = false
	return nil
}

func (d *fakeDriver) SafeRemove(ctx context.Context, name string) error {
	delete(d.existing, name)
	delete(d.running, name)
	return nil
}

func (d *fakeDriver) IsRunning(ctx context.Context, name string) (bool, bool, error) {
	if !d.existing[name] {
		return false, false, nil
	}
	return d.running[name], true, nil
}

func (d *fakeDriver) Exec(ctx context.Context, name string, argv []string) (container.ExecResult, error) {
	return container.ExecResult{}, nil
}

func (d *fakeDriver) ExecAttach(ctx context.Context, name string, argv []string) (io.ReadWriteCloser, error) {
	return nil, nil
}

func (d *fakeDriver) Pull(ctx context.Context, image string) error { return nil }

func (d *fakeDriver) EnsureNetwork(ctx context.Context, name string, opts container.NetworkOptions) (string, error) {
	return name, nil
}

func testService(t *testing.T, st *fakeStore, driver *fakeDriver) *Service {
	t.Helper()
	return New(st, driver, mountplan.Config{
		StateRoot:     t.TempDir(),
		WorkspaceRoot: t.TempDir(),
		TerminalArgv:  []string{"ttyd", "-p", "7681", "bash"},
	}, Config{
		Image:           "opencommander/agent:latest",
		Network:         "oc-agents",
		MaxLayerRetries: 3,
		LayerRetryDelay: time.Millisecond,
	}, broadcast.New())
}

func TestService_Start_NotFoundWhenStopped(t *testing.T) {
	st := newFakeStore()
	st.sessions["s1"] = &domain.TerminalSession{ID: "s1", ProjectID: "p1", Status: domain.SessionStopped}
	svc := testService(t, st, newFakeDriver())

	_, err := svc.Start(context.Background(), "user-1", "s1", StartOptions{})
	if ocerr.As(err) != ocerr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestService_Start_CreatesContainerWhenAbsent(t *testing.T) {
	st := newFakeStore()
	st.sessions["s1"] = &domain.TerminalSession{ID: "s1", ProjectID: "p1", Status: domain.SessionPending}
	driver := newFakeDriver()
	svc := testService(t, st, driver)

	result, err := svc.Start(context.Background(), "user-1", "s1", StartOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantName := domain.DeriveContainerName("s1")
	if result.ContainerName != wantName {
		t.Errorf("expected container name %s, got %s", wantName, result.ContainerName)
	}
	if st.sessions["s1"].Status != domain.SessionRunning {
		t.Errorf("expected session running, got %s", st.sessions["s1"].Status)
	}
	if !driver.running[wantName] {
		t.Errorf("expected driver to report container running")
	}
}

func TestService_Start_ShortCircuitsWhenAlreadyRunning(t *testing.T) {
	st := newFakeStore()
	name := domain.DeriveContainerName("s1")
	st.sessions["s1"] = &domain.TerminalSession{ID: "s1", ProjectID: "p1", Status: domain.SessionRunning, ContainerName: name}
	driver := newFakeDriver()
	svc := testService(t, st, driver)

	result, err := svc.Start(context.Background(), "user-1", "s1", StartOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ContainerName != name {
		t.Errorf("expected short-circuit to return existing container name")
	}
	if driver.runCalled != 0 {
		t.Errorf("expected no container creation on short-circuit, Run called %d times", driver.runCalled)
	}
}

func TestService_Start_RetriesOnLayerLocked(t *testing.T) {
	st := newFakeStore()
	st.sessions["s1"] = &domain.TerminalSession{ID: "s1", ProjectID: "p1", Status: domain.SessionPending}
	driver := newFakeDriver()
	driver.runErr = ocerr.New(ocerr.KindLayerLocked, "test", nil)
	svc := testService(t, st, driver)

	_, err := svc.Start(context.Background(), "user-1", "s1", StartOptions{})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if driver.runCalled < 2 {
		t.Errorf("expected at least 2 Run attempts, got %d", driver.runCalled)
	}
}

func TestService_Stop_MarksStoppedOnSuccessfulRemove(t *testing.T) {
	st := newFakeStore()
	name := domain.DeriveContainerName("s1")
	st.sessions["s1"] = &domain.TerminalSession{ID: "s1", ProjectID: "p1", Status: domain.SessionRunning, ContainerName: name}
	driver := newFakeDriver()
	driver.existing[name] = true
	driver.running[name] = true
	svc := testService(t, st, driver)

	result, err := svc.Stop(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Removed {
		t.Errorf("expected Removed=true, got %+v", result)
	}
	if st.sessions["s1"].Status != domain.SessionStopped {
		t.Errorf("expected session stopped, got %s", st.sessions["s1"].Status)
	}
}

func TestService_Stop_NotFoundForUnknownSession(t *testing.T) {
	st := newFakeStore()
	svc := testService(t, st, newFakeDriver())

	_, err := svc.Stop(context.Background(), "missing")
	if ocerr.As(err) != ocerr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}
