package reconcile

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opencommander/opencommander/internal/container"
)

type fakeSweeper struct {
	swept int
}

func (f *fakeSweeper) SweepExpired() { f.swept++ }

// fakeDriver implements container.Driver, with Pull configurable per test.
type fakeDriver struct {
	pullErr    error
	pullCalled int
	pullImage  string
}

func (d *fakeDriver) Run(ctx context.Context, spec container.Spec) error { return nil }
func (d *fakeDriver) Start(ctx context.Context, name string) error       { return nil }
func (d *fakeDriver) Restart(ctx context.Context, name string) error     { return nil }
func (d *fakeDriver) Stop(ctx context.Context, name string, timeout time.Duration) error {
	return nil
}
func (d *fakeDriver) SafeRemove(ctx context.Context, name string) error { return nil }
func (d *fakeDriver) IsRunning(ctx context.Context, name string) (bool, bool, error) {
	return false, false, nil
}
func (d *fakeDriver) Exec(ctx context.Context, name string, argv []string) (container.ExecResult, error) {
	return container.ExecResult{}, nil
}
func (d *fakeDriver) ExecAttach(ctx context.Context, name string, argv []string) (io.ReadWriteCloser, error) {
	return nil, nil
}
func (d *fakeDriver) Pull(ctx context.Context, image string) error {
	d.pullCalled++
	d.pullImage = image
	return d.pullErr
}
func (d *fakeDriver) EnsureNetwork(ctx context.Context, name string, opts container.NetworkOptions) (string, error) {
	return name, nil
}

func newTestReconciler(cfg Config, sweeper PresenceSweeper, driver container.Driver) *Reconciler {
	return &Reconciler{cfg: cfg, presence: sweeper, driver: driver, cron: cron.New(cron.WithSeconds())}
}

func TestSweep_AlwaysSweepsPresence(t *testing.T) {
	sweeper := &fakeSweeper{}
	driver := &fakeDriver{}
	rc := newTestReconciler(Config{}, sweeper, driver)

	rc.sweep(context.Background())
	if sweeper.swept != 1 {
		t.Errorf("expected presence sweep to run once, got %d", sweeper.swept)
	}
	if driver.pullCalled != 0 {
		t.Errorf("expected no image pull when PrefetchImage is unset, got %d", driver.pullCalled)
	}
}

func TestSweep_PullsPrefetchImageWhenConfigured(t *testing.T) {
	sweeper := &fakeSweeper{}
	driver := &fakeDriver{}
	rc := newTestReconciler(Config{PrefetchImage: "opencommander/agent:latest"}, sweeper, driver)

	rc.sweep(context.Background())
	if driver.pullCalled != 1 || driver.pullImage != "opencommander/agent:latest" {
		t.Errorf("expected prefetch pull, got called=%d image=%s", driver.pullCalled, driver.pullImage)
	}
}

func TestSweep_PullFailureDoesNotPanic(t *testing.T) {
	sweeper := &fakeSweeper{}
	driver := &fakeDriver{pullErr: context.DeadlineExceeded}
	rc := newTestReconciler(Config{PrefetchImage: "opencommander/agent:latest"}, sweeper, driver)

	rc.sweep(context.Background())
	if sweeper.swept != 1 {
		t.Errorf("expected presence sweep to still run despite pull failure, got %d", sweeper.swept)
	}
}
