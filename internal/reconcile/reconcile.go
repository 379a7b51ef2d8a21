// Package reconcile runs a scheduled sweep: presence garbage collection
// and a best-effort image prefetch, on a cron schedule.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/opencommander/opencommander/internal/container"
	"github.com/opencommander/opencommander/internal/metrics"
	"github.com/opencommander/opencommander/internal/presence"
)

// PresenceSweeper is the subset of presence.Tracker the reconciler depends
// on.
type PresenceSweeper interface {
	SweepExpired()
}

// Config carries the reconciler's schedule and image-prefetch target.
type Config struct {
	// Schedule is a robfig/cron/v3 six-field (seconds-enabled) spec, e.g.
	// "*/30 * * * * *" for every thirty seconds.
	Schedule      string
	PrefetchImage string
}

// Reconciler owns the cron scheduler driving presence GC and image
// prefetch.
type Reconciler struct {
	cfg      Config
	presence PresenceSweeper
	driver   container.Driver
	cron     *cron.Cron
}

// New constructs a Reconciler. Pass presence.New's Tracker directly; it
// satisfies PresenceSweeper.
func New(cfg Config, presence *presence.Tracker, driver container.Driver) *Reconciler {
	return &Reconciler{cfg: cfg, presence: presence, driver: driver, cron: cron.New(cron.WithSeconds())}
}

// Start schedules the sweep and returns once the cron scheduler is running.
// Stop via ctx cancellation or Reconciler.Stop.
func (rc *Reconciler) Start(ctx context.Context) error {
	_, err := rc.cron.AddFunc(rc.cfg.Schedule, func() {
		rc.sweep(ctx)
	})
	if err != nil {
		return err
	}
	rc.cron.Start()
	slog.Info("reconciler started", "schedule", rc.cfg.Schedule)

	go func() {
		<-ctx.Done()
		rc.Stop()
	}()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (rc *Reconciler) Stop() {
	stopCtx := rc.cron.Stop()
	<-stopCtx.Done()
	slog.Info("reconciler stopped")
}

func (rc *Reconciler) sweep(ctx context.Context) {
	metrics.ReconcileSweeps.Inc()

	rc.presence.SweepExpired()

	if rc.cfg.PrefetchImage == "" {
		return
	}
	if err := rc.driver.Pull(ctx, rc.cfg.PrefetchImage); err != nil {
		slog.Warn("reconciler: best-effort image prefetch failed", "image", rc.cfg.PrefetchImage, "error", err)
		metrics.ReconcileDrift.WithLabelValues("prefetch_failed").Inc()
	}
}
