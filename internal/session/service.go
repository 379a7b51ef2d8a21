// Package session implements the Session Service: the start/stop state
// machine for a terminal session's backing container.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opencommander/opencommander/internal/broadcast"
	"github.com/opencommander/opencommander/internal/container"
	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/metrics"
	"github.com/opencommander/opencommander/internal/mountplan"
	"github.com/opencommander/opencommander/internal/ocerr"
)

// Store is the subset of the entity store the Session Service depends on.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.TerminalSession, error)
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus, containerName string) error
}

// StartOptions carries the optional parameters to Service.Start.
type StartOptions struct {
	Reset           bool
	WorkspaceSuffix string
	GitBranch       string
}

// StartResult is the outcome of a successful start call.
type StartResult struct {
	ContainerName string
}

// StopResult is the outcome of a stop call.
type StopResult struct {
	Removed       bool
	ContainerName string
	Error         string
}

// Config carries the image/network/runtime parameters every session uses.
type Config struct {
	Image           string
	Network         string
	MaxLayerRetries int
	LayerRetryDelay time.Duration
	StopTimeout     time.Duration
}

// Service implements the start/stop lifecycle over a Driver and Store.
type Service struct {
	store     Store
	driver    container.Driver
	mountCfg  mountplan.Config
	cfg       Config
	broadcast *broadcast.Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-session-id serialization
}

// New constructs a Service.
func New(store Store, driver container.Driver, mountCfg mountplan.Config, cfg Config, reg *broadcast.Registry) *Service {
	return &Service{
		store:     store,
		driver:    driver,
		mountCfg:  mountCfg,
		cfg:       cfg,
		broadcast: reg,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// Start ensures the session's container exists and is running, creating
// or restarting it as needed.
func (s *Service) Start(ctx context.Context, userID, sessionID string, opts StartOptions) (result *StartResult, err error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.SessionStarts.WithLabelValues(outcome).Inc()
	}()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Status == domain.SessionStopped {
		return nil, ocerr.New(ocerr.KindNotFound, "session.Start", fmt.Errorf("session %s not found or stopped", sessionID))
	}

	if !opts.Reset && (sess.Status == domain.SessionStarting || sess.Status == domain.SessionRunning) && sess.ContainerName != "" {
		return &StartResult{ContainerName: sess.ContainerName}, nil
	}

	containerName := domain.DeriveContainerName(sessionID)

	running, ok, err := s.driver.IsRunning(ctx, containerName)
	if err != nil {
		return nil, err
	}

	switch {
	case !ok:
		plan, err := mountplan.Build(s.mountCfg, userID, opts.WorkspaceSuffix)
		if err != nil {
			return nil, err
		}
		if _, err := s.driver.EnsureNetwork(ctx, s.cfg.Network, container.NetworkOptions{}); err != nil {
			return nil, err
		}
		if err := s.driver.Pull(ctx, s.cfg.Image); err != nil {
			return nil, err
		}
		spec := container.Spec{
			Name:    containerName,
			Image:   s.cfg.Image,
			Network: s.cfg.Network,
			Env:     plan.Env,
			Mounts:  plan.Mounts,
			Args:    []string{"sh", "-c", mountplan.EntrypointShell(s.mountCfg.TerminalArgv)},
		}
		if err := s.createLoop(ctx, spec); err != nil {
			return nil, err
		}
	case ok && !running && opts.Reset:
		if err := s.driver.Restart(ctx, containerName); err != nil {
			return nil, err
		}
	case ok && !running && !opts.Reset:
		if err := s.driver.Start(ctx, containerName); err != nil {
			return nil, err
		}
	case ok && running && opts.Reset:
		if err := s.driver.Restart(ctx, containerName); err != nil {
			return nil, err
		}
		// running && !reset: no action.
	}

	running, _, err = s.driver.IsRunning(ctx, containerName)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, ocerr.New(ocerr.KindOther, "session.Start", fmt.Errorf("container %s did not reach running state", containerName))
	}

	if opts.GitBranch != "" {
		if _, err := s.driver.Exec(ctx, containerName, []string{"git", "-C", "/workspace", "checkout", opts.GitBranch}); err != nil {
			slog.Warn("best-effort branch checkout failed", "session", sessionID, "branch", opts.GitBranch, "error", err)
		}
	}

	if err := s.store.UpdateSessionStatus(ctx, sessionID, domain.SessionRunning, containerName); err != nil {
		return nil, err
	}
	s.broadcast.Notify("sessions:" + sess.ProjectID)
	metrics.SessionsTotal.WithLabelValues(string(domain.SessionRunning)).Inc()

	return &StartResult{ContainerName: containerName}, nil
}

// createLoop is the bounded retry loop for container creation, handling
// name conflicts and transient image-layer locks.
func (s *Service) createLoop(ctx context.Context, spec container.Spec) error {
	maxAttempts := s.cfg.MaxLayerRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.driver.Run(ctx, spec)
		if err == nil {
			return nil
		}

		switch ocerr.As(err) {
		case ocerr.KindConflict:
			if startErr := s.driver.Start(ctx, spec.Name); startErr == nil {
				return nil
			}
			if rmErr := s.driver.SafeRemove(ctx, spec.Name); rmErr != nil {
				return rmErr
			}
			if _, netErr := s.driver.EnsureNetwork(ctx, spec.Network, container.NetworkOptions{}); netErr != nil {
				return netErr
			}
			return s.driver.Run(ctx, spec)
		case ocerr.KindLayerLocked:
			if attempt == maxAttempts {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.LayerRetryDelay):
			}
		default:
			return err
		}
	}
	return ocerr.New(ocerr.KindOther, "session.createLoop", fmt.Errorf("exhausted %d create attempts", maxAttempts))
}

// Stop tears down the session's backing container. It removes only the
// agent container; no ingress-helper container is removed and no
// ingress-config cleanup is performed, here or elsewhere.
func (s *Service) Stop(ctx context.Context, sessionID string) (result *StopResult, err error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	defer func() {
		outcome := "ok"
		if err != nil || (result != nil && !result.Removed) {
			outcome = "error"
		}
		metrics.SessionStops.WithLabelValues(outcome).Inc()
	}()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ocerr.New(ocerr.KindNotFound, "session.Stop", fmt.Errorf("session %s not found", sessionID))
	}

	containerName := sess.ContainerName
	if containerName == "" {
		containerName = domain.DeriveContainerName(sessionID)
	}

	if err := s.driver.SafeRemove(ctx, containerName); err != nil {
		return &StopResult{Removed: false, ContainerName: containerName, Error: err.Error()}, nil
	}

	_, exists, err := s.driver.IsRunning(ctx, containerName)
	if err != nil {
		return &StopResult{Removed: false, ContainerName: containerName, Error: err.Error()}, nil
	}
	if exists {
		return &StopResult{Removed: false, ContainerName: containerName, Error: "still exists"}, nil
	}

	if err := s.store.UpdateSessionStatus(ctx, sessionID, domain.SessionStopped, ""); err != nil {
		return nil, err
	}
	s.broadcast.Notify("sessions:" + sess.ProjectID)
	metrics.SessionsTotal.WithLabelValues(string(domain.SessionStopped)).Inc()

	return &StopResult{Removed: true, ContainerName: containerName}, nil
}
