package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencommander/opencommander/internal/api"
	"github.com/opencommander/opencommander/internal/auth"
	"github.com/opencommander/opencommander/internal/broadcast"
	"github.com/opencommander/opencommander/internal/config"
	"github.com/opencommander/opencommander/internal/container"
	"github.com/opencommander/opencommander/internal/forwarder"
	"github.com/opencommander/opencommander/internal/metrics"
	"github.com/opencommander/opencommander/internal/mountplan"
	"github.com/opencommander/opencommander/internal/presence"
	"github.com/opencommander/opencommander/internal/proxy"
	"github.com/opencommander/opencommander/internal/reconcile"
	"github.com/opencommander/opencommander/internal/session"
	"github.com/opencommander/opencommander/internal/store"
	"github.com/opencommander/opencommander/internal/workspace"
)

func newServeCmd() *cobra.Command {
	var disableAuth bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the front-door forwarder, WebSocket proxy, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(disableAuth)
		},
	}
	cmd.Flags().BoolVar(&disableAuth, "disable-auth", false, "resolve every request to the first admin user instead of requiring credentials")
	return cmd
}

func runServe(disableAuth bool) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("starting opencommander", "frontDoor", cfg.Ports.FrontDoor, "dev", cfg.IsDevelopment())

	st, err := store.NewSQLite(cfg.Paths.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Ping(ctx); err != nil {
		return err
	}

	driver, err := container.NewDockerDriver(cfg.ContainerRuntime)
	if err != nil {
		return err
	}
	if _, err := driver.EnsureNetwork(ctx, cfg.PlaygroundNetwork, container.NetworkOptions{}); err != nil {
		return err
	}

	reg := broadcast.New()
	pres := presence.New(reg)
	authSvc := auth.New(st, disableAuth)
	ws := workspace.New(cfg.Paths.WorkspaceRoot, cfg.Git.GitHubToken, cfg.Git.CloneTimeout)

	mountCfg := mountplan.Config{
		StateRoot:     cfg.Paths.StateRoot,
		WorkspaceRoot: cfg.Paths.WorkspaceRoot,
		CertsDir:      cfg.Paths.CertsDir,
		DockerHost:    cfg.Egress.DockerHost,
		HTTPProxy:     cfg.Egress.HTTPProxy,
		HTTPSProxy:    cfg.Egress.HTTPSProxy,
		NoProxy:       cfg.Egress.NoProxy,
		GitHubToken:   cfg.Git.GitHubToken,
		TerminalArgv:  cfg.TerminalArgv,
	}
	sessionCfg := session.Config{
		Image:           cfg.PlaygroundImage,
		Network:         cfg.PlaygroundNetwork,
		MaxLayerRetries: cfg.Session.MaxLayerRetries,
		LayerRetryDelay: cfg.Session.LayerRetryDelay,
		StopTimeout:     cfg.Session.StopTimeout,
	}
	sessions := session.New(st, driver, mountCfg, sessionCfg, reg)

	upstreamCfg := proxy.UpstreamConfig{
		Attempts:            cfg.Proxy.UpstreamAttempts,
		AttemptSpacing:      cfg.Proxy.UpstreamAttemptSpacing,
		DirectOpenTimeout:   cfg.Proxy.DirectOpenTimeout,
		PreConnectBufferCap: cfg.Proxy.PreConnectBufferCap,
		TerminalPort:        "7681",
	}
	proxySrv := proxy.New(authSvc, st, pres, reg, driver, upstreamCfg)

	handler := api.NewHandler(st, authSvc, ws, sessions)

	rc := reconcile.New(reconcile.Config{
		Schedule:      cfg.Presence.SweepCron,
		PrefetchImage: cfg.PlaygroundImage,
	}, pres, driver)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rc.Start(runCtx); err != nil {
		return err
	}

	httpRouter := chi.NewRouter()
	httpRouter.Use(chiMiddleware.RequestID)
	httpRouter.Use(chiMiddleware.RealIP)
	httpRouter.Use(chiMiddleware.Logger)
	httpRouter.Use(chiMiddleware.Recoverer)
	httpRouter.Use(chiMiddleware.Heartbeat("/health"))
	httpRouter.Use(corsMiddleware([]string{cfg.FrontendURL, "*"}))
	httpRouter.Handle("/metrics", metrics.Handler())
	handler.RegisterRoutes(httpRouter)

	proxyRouter := chi.NewRouter()
	proxyRouter.Use(chiMiddleware.RequestID)
	proxyRouter.Use(chiMiddleware.Recoverer)
	proxySrv.Routes(proxyRouter)

	httpSrv := &http.Server{
		Addr:         "127.0.0.1:" + cfg.Ports.HTTP,
		Handler:      httpRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	proxyHTTPSrv := &http.Server{
		Addr:         "127.0.0.1:" + cfg.Ports.Proxy,
		Handler:      proxyRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	fwd := forwarder.New(":"+cfg.Ports.FrontDoor, "127.0.0.1:"+cfg.Ports.Proxy, "127.0.0.1:"+cfg.Ports.HTTP)

	go func() {
		slog.Info("http api listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http api server failed", "error", err)
		}
	}()
	go func() {
		slog.Info("websocket proxy listening", "addr", proxyHTTPSrv.Addr)
		if err := proxyHTTPSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("websocket proxy server failed", "error", err)
		}
	}()
	go func() {
		slog.Info("front-door forwarder listening", "addr", fwd.ListenAddr)
		if err := fwd.Serve(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("forwarder failed", "error", err)
		}
	}()

	<-runCtx.Done()
	slog.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http api shutdown error", "error", err)
	}
	if err := proxyHTTPSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("websocket proxy shutdown error", "error", err)
	}

	slog.Info("opencommander stopped")
	return nil
}
