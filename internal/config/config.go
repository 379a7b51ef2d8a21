// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible
// defaults, grouped by subsystem so each one gets a small typed struct
// instead of reading os.Getenv scattered across the codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PortConfig holds the three listener ports the server binds.
type PortConfig struct {
	FrontDoor string // public TCP sniff-and-forward listener
	HTTP      string // internal HTTP application
	Proxy     string // internal WebSocket proxy
}

// PathConfig holds the persisted-state directory layout.
type PathConfig struct {
	StateRoot     string
	WorkspaceRoot string
	CertsDir      string
	DBPath        string
}

// SessionConfig holds Session Service retry/timeout parameters.
type SessionConfig struct {
	MaxLayerRetries int
	LayerRetryDelay time.Duration
	StopTimeout     time.Duration
}

// ProxyConfig holds WebSocket Proxy timing parameters.
type ProxyConfig struct {
	UpstreamAttempts       int
	UpstreamAttemptSpacing time.Duration
	DirectOpenTimeout      time.Duration
	PreConnectBufferCap    int64
}

// GitConfig holds Git Workspace Service parameters.
type GitConfig struct {
	CloneTimeout time.Duration
	GitHubToken  string
}

// PresenceConfig holds Presence Tracker GC parameters. GCHorizon is loaded
// from OC_PRESENCE_GC_HORIZON but nothing reads it: the tracker always uses
// the fixed domain.ViewingHorizon+domain.InactiveGCHorizon.
type PresenceConfig struct {
	GCHorizon    time.Duration
	SweepCron    string
}

// EgressConfig holds the forward-proxy env vars injected into agent
// containers.
type EgressConfig struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
	DockerHost string
}

// Config holds all application configuration.
type Config struct {
	Ports       PortConfig
	Paths       PathConfig
	Session     SessionConfig
	Proxy       ProxyConfig
	Git         GitConfig
	Presence    PresenceConfig
	Egress      EgressConfig

	PlaygroundImage   string
	PlaygroundNetwork string
	ContainerRuntime  string
	TerminalArgv      []string
	FrontendURL       string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Ports: PortConfig{
			FrontDoor: getEnv("OC_FRONT_DOOR_PORT", "3000"),
			HTTP:      getEnv("OC_HTTP_PORT", "3001"),
			Proxy:     getEnv("OC_PROXY_PORT", "7682"),
		},
		Paths: PathConfig{
			StateRoot:     getEnv("OC_STATE_ROOT", "./data/state"),
			WorkspaceRoot: getEnv("OC_WORKSPACE_ROOT", "./data/workspaces"),
			CertsDir:      getEnv("OC_CERTS_DIR", ""),
			DBPath:        getEnv("OC_DB_PATH", "./data/opencommander.db"),
		},
		Session: SessionConfig{
			MaxLayerRetries: getEnvInt("OC_SESSION_MAX_LAYER_RETRIES", 5),
			LayerRetryDelay: getEnvDuration("OC_SESSION_LAYER_RETRY_DELAY", 5*time.Second),
			StopTimeout:     getEnvDuration("OC_SESSION_STOP_TIMEOUT", 10*time.Second),
		},
		Proxy: ProxyConfig{
			UpstreamAttempts:       getEnvInt("OC_PROXY_UPSTREAM_ATTEMPTS", 10),
			UpstreamAttemptSpacing: getEnvDuration("OC_PROXY_UPSTREAM_SPACING", 500*time.Millisecond),
			DirectOpenTimeout:      getEnvDuration("OC_PROXY_DIRECT_OPEN_TIMEOUT", 1500*time.Millisecond),
			PreConnectBufferCap:    getEnvInt64("OC_PROXY_BUFFER_CAP_BYTES", 1<<20),
		},
		Git: GitConfig{
			CloneTimeout: getEnvDuration("OC_GIT_CLONE_TIMEOUT", 5*time.Minute),
			GitHubToken:  getEnv("GITHUB_TOKEN", getEnv("GH_TOKEN", "")),
		},
		Presence: PresenceConfig{
			GCHorizon: getEnvDuration("OC_PRESENCE_GC_HORIZON", 5*time.Minute),
			SweepCron: getEnv("OC_PRESENCE_SWEEP_CRON", "*/30 * * * * *"),
		},
		Egress: EgressConfig{
			HTTPProxy:  getEnv("OC_EGRESS_HTTP_PROXY", ""),
			HTTPSProxy: getEnv("OC_EGRESS_HTTPS_PROXY", ""),
			NoProxy:    getEnv("OC_EGRESS_NO_PROXY", ""),
			DockerHost: getEnv("OC_INNER_DOCKER_HOST", "tcp://docker:2376"),
		},
		PlaygroundImage:   getEnv("OC_AGENT_IMAGE", "opencommander/agent:latest"),
		PlaygroundNetwork: getEnv("OC_AGENT_NETWORK", "oc-agents"),
		ContainerRuntime:  getEnv("OC_CONTAINER_RUNTIME", ""),
		TerminalArgv:      strings.Fields(getEnv("OC_TERMINAL_ARGV", "ttyd -p 7681 bash")),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration fields are set.
func (c *Config) Validate() error {
	if c.Paths.DBPath == "" {
		return fmt.Errorf("OC_DB_PATH cannot be empty")
	}
	if c.Paths.WorkspaceRoot == "" {
		return fmt.Errorf("OC_WORKSPACE_ROOT cannot be empty")
	}
	if len(c.TerminalArgv) == 0 {
		return fmt.Errorf("OC_TERMINAL_ARGV cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running without a configured production
// frontend origin.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
