// Package mountplan produces the mount set and environment for an agent
// container given a user id and optional workspace suffix.
package mountplan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencommander/opencommander/internal/container"
	"github.com/opencommander/opencommander/internal/ocerr"
)

// Config carries the host-side paths and egress settings the planner needs.
// It is populated from the application Config (internal/config).
type Config struct {
	StateRoot     string // <stateRoot>/<userId>/{claude,codex,cursor}
	WorkspaceRoot string // workspace suffixes resolve under here
	CertsDir      string // TLS material for the inner Docker daemon
	DockerHost    string
	HTTPProxy     string
	HTTPSProxy    string
	NoProxy       string
	GitHubToken   string
	TerminalArgv  []string // the in-container terminal daemon argv
}

// agentFamilies are the per-agent state directories mounted under the
// user's state root and exposed to the container via env vars.
var agentFamilies = []struct {
	dir    string
	envVar string
}{
	{"claude", "CLAUDE_CONFIG_DIR"},
	{"codex", "CODEX_HOME"},
	{"cursor", "CURSOR_CONFIG_DIR"},
}

// Plan is the ordered mount list plus environment produced for a container.
type Plan struct {
	Mounts []container.Mount
	Env    map[string]string
}

// Build resolves the workspace path, creates any on-demand state
// directories, and returns the full mount/env plan for userID.
func Build(cfg Config, userID string, workspaceSuffix string) (*Plan, error) {
	workspacePath, err := resolveWorkspacePath(cfg.WorkspaceRoot, workspaceSuffix)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Env: map[string]string{}}

	userStateRoot := filepath.Join(cfg.StateRoot, userID)
	for _, fam := range agentFamilies {
		dir := filepath.Join(userStateRoot, fam.dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ocerr.New(ocerr.KindOther, "mountplan.Build", fmt.Errorf("create %s state dir: %w", fam.dir, err))
		}
		plan.Mounts = append(plan.Mounts, container.Mount{Source: dir, Target: "/home/agent/." + fam.dir})
		plan.Env[fam.envVar] = "/home/agent/." + fam.dir
	}

	agentsDir := filepath.Join(cfg.StateRoot, "agents")
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		return nil, ocerr.New(ocerr.KindOther, "mountplan.Build", fmt.Errorf("create shared agents dir: %w", err))
	}
	plan.Mounts = append(plan.Mounts, container.Mount{Source: agentsDir, Target: "/home/agent/.commander"})

	if cfg.CertsDir != "" {
		plan.Mounts = append(plan.Mounts, container.Mount{Source: cfg.CertsDir, Target: "/certs/client", Mode: "ro"})
	}

	plan.Mounts = append(plan.Mounts, container.Mount{Source: workspacePath, Target: "/workspace"})

	for _, kv := range [][2]string{
		{"HTTP_PROXY", cfg.HTTPProxy}, {"http_proxy", cfg.HTTPProxy},
		{"HTTPS_PROXY", cfg.HTTPSProxy}, {"https_proxy", cfg.HTTPSProxy},
		{"NO_PROXY", cfg.NoProxy}, {"no_proxy", cfg.NoProxy},
	} {
		if kv[1] != "" {
			plan.Env[kv[0]] = kv[1]
		}
	}

	plan.Env["DOCKER_HOST"] = cfg.DockerHost
	plan.Env["DOCKER_TLS_VERIFY"] = "1"
	plan.Env["DOCKER_CERT_PATH"] = "/certs/client"

	if cfg.GitHubToken != "" {
		plan.Env["GITHUB_TOKEN"] = cfg.GitHubToken
		plan.Env["GH_TOKEN"] = cfg.GitHubToken
	}

	return plan, nil
}

// resolveWorkspacePath validates workspaceSuffix and resolves it to an
// existing directory under root. A suffix containing "..", "/", or "\" is
// rejected, as is any resolved path that escapes root.
func resolveWorkspacePath(root, workspaceSuffix string) (string, error) {
	if workspaceSuffix == "" {
		return root, ensureIsDir(root)
	}

	if strings.Contains(workspaceSuffix, "..") ||
		strings.ContainsAny(workspaceSuffix, "/\\") {
		return "", ocerr.New(ocerr.KindInvalidInput, "mountplan.resolveWorkspacePath",
			fmt.Errorf("workspace suffix %q must not contain .. or path separators", workspaceSuffix))
	}

	resolved := filepath.Join(root, workspaceSuffix)
	cleanRoot := filepath.Clean(root)
	if resolved != cleanRoot && !strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return "", ocerr.New(ocerr.KindInvalidInput, "mountplan.resolveWorkspacePath",
			fmt.Errorf("workspace suffix %q escapes workspace root", workspaceSuffix))
	}

	return resolved, ensureIsDir(resolved)
}

func ensureIsDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return ocerr.New(ocerr.KindInvalidInput, "mountplan.ensureIsDir", fmt.Errorf("workspace path %s: %w", path, err))
	}
	if !info.IsDir() {
		return ocerr.New(ocerr.KindInvalidInput, "mountplan.ensureIsDir", fmt.Errorf("workspace path %s is not a directory", path))
	}
	return nil
}

// EntrypointShell synthesizes the shell command run as the container
// entrypoint: a stable ~/.agents -> ~/.commander symlink, then exec into
// the configured terminal-daemon argv. All argv elements are shell-escaped.
func EntrypointShell(terminalArgv []string) string {
	var escaped []string
	for _, arg := range terminalArgv {
		escaped = append(escaped, shellEscape(arg))
	}
	return fmt.Sprintf("ln -sfn ~/.commander ~/.agents && exec %s", strings.Join(escaped, " "))
}

// shellEscape wraps s in single quotes, escaping any embedded single quote,
// so it is safe to splice into a `sh -c` string.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
