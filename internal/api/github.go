package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type verifyAccessRequest struct {
	Repository string `json:"repository"`
}

type verifyAccessResponse struct {
	HasAccess   bool     `json:"hasAccess"`
	Repository  string   `json:"repository,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// githubRepoResponse is the subset of GitHub's repository API response this
// handler inspects.
type githubRepoResponse struct {
	FullName    string `json:"full_name"`
	Permissions struct {
		Admin bool `json:"admin"`
		Push  bool `json:"push"`
		Pull  bool `json:"pull"`
	} `json:"permissions"`
}

// VerifyGitHubAccess implements POST /api/github/verify-access: checks
// whether the server's configured GitHub token can see the given
// repository, ahead of a task that names it.
func (h *Handler) VerifyGitHubAccess(w http.ResponseWriter, r *http.Request) {
	var req verifyAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repository == "" {
		Error(w, http.StatusBadRequest, "repository is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	repo, status, err := h.fetchGitHubRepo(ctx, req.Repository)
	switch {
	case err != nil:
		JSON(w, http.StatusOK, verifyAccessResponse{HasAccess: false, Error: err.Error()})
	case status == http.StatusNotFound || status == http.StatusForbidden:
		JSON(w, http.StatusOK, verifyAccessResponse{HasAccess: false, Error: "repository not accessible"})
	case status != http.StatusOK:
		JSON(w, http.StatusOK, verifyAccessResponse{HasAccess: false, Error: "unexpected response from GitHub"})
	default:
		JSON(w, http.StatusOK, verifyAccessResponse{
			HasAccess:   true,
			Repository:  repo.FullName,
			Permissions: permissionList(repo),
		})
	}
}

func (h *Handler) fetchGitHubRepo(ctx context.Context, repository string) (*githubRepoResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/repos/"+repository, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token := h.workspace.GitHubToken; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var repo githubRepoResponse
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return nil, resp.StatusCode, err
	}
	return &repo, resp.StatusCode, nil
}

func permissionList(repo *githubRepoResponse) []string {
	var perms []string
	if repo.Permissions.Pull {
		perms = append(perms, "pull")
	}
	if repo.Permissions.Push {
		perms = append(perms, "push")
	}
	if repo.Permissions.Admin {
		perms = append(perms, "admin")
	}
	return perms
}
