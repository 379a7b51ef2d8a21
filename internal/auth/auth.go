// Package auth resolves an inbound request to a user id: a single
// capability so cookie parsing and bearer-token checks aren't spread
// across the WebSocket and HTTP handlers.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/ocerr"
)

const sessionCookieName = "oc_user"

// Store is the subset of the entity store the auth collaborator depends on.
type Store interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetFirstAdminUser(ctx context.Context) (*domain.User, error)
	ListAPIKeyUsers(ctx context.Context) ([]*domain.User, error)
}

// Service resolves users from cookies (WebSocket endpoints) or bearer
// tokens (HTTP API).
type Service struct {
	store    Store
	disabled bool
}

// New constructs a Service. disabled is a development escape hatch: when
// true, every request resolves to the first admin user instead of
// requiring real credentials.
func New(store Store, disabled bool) *Service {
	return &Service{store: store, disabled: disabled}
}

// ResolveUser implements proxy.Auth: cookie-based resolution for the
// WebSocket endpoints.
func (s *Service) ResolveUser(r *http.Request) (string, error) {
	if s.disabled {
		return s.firstAdminID(r.Context())
	}

	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", ocerr.New(ocerr.KindUnauthorized, "auth.ResolveUser", fmt.Errorf("no session cookie"))
	}

	user, err := s.store.GetUser(r.Context(), cookie.Value)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ocerr.New(ocerr.KindUnauthorized, "auth.ResolveUser", fmt.Errorf("unknown user %s", cookie.Value))
	}
	return user.ID, nil
}

// ResolveAPIKey implements the HTTP API's bearer-token auth: unknown or
// malformed keys return Unauthorized.
func (s *Service) ResolveAPIKey(r *http.Request) (*domain.User, error) {
	if s.disabled {
		id, err := s.firstAdminID(r.Context())
		if err != nil {
			return nil, err
		}
		return s.store.GetUser(r.Context(), id)
	}

	token := bearerToken(r)
	if token == "" {
		return nil, ocerr.New(ocerr.KindUnauthorized, "auth.ResolveAPIKey", fmt.Errorf("missing bearer token"))
	}

	candidates, err := s.store.ListAPIKeyUsers(r.Context())
	if err != nil {
		return nil, err
	}
	for _, u := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(u.APIKeyHash), []byte(token)) == nil {
			return u, nil
		}
	}
	return nil, ocerr.New(ocerr.KindUnauthorized, "auth.ResolveAPIKey", fmt.Errorf("unknown api key"))
}

func (s *Service) firstAdminID(ctx context.Context) (string, error) {
	admin, err := s.store.GetFirstAdminUser(ctx)
	if err != nil {
		return "", err
	}
	if admin == nil {
		return "", ocerr.New(ocerr.KindUnauthorized, "auth.firstAdminID", fmt.Errorf("no admin user configured"))
	}
	return admin.ID, nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}

// HashAPIKey hashes a plaintext API key for storage, for use by
// provisioning tooling (e.g. the CLI's key-issuing command).
func HashAPIKey(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}
