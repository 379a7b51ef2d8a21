package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/ocerr"
)

type fakeStore struct {
	users   map[string]*domain.User
	admin   *domain.User
	apiKeys []*domain.User
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return f.users[userID], nil
}

func (f *fakeStore) GetFirstAdminUser(ctx context.Context) (*domain.User, error) {
	return f.admin, nil
}

func (f *fakeStore) ListAPIKeyUsers(ctx context.Context) ([]*domain.User, error) {
	return f.apiKeys, nil
}

func TestResolveUser_NoCookieIsUnauthorized(t *testing.T) {
	st := &fakeStore{users: map[string]*domain.User{}}
	svc := New(st, false)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, err := svc.ResolveUser(r)
	if ocerr.As(err) != ocerr.KindUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestResolveUser_ValidCookieResolvesUser(t *testing.T) {
	st := &fakeStore{users: map[string]*domain.User{"u1": {ID: "u1", Username: "alice"}}}
	svc := New(st, false)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "u1"})

	id, err := svc.ResolveUser(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "u1" {
		t.Errorf("expected u1, got %s", id)
	}
}

func TestResolveUser_DisabledShortCircuitsToFirstAdmin(t *testing.T) {
	st := &fakeStore{users: map[string]*domain.User{}, admin: &domain.User{ID: "admin-1", IsAdmin: true}}
	svc := New(st, true)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	id, err := svc.ResolveUser(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "admin-1" {
		t.Errorf("expected admin-1, got %s", id)
	}
}

func TestResolveAPIKey_MissingBearerIsUnauthorized(t *testing.T) {
	st := &fakeStore{}
	svc := New(st, false)

	r := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	_, err := svc.ResolveAPIKey(r)
	if ocerr.As(err) != ocerr.KindUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestResolveAPIKey_MatchesHashedKey(t *testing.T) {
	hash, err := HashAPIKey("oc_supersecret")
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	user := &domain.User{ID: "u1", APIKeyHash: hash}
	st := &fakeStore{apiKeys: []*domain.User{user}}
	svc := New(st, false)

	r := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	r.Header.Set("Authorization", "Bearer oc_supersecret")

	got, err := svc.ResolveAPIKey(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("expected u1, got %s", got.ID)
	}
}

func TestResolveAPIKey_WrongKeyIsUnauthorized(t *testing.T) {
	hash, _ := HashAPIKey("oc_realkey")
	st := &fakeStore{apiKeys: []*domain.User{{ID: "u1", APIKeyHash: hash}}}
	svc := New(st, false)

	r := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	r.Header.Set("Authorization", "Bearer oc_wrongkey")

	_, err := svc.ResolveAPIKey(r)
	if ocerr.As(err) != ocerr.KindUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}
