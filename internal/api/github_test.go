package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyGitHubAccess_RequiresRepository(t *testing.T) {
	h, _ := newTestHandler(newFakeStore())
	req := httptest.NewRequest(http.MethodPost, "/api/github/verify-access", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	router(h).ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestVerifyGitHubAccess_InvalidBody(t *testing.T) {
	h, _ := newTestHandler(newFakeStore())
	req := httptest.NewRequest(http.MethodPost, "/api/github/verify-access", bytes.NewBufferString(`not-json`))
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	router(h).ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestVerifyGitHubAccess_RequiresAPIKey(t *testing.T) {
	h, _ := newTestHandler(newFakeStore())
	req := httptest.NewRequest(http.MethodPost, "/api/github/verify-access", bytes.NewBufferString(`{"repository":"foo/bar"}`))
	w := httptest.NewRecorder()

	router(h).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}
