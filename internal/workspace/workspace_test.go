package workspace

import (
	"errors"
	"testing"

	"github.com/opencommander/opencommander/internal/ocerr"
)

func TestParseOwnerName_Valid(t *testing.T) {
	owner, name, err := parseOwnerName("acme-corp/widget.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "acme-corp" || name != "widget.go" {
		t.Errorf("got owner=%s name=%s", owner, name)
	}
}

func TestParseOwnerName_RejectsMissingSlash(t *testing.T) {
	_, _, err := parseOwnerName("no-slash-here")
	if ocerr.As(err) != ocerr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestParseOwnerName_RejectsTooManyParts(t *testing.T) {
	_, _, err := parseOwnerName("a/b/c")
	if ocerr.As(err) != ocerr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestParseOwnerName_RejectsPathTraversal(t *testing.T) {
	_, _, err := parseOwnerName("../etc/passwd")
	if ocerr.As(err) != ocerr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
	_, _, err = parseOwnerName("../passwd")
	if ocerr.As(err) != ocerr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput for a '..' owner, got %v", err)
	}
}

func TestParseOwnerName_RejectsEmptyName(t *testing.T) {
	_, _, err := parseOwnerName("owner/")
	if ocerr.As(err) != ocerr.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
}

func TestService_Redact_StripsToken(t *testing.T) {
	s := &Service{GitHubToken: "ghp_secrettoken"}
	err := errors.New("clone failed: authentication for 'https://ghp_secrettoken@github.com' not supported")

	redacted := s.redact(err)
	if redacted == nil {
		t.Fatal("expected non-nil error")
	}
	if want, got := "clone failed: authentication for 'https://***@github.com' not supported", redacted.Error(); got != want {
		t.Errorf("expected token redacted, got %q", got)
	}
}

func TestService_Redact_NoTokenConfiguredPassesThrough(t *testing.T) {
	s := &Service{}
	err := errors.New("some failure")

	if s.redact(err) != err {
		t.Error("expected redact to return the original error unchanged when no token is configured")
	}
}

func TestService_Auth_NilWhenNoToken(t *testing.T) {
	s := &Service{}
	if s.auth() != nil {
		t.Error("expected nil auth method when GitHubToken is empty")
	}
}

func TestService_Auth_BasicAuthWhenTokenSet(t *testing.T) {
	s := &Service{GitHubToken: "ghp_x"}
	auth := s.auth()
	if auth == nil {
		t.Fatal("expected non-nil auth method when GitHubToken is set")
	}
	if auth.Name() != "http-basic-auth" {
		t.Errorf("expected http-basic-auth, got %s", auth.Name())
	}
}
