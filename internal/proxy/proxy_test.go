package proxy

import (
	"testing"

	"github.com/opencommander/opencommander/internal/domain"
)

func TestAccessibleSession_OwnerAlwaysAllowed(t *testing.T) {
	sess := &domain.TerminalSession{OwnerUserID: "u1"}
	if !accessibleSession(sess, nil, "u1") {
		t.Error("expected owner to be allowed even with no project")
	}
}

func TestAccessibleSession_NonOwnerDeniedOnUnsharedProject(t *testing.T) {
	sess := &domain.TerminalSession{OwnerUserID: "u1"}
	project := &domain.Project{Shared: false}
	if accessibleSession(sess, project, "u2") {
		t.Error("expected non-owner to be denied access to an unshared project's session")
	}
}

func TestAccessibleSession_NonOwnerAllowedOnSharedProject(t *testing.T) {
	sess := &domain.TerminalSession{OwnerUserID: "u1"}
	project := &domain.Project{Shared: true}
	if !accessibleSession(sess, project, "u2") {
		t.Error("expected non-owner to be allowed access to a shared project's session")
	}
}

func TestAccessibleSession_NonOwnerDeniedWhenProjectMissing(t *testing.T) {
	sess := &domain.TerminalSession{OwnerUserID: "u1"}
	if accessibleSession(sess, nil, "u2") {
		t.Error("expected non-owner to be denied when project lookup failed")
	}
}
