// Package domain contains core domain types for Open Commander.
package domain

import "time"

// Project groups terminal sessions under a shared workspace.
type Project struct {
	ID              string
	Name            string
	Folder          string
	OwnerUserID     string
	Shared          bool
	DefaultAgentID  string
	CreatedAt       time.Time
}

// AccessibleBy reports whether userID may open this project: owners always,
// or any authenticated user when the project is shared.
func (p *Project) AccessibleBy(userID string) bool {
	if p.OwnerUserID == userID {
		return true
	}
	return p.Shared
}
