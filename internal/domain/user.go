package domain

import "time"

// User is an Open Commander operator account. Under disabled-auth mode the
// auth collaborator resolves every request to the first admin user rather
// than rejecting it.
type User struct {
	ID         string
	Username   string
	IsAdmin    bool
	APIKeyHash string // bcrypt hash of the bearer token; empty if none issued
	CreatedAt  time.Time
}
