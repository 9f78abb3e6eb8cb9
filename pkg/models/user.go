// Package models contains domain types for varda-engine.
package models

import (
	"slices"
	"time"
)

// User roles understood by the authorization layer.
const (
	RoleAdmin     = "admin"
	RoleImporter  = "importer"
	RoleAnnotator = "annotator"
	RoleTrader    = "trader"
)

// UserRoles is the whitelist of assignable roles.
var UserRoles = []string{RoleAdmin, RoleImporter, RoleAnnotator, RoleTrader}

// User represents an account in the system. Login is immutable after
// creation; the role set is mutable by admins.
type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}
