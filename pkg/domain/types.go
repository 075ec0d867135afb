package domain

import (
	"slices"
	"time"
)

// DefaultRoom is the single room every message belongs to.
const DefaultRoom = "general"

type Role string

const (
	RoleUser      Role = "ROLE_USER"
	RoleModerator Role = "ROLE_MODERATOR"
	RoleAdmin     Role = "ROLE_ADMIN"
)

// Message is a persisted chat line. CreatedAt is epoch milliseconds and is
// also the cache score.
type Message struct {
	ID        int64  `json:"id"`
	Author    string `json:"username"`
	Body      string `json:"message"`
	CreatedAt int64  `json:"timestamp"`
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity is the authenticated caller derived from a bearer token.
type Identity struct {
	Username string
	Roles    []Role
}

// HasRole reports whether the identity carries any of roles.
func (i Identity) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if slices.Contains(i.Roles, r) {
			return true
		}
	}
	return false
}

// RoleNames converts roles to their wire names.
func RoleNames(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

// ParseRoles is the inverse of RoleNames; unknown names are dropped.
func ParseRoles(names []string) []Role {
	out := make([]Role, 0, len(names))
	for _, n := range names {
		switch r := Role(n); r {
		case RoleUser, RoleModerator, RoleAdmin:
			out = append(out, r)
		}
	}
	return out
}
