package app

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrEmailInUse         = errors.New("email is already in use")
	ErrRoleNotFound       = errors.New("role is not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated covers missing, invalid, revoked or orphaned tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
)
