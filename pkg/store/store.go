package store

import (
	"context"
	"errors"

	"roomchat/pkg/domain"
)

// ErrDuplicateUser is returned when a username or email is already registered.
var ErrDuplicateUser = errors.New("user already exists")

// MessageStore is the durable system of record for chat messages.
type MessageStore interface {
	// SaveMessage assigns ID and, when zero, CreatedAt, and returns the stored message.
	SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	// FindMessagesSince returns messages created strictly after ts,
	// ordered by CreatedAt then ID.
	FindMessagesSince(ctx context.Context, ts int64) ([]domain.Message, error)
	MessageExists(ctx context.Context, id int64) (bool, error)
	GetMessage(ctx context.Context, id int64) (domain.Message, bool, error)
	// DeleteMessage is idempotent.
	DeleteMessage(ctx context.Context, id int64) error
}

// UserStore persists registered accounts.
type UserStore interface {
	SaveUser(ctx context.Context, u domain.User) (domain.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
}
