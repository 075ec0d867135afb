package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"roomchat/internal/usertoken"
	"roomchat/pkg/auth"
	"roomchat/pkg/domain"
	"roomchat/pkg/store"
)

// Session is returned by a successful sign-in.
type Session struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// dummyHash keeps sign-in timing flat for unknown usernames.
var dummyHash = sync.OnceValue(func() string {
	h, _ := auth.HashPassword("roomchat-timing-equalizer")
	return h
})

// SignUp registers a new account.
func (a *App) SignUp(ctx context.Context, req auth.SignupRequest) (domain.User, error) {
	if a.users == nil {
		return domain.User{}, errors.New("user store not configured")
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := auth.Validate(req); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	taken, err := a.users.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return domain.User{}, err
	}
	if taken {
		return domain.User{}, ErrUsernameTaken
	}
	inUse, err := a.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return domain.User{}, err
	}
	if inUse {
		return domain.User{}, ErrEmailInUse
	}
	roles, err := auth.ResolveRoles(req.Roles)
	if err != nil {
		return domain.User{}, ErrRoleNotFound
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}
	user, err := a.users.SaveUser(ctx, domain.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Roles:        roles,
	})
	if errors.Is(err, store.ErrDuplicateUser) {
		// Lost a race with a concurrent signup.
		return domain.User{}, ErrUsernameTaken
	}
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// SignIn checks credentials and issues an access token.
func (a *App) SignIn(ctx context.Context, req auth.LoginRequest) (Session, error) {
	if a.users == nil || a.tokens == nil {
		return Session{}, errors.New("accounts not configured")
	}
	if err := auth.Validate(req); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	user, ok, err := a.users.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		return Session{}, err
	}
	if !ok {
		auth.CheckPassword(req.Password, dummyHash())
		return Session{}, ErrInvalidCredentials
	}
	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	roles := domain.RoleNames(user.Roles)
	token, claims, err := a.tokens.Issue(user.Username, roles)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken: token,
		TokenType:   "Bearer",
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Roles:       roles,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// SignOut revokes token until it would have expired.
func (a *App) SignOut(ctx context.Context, token string) error {
	claims, err := a.verify(token)
	if err != nil {
		return err
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := a.revoker.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Identify resolves a bearer token to the caller. Revocation check failures
// reject the token.
func (a *App) Identify(ctx context.Context, token string) (domain.Identity, error) {
	claims, err := a.verify(token)
	if err != nil {
		return domain.Identity{}, err
	}
	revoked, err := a.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: revocation check: %v", ErrUnauthenticated, err)
	}
	if revoked {
		return domain.Identity{}, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
	}
	if a.users == nil {
		return domain.Identity{Username: claims.Subject, Roles: domain.ParseRoles(claims.Roles)}, nil
	}
	user, ok, err := a.users.GetUserByUsername(ctx, claims.Subject)
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, fmt.Errorf("%w: unknown user", ErrUnauthenticated)
	}
	return domain.Identity{Username: user.Username, Roles: user.Roles}, nil
}

func (a *App) verify(token string) (usertoken.Claims, error) {
	if a.tokens == nil {
		return usertoken.Claims{}, errors.New("token manager not configured")
	}
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return usertoken.Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return claims, nil
}
