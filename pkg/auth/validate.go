package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"roomchat/pkg/domain"
)

// ErrRoleNotFound is returned when a signup asks for a role that does not exist.
var ErrRoleNotFound = errors.New("role is not found")

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Username string   `json:"username" validate:"required,min=3,max=20"`
	Email    string   `json:"email" validate:"required,max=50,email"`
	Password string   `json:"password" validate:"required,min=6,max=40"`
	Roles    []string `json:"roles"`
}

// LoginRequest is the body of POST /api/auth/signin.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and returns the first failure as a readable error.
func Validate(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", field)
		case "min":
			return fmt.Errorf("%s must be at least %s characters", field, fe.Param())
		case "max":
			return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
		case "email":
			return fmt.Errorf("%s must be a valid email address", field)
		default:
			return fmt.Errorf("%s is invalid", field)
		}
	}
	return err
}

// ResolveRoles maps requested role names (admin, mod, user) to roles.
// An empty request yields the user role.
func ResolveRoles(requested []string) ([]domain.Role, error) {
	if len(requested) == 0 {
		return []domain.Role{domain.RoleUser}, nil
	}
	seen := map[domain.Role]bool{}
	out := make([]domain.Role, 0, len(requested))
	for _, name := range requested {
		var role domain.Role
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "admin":
			role = domain.RoleAdmin
		case "mod":
			role = domain.RoleModerator
		case "user":
			role = domain.RoleUser
		default:
			return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
		}
		if !seen[role] {
			seen[role] = true
			out = append(out, role)
		}
	}
	return out, nil
}
