package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrTokenRequired = errors.New("auth: token is required")
	ErrTokenInvalid  = errors.New("auth: token is invalid")
	ErrTokenExpired  = errors.New("auth: token expired")
	ErrUnknownRole   = errors.New("auth: unknown role")
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleCustomer, RoleVendor, RoleAdmin:
		return r, nil
	}
	return "", ErrUnknownRole
}

// Principal is the authenticated caller behind a bearer token.
type Principal struct {
	UserID    string
	Role      Role
	ExpiresAt time.Time
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// TokenVerifier resolves bearer tokens issued by the external identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}
