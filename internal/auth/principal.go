package auth

import (
	"context"
	"fmt"
	"strings"
)

// Role is a position in the trust hierarchy. Roles compare by Level.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

var roleLevels = map[Role]int{
	RoleViewer:   0,
	RoleEmployee: 1,
	RoleAdmin:    2,
}

// Level returns the integer rank of the role. Unknown roles rank below viewer.
func (r Role) Level() int {
	if lvl, ok := roleLevels[r]; ok {
		return lvl
	}
	return -1
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// ParseRole maps a case-insensitive role name to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Principal is the authenticated identity attached to one operation.
type Principal struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type principalKey struct{}

// WithPrincipal returns a child context carrying p. The parent is untouched, so
// concurrent operations with different principals never observe each other.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal bound to ctx, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
