package models

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole is the role carried in access tokens.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	SchoolID string   `json:"school_id,omitempty"`
	jwt.RegisteredClaims
}

// ScopedSchool returns the school the caller is confined to. Superadmins and callers without a
// school in their token are unrestricted.
func (c *JWTClaims) ScopedSchool() string {
	if c == nil || c.Role == RoleSuperAdmin {
		return ""
	}
	return c.SchoolID
}

type schoolScopeKey struct{}

// WithSchoolScope confines ctx to one school's data. An empty id leaves ctx unrestricted.
func WithSchoolScope(ctx context.Context, schoolID string) context.Context {
	if schoolID == "" {
		return ctx
	}
	return context.WithValue(ctx, schoolScopeKey{}, schoolID)
}

// SchoolScope returns the school ctx is confined to, or "" when unrestricted.
func SchoolScope(ctx context.Context) string {
	schoolID, _ := ctx.Value(schoolScopeKey{}).(string)
	return schoolID
}
