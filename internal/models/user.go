package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a global role ceiling or a per-organization role.
type Role string

const (
	RoleSuperAdmin  Role = "SUPER_ADMIN"
	RoleSchoolAdmin Role = "SCHOOL_ADMIN"
	RoleMarketer    Role = "MARKETER"
)

// Valid reports whether r is a known global role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleSchoolAdmin, RoleMarketer:
		return true
	}
	return false
}

// ValidInOrg reports whether r may be held on a membership.
func (r Role) ValidInOrg() bool {
	return r == RoleSchoolAdmin || r == RoleMarketer
}

// Elevated reports whether r is an admin role.
func (r Role) Elevated() bool {
	return r == RoleSuperAdmin || r == RoleSchoolAdmin
}

// User represents a backend user (salesperson or admin).
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Identity is the already-authenticated caller handed over by the auth layer.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

// Membership links a user to an organization with a role in that organization.
type Membership struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}
