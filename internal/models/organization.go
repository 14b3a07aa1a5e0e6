package models

import (
	"time"

	"github.com/google/uuid"
)

// OrgKind is the level of an organization in the school/department tree.
type OrgKind string

const (
	OrgKindSchool     OrgKind = "SCHOOL"
	OrgKindDepartment OrgKind = "DEPARTMENT"
)

// Valid reports whether k is a known kind.
func (k OrgKind) Valid() bool {
	return k == OrgKindSchool || k == OrgKindDepartment
}

// Organization is a school (root) or a department (child of a school).
type Organization struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Kind      OrgKind    `json:"kind"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsSchool reports whether the organization is a root school.
func (o *Organization) IsSchool() bool { return o.Kind == OrgKindSchool }

// IsDepartment reports whether the organization is a department.
func (o *Organization) IsDepartment() bool { return o.Kind == OrgKindDepartment }
