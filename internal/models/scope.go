package models

import "github.com/google/uuid"

// DataFilter is the organizational scope a caller may read or write.
// Unrestricted filters carry no id lists.
type DataFilter struct {
	Unrestricted    bool        `json:"unrestricted"`
	SchoolIDs       []uuid.UUID `json:"school_ids,omitempty"`
	DepartmentIDs   []uuid.UUID `json:"department_ids,omitempty"`
	OrganizationIDs []uuid.UUID `json:"organization_ids,omitempty"`
	// Valid is false when a restricted caller holds no membership at all.
	Valid             bool   `json:"valid"`
	ValidationWarning string `json:"validation_warning,omitempty"`

	// AdminSchoolIDs and AdminDepartmentIDs are the subset of the scope
	// held through a SCHOOL_ADMIN membership. See Write.
	AdminSchoolIDs     []uuid.UUID `json:"admin_school_ids,omitempty"`
	AdminDepartmentIDs []uuid.UUID `json:"admin_department_ids,omitempty"`
}

// Write returns the scope the caller may modify: the organizations held
// through a SCHOOL_ADMIN membership. The result is not Valid when there
// are none.
func (f DataFilter) Write() DataFilter {
	if f.Unrestricted {
		return DataFilter{Unrestricted: true, Valid: true}
	}
	w := DataFilter{
		SchoolIDs:     f.AdminSchoolIDs,
		DepartmentIDs: f.AdminDepartmentIDs,
		Valid:         len(f.AdminSchoolIDs)+len(f.AdminDepartmentIDs) > 0,
	}
	w.OrganizationIDs = append(append([]uuid.UUID{}, w.SchoolIDs...), w.DepartmentIDs...)
	return w
}

// Contains reports whether the organization id is inside the filter.
func (f DataFilter) Contains(orgID uuid.UUID) bool {
	if f.Unrestricted {
		return true
	}
	for _, id := range f.OrganizationIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// CoversNumber reports whether a number assigned to the given school and
// department is visible: its department is in scope, or it has no department
// and its school is in scope.
func (f DataFilter) CoversNumber(schoolID, departmentID *uuid.UUID) bool {
	if f.Unrestricted {
		return true
	}
	if departmentID != nil {
		for _, id := range f.DepartmentIDs {
			if id == *departmentID {
				return true
			}
		}
		return false
	}
	if schoolID == nil {
		return false
	}
	for _, id := range f.SchoolIDs {
		if id == *schoolID {
			return true
		}
	}
	return false
}
