// Package access computes per-request data scope from an authenticated
// identity and its organization memberships, and owns membership assignment.
//
// Scope is rebuilt from storage on every call and carried explicitly in an
// AuthContext; nothing here is cached between requests.
package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/internal/orggraph"
)

// OrgSource lists every organization.
type OrgSource interface {
	List(ctx context.Context) ([]models.Organization, error)
}

// MembershipStore reads and replaces a user's memberships.
type MembershipStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error)
	Replace(ctx context.Context, userID uuid.UUID, within models.DataFilter, orgIDs []uuid.UUID, role models.Role) error
}

// AuthContext is the resolved caller for one request.
type AuthContext struct {
	Identity    models.Identity
	Memberships []models.Membership
	Filter      models.DataFilter
	Graph       *orggraph.Graph
}

// IsSuperAdmin reports whether the caller is unrestricted.
func (a *AuthContext) IsSuperAdmin() bool {
	return a != nil && a.Identity.Role == models.RoleSuperAdmin
}

// WriteScope is the part of the caller's scope held through an admin
// membership. Every mutation is checked against it, never against Filter.
func (a *AuthContext) WriteScope() models.DataFilter {
	if a == nil {
		return models.DataFilter{}
	}
	if a.IsSuperAdmin() {
		return models.DataFilter{Unrestricted: true, Valid: true}
	}
	if a.Identity.Role != models.RoleSchoolAdmin {
		return models.DataFilter{}
	}
	return a.Filter.Write()
}

// Elevated reports whether the caller holds an admin role with a usable
// write scope.
func (a *AuthContext) Elevated() bool {
	if a == nil {
		return false
	}
	if a.IsSuperAdmin() {
		return true
	}
	return a.Identity.Role == models.RoleSchoolAdmin && a.WriteScope().Valid
}

// CanManageOrg reports whether the caller may create, edit or delete inside
// the given organization.
func (a *AuthContext) CanManageOrg(orgID uuid.UUID) bool {
	if a.IsSuperAdmin() {
		return true
	}
	return a.Elevated() && a.WriteScope().Contains(orgID)
}

// Resolver turns identities into AuthContexts.
type Resolver struct {
	orgs        OrgSource
	memberships MembershipStore
	logger      *zap.Logger
}

// NewResolver creates a scope resolver.
func NewResolver(orgs OrgSource, memberships MembershipStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{orgs: orgs, memberships: memberships, logger: logger}
}

// Graph loads the current organization tree.
func (r *Resolver) Graph(ctx context.Context) (*orggraph.Graph, error) {
	orgs, err := r.orgs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orggraph.New(orgs)
}

// Resolve loads memberships and the organization tree and computes the
// caller's scope. Membership inconsistencies are logged, never fatal.
func (r *Resolver) Resolve(ctx context.Context, id models.Identity) (*AuthContext, error) {
	g, err := r.Graph(ctx)
	if err != nil {
		return nil, err
	}
	var ms []models.Membership
	if id.Role != models.RoleSuperAdmin {
		ms, err = r.memberships.ListByUser(ctx, id.UserID)
		if err != nil {
			return nil, fmt.Errorf("list memberships: %w", err)
		}
	}
	f := ComputeFilter(id, ms, g)
	if f.ValidationWarning != "" {
		r.logger.Warn("membership scope inconsistent",
			zap.String("user_id", id.UserID.String()),
			zap.String("warning", f.ValidationWarning),
		)
	}
	return &AuthContext{Identity: id, Memberships: ms, Filter: f, Graph: g}, nil
}

// ComputeFilter derives a DataFilter from an identity and its memberships.
//
// Super admins are unrestricted. Everyone else sees the schools and
// departments they are members of. A school admin additionally sees every
// department under the schools held through a SCHOOL_ADMIN membership, and
// only those schools and departments form its write scope. A department
// membership whose parent school is missing is reported in
// ValidationWarning but still honoured.
func ComputeFilter(id models.Identity, memberships []models.Membership, g *orggraph.Graph) models.DataFilter {
	if id.Role == models.RoleSuperAdmin {
		return models.DataFilter{Unrestricted: true, Valid: true}
	}

	var (
		schools      = newIDSet()
		depts        = newIDSet()
		adminSchools = newIDSet()
		adminDepts   = newIDSet()
		ownDepts     []uuid.UUID
		warnings     []string
	)
	admin := id.Role == models.RoleSchoolAdmin
	for _, m := range memberships {
		org, ok := g.Get(m.OrganizationID)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("membership on unknown organization %s", m.OrganizationID))
			continue
		}
		switch org.Kind {
		case models.OrgKindSchool:
			schools.add(org.ID)
			if admin && m.Role == models.RoleSchoolAdmin {
				adminSchools.add(org.ID)
			}
		case models.OrgKindDepartment:
			depts.add(org.ID)
			ownDepts = append(ownDepts, org.ID)
			if admin && m.Role == models.RoleSchoolAdmin {
				adminDepts.add(org.ID)
			}
		}
	}

	for _, s := range adminSchools.list() {
		for _, d := range g.Children(s) {
			depts.add(d)
			adminDepts.add(d)
		}
	}

	var orphans []string
	for _, d := range ownDepts {
		s, ok := g.SchoolOf(d)
		if !ok || !schools.has(s) {
			orphans = append(orphans, d.String())
		}
	}
	if len(orphans) > 0 {
		warnings = append(warnings, "department membership without parent school membership: "+strings.Join(orphans, ","))
	}

	f := models.DataFilter{
		SchoolIDs:     schools.list(),
		DepartmentIDs: depts.list(),
		Valid:         schools.len()+depts.len() > 0,
	}
	f.OrganizationIDs = append(append([]uuid.UUID{}, f.SchoolIDs...), f.DepartmentIDs...)
	f.AdminSchoolIDs = adminSchools.list()
	f.AdminDepartmentIDs = adminDepts.list()
	if len(warnings) > 0 {
		f.ValidationWarning = strings.Join(warnings, "; ")
	}
	return f
}

// idSet keeps insertion order so filters are deterministic.
type idSet struct {
	seen  map[uuid.UUID]struct{}
	order []uuid.UUID
}

func newIDSet() *idSet { return &idSet{seen: make(map[uuid.UUID]struct{})} }

func (s *idSet) add(id uuid.UUID) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *idSet) has(id uuid.UUID) bool {
	_, ok := s.seen[id]
	return ok
}

func (s *idSet) len() int { return len(s.order) }

func (s *idSet) list() []uuid.UUID { return s.order }
