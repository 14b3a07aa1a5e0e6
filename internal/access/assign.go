package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-numbers/backend/internal/models"
)

// UserSource looks up users.
type UserSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AssignResult reports what AssignMemberships persisted.
type AssignResult struct {
	Success              bool        `json:"success"`
	FinalOrganizationIDs []uuid.UUID `json:"final_organization_ids"`
	AutoAddedSchools     []string    `json:"auto_added_schools"`
}

// Assigner writes memberships for a user.
type Assigner struct {
	resolver    *Resolver
	users       UserSource
	memberships MembershipStore
	logger      *zap.Logger
}

// NewAssigner creates a membership assigner.
func NewAssigner(resolver *Resolver, users UserSource, memberships MembershipStore, logger *zap.Logger) *Assigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assigner{resolver: resolver, users: users, memberships: memberships, logger: logger}
}

// AssignMemberships sets userID's memberships inside the caller's scope to
// orgIDs with the given role. Every requested department pulls in its parent
// school when the request does not name it.
//
// Unknown organizations are ErrNotFound; organizations outside the caller's
// write scope are ErrForbidden. Both are checked before the parent schools
// are added. A role above the target user's global role is ErrValidation.
func (a *Assigner) AssignMemberships(ctx context.Context, caller *AuthContext, userID uuid.UUID, orgIDs []uuid.UUID, role models.Role) (*AssignResult, error) {
	if !caller.Elevated() {
		return nil, fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}
	if !role.ValidInOrg() {
		return nil, fmt.Errorf("%w: invalid role %q", models.ErrValidation, role)
	}
	if role == models.RoleSchoolAdmin && !caller.IsSuperAdmin() {
		return nil, fmt.Errorf("%w: only a super admin may grant %s", models.ErrForbidden, role)
	}
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	if role == models.RoleSchoolAdmin && !user.Role.Elevated() {
		return nil, fmt.Errorf("%w: %s exceeds the user's global role %s", models.ErrValidation, role, user.Role)
	}

	// Re-read the tree inside this call so the checks see current data.
	g, err := a.resolver.Graph(ctx)
	if err != nil {
		return nil, err
	}

	scope := caller.WriteScope()
	requested := newIDSet()
	for _, id := range orgIDs {
		requested.add(id)
	}
	for _, id := range requested.list() {
		if !g.Has(id) {
			return nil, fmt.Errorf("%w: organization %s", models.ErrNotFound, id)
		}
	}
	for _, id := range requested.list() {
		if !scope.Contains(id) {
			return nil, fmt.Errorf("%w: organization %s is outside your scope", models.ErrForbidden, id)
		}
	}

	final := newIDSet()
	for _, id := range requested.list() {
		final.add(id)
	}
	added := []string{}
	for _, id := range requested.list() {
		org, _ := g.Get(id)
		if !org.IsDepartment() {
			continue
		}
		parent, ok := g.Parent(id)
		if !ok || final.has(parent.ID) {
			continue
		}
		final.add(parent.ID)
		added = append(added, parent.Name)
	}

	ids := final.list()
	if ids == nil {
		ids = []uuid.UUID{}
	}
	if err := a.memberships.Replace(ctx, userID, scope, ids, role); err != nil {
		return nil, fmt.Errorf("replace memberships: %w", err)
	}
	if len(added) > 0 {
		a.logger.Info("parent schools added to membership assignment",
			zap.String("user_id", userID.String()),
			zap.Strings("schools", added),
		)
	}
	return &AssignResult{Success: true, FinalOrganizationIDs: ids, AutoAddedSchools: added}, nil
}
