// Package organizations manages the school/department tree within the
// caller's scope.
package organizations

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
)

// Store persists organizations.
type Store interface {
	Create(ctx context.Context, org *models.Organization) error
	Rename(ctx context.Context, id uuid.UUID, name string) (*models.Organization, error)
	CountChildren(ctx context.Context, id uuid.UUID) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MembershipCounter counts memberships on an organization.
type MembershipCounter interface {
	CountByOrganization(ctx context.Context, orgID uuid.UUID) (int, error)
}

// Service applies scope rules to organization management.
type Service struct {
	store   Store
	members MembershipCounter
	logger  *zap.Logger
}

// NewService creates an organizations service.
func NewService(store Store, members MembershipCounter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, members: members, logger: logger}
}

// List returns the organizations inside the caller's scope.
func (s *Service) List(ac *access.AuthContext) []models.Organization {
	out := []models.Organization{}
	for _, o := range ac.Graph.All() {
		if ac.Filter.Contains(o.ID) {
			out = append(out, o)
		}
	}
	return out
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 1 || n > 255 {
		return "", fmt.Errorf("%w: name must be 1-255 characters", models.ErrValidation)
	}
	return name, nil
}

// Create adds a school (super admin only) or a department under a school the
// caller manages.
func (s *Service) Create(ctx context.Context, ac *access.AuthContext, name string, kind models.OrgKind, parentID *uuid.UUID) (*models.Organization, error) {
	if !ac.Elevated() {
		return nil, fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if err := ac.Graph.ValidateEdge(kind, parentID); err != nil {
		return nil, err
	}
	switch kind {
	case models.OrgKindSchool:
		if !ac.IsSuperAdmin() {
			return nil, fmt.Errorf("%w: only super admins create schools", models.ErrForbidden)
		}
	case models.OrgKindDepartment:
		if !ac.CanManageOrg(*parentID) {
			return nil, fmt.Errorf("%w: parent school is outside your scope", models.ErrForbidden)
		}
	}
	org := &models.Organization{Name: name, Kind: kind, ParentID: parentID}
	if err := s.store.Create(ctx, org); err != nil {
		return nil, err
	}
	s.logger.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("by", ac.Identity.UserID.String()),
	)
	return org, nil
}

// Rename changes the name of an organization the caller manages.
func (s *Service) Rename(ctx context.Context, ac *access.AuthContext, id uuid.UUID, name string) (*models.Organization, error) {
	if _, ok := ac.Graph.Get(id); !ok {
		return nil, fmt.Errorf("%w: organization %s", models.ErrNotFound, id)
	}
	if !ac.CanManageOrg(id) {
		return nil, fmt.Errorf("%w: organization is outside your scope", models.ErrForbidden)
	}
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	return s.store.Rename(ctx, id, name)
}

// Delete removes an organization that has no children and no memberships.
// Schools can only be deleted by super admins.
func (s *Service) Delete(ctx context.Context, ac *access.AuthContext, id uuid.UUID) error {
	org, ok := ac.Graph.Get(id)
	if !ok {
		return fmt.Errorf("%w: organization %s", models.ErrNotFound, id)
	}
	if !ac.CanManageOrg(id) || (org.IsSchool() && !ac.IsSuperAdmin()) {
		return fmt.Errorf("%w: cannot delete %s", models.ErrForbidden, org.Name)
	}
	children, err := s.store.CountChildren(ctx, id)
	if err != nil {
		return fmt.Errorf("count children: %w", err)
	}
	if children > 0 {
		return fmt.Errorf("%w: %s still has %d departments", models.ErrConflict, org.Name, children)
	}
	members, err := s.members.CountByOrganization(ctx, id)
	if err != nil {
		return fmt.Errorf("count memberships: %w", err)
	}
	if members > 0 {
		return fmt.Errorf("%w: %s still has %d members", models.ErrConflict, org.Name, members)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("organization deleted", zap.String("org_id", id.String()), zap.String("by", ac.Identity.UserID.String()))
	return nil
}
