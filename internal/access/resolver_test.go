package access

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/internal/orggraph"
)

type tree struct {
	orgs             []models.Organization
	north, south     models.Organization
	math, art, music models.Organization
	graph            *orggraph.Graph
}

func newTree(t *testing.T) tree {
	t.Helper()
	north := models.Organization{ID: uuid.New(), Name: "North", Kind: models.OrgKindSchool}
	south := models.Organization{ID: uuid.New(), Name: "South", Kind: models.OrgKindSchool}
	math := models.Organization{ID: uuid.New(), Name: "Math", Kind: models.OrgKindDepartment, ParentID: &north.ID}
	art := models.Organization{ID: uuid.New(), Name: "Art", Kind: models.OrgKindDepartment, ParentID: &north.ID}
	music := models.Organization{ID: uuid.New(), Name: "Music", Kind: models.OrgKindDepartment, ParentID: &south.ID}
	orgs := []models.Organization{north, south, math, art, music}
	g, err := orggraph.New(orgs)
	require.NoError(t, err)
	return tree{orgs: orgs, north: north, south: south, math: math, art: art, music: music, graph: g}
}

func member(user uuid.UUID, org uuid.UUID, role models.Role) models.Membership {
	return models.Membership{UserID: user, OrganizationID: org, Role: role}
}

func TestComputeFilter(t *testing.T) {
	tr := newTree(t)
	uid := uuid.New()

	t.Run("super admin is unrestricted", func(t *testing.T) {
		f := ComputeFilter(models.Identity{UserID: uid, Role: models.RoleSuperAdmin}, nil, tr.graph)
		assert.True(t, f.Unrestricted)
		assert.True(t, f.Valid)
		assert.True(t, f.Contains(uuid.New()))
	})

	t.Run("school admin sees all departments of their school", func(t *testing.T) {
		id := models.Identity{UserID: uid, Role: models.RoleSchoolAdmin}
		f := ComputeFilter(id, []models.Membership{member(uid, tr.north.ID, models.RoleSchoolAdmin)}, tr.graph)
		assert.True(t, f.Valid)
		assert.Equal(t, []uuid.UUID{tr.north.ID}, f.SchoolIDs)
		assert.ElementsMatch(t, []uuid.UUID{tr.math.ID, tr.art.ID}, f.DepartmentIDs)
		assert.False(t, f.Contains(tr.music.ID))
		assert.Empty(t, f.ValidationWarning)
	})

	t.Run("school admin writes only where it holds an admin membership", func(t *testing.T) {
		id := models.Identity{UserID: uid, Role: models.RoleSchoolAdmin}
		ms := []models.Membership{
			member(uid, tr.north.ID, models.RoleSchoolAdmin),
			member(uid, tr.south.ID, models.RoleMarketer),
		}
		f := ComputeFilter(id, ms, tr.graph)
		assert.ElementsMatch(t, []uuid.UUID{tr.north.ID, tr.south.ID}, f.SchoolIDs)
		assert.ElementsMatch(t, []uuid.UUID{tr.math.ID, tr.art.ID}, f.DepartmentIDs)
		assert.True(t, f.CoversNumber(&tr.south.ID, nil))

		ac := &AuthContext{Identity: id, Memberships: ms, Filter: f, Graph: tr.graph}
		w := ac.WriteScope()
		assert.True(t, w.Valid)
		assert.Equal(t, []uuid.UUID{tr.north.ID}, w.SchoolIDs)
		assert.True(t, ac.CanManageOrg(tr.math.ID))
		assert.False(t, ac.CanManageOrg(tr.south.ID))
		assert.False(t, w.CoversNumber(&tr.south.ID, nil))
	})

	t.Run("school admin with only marketer memberships is not elevated", func(t *testing.T) {
		id := models.Identity{UserID: uid, Role: models.RoleSchoolAdmin}
		ms := []models.Membership{member(uid, tr.north.ID, models.RoleMarketer)}
		f := ComputeFilter(id, ms, tr.graph)
		assert.True(t, f.Valid)
		assert.Empty(t, f.DepartmentIDs)

		ac := &AuthContext{Identity: id, Memberships: ms, Filter: f, Graph: tr.graph}
		assert.False(t, ac.WriteScope().Valid)
		assert.False(t, ac.Elevated())
		assert.False(t, ac.CanManageOrg(tr.north.ID))
	})

	t.Run("marketer admin memberships grant no write scope", func(t *testing.T) {
		id := models.Identity{UserID: uid, Role: models.RoleMarketer}
		ms := []models.Membership{member(uid, tr.north.ID, models.RoleSchoolAdmin)}
		f := ComputeFilter(id, ms, tr.graph)
		assert.Empty(t, f.AdminSchoolIDs)
		ac := &AuthContext{Identity: id, Memberships: ms, Filter: f, Graph: tr.graph}
		assert.False(t, ac.Elevated())
	})

	t.Run("marketer sees only own departments", func(t *testing.T) {
		id := models.Identity{UserID: uid, Role: models.RoleMarketer}
		f := ComputeFilter(id, []models.Membership{
			member(uid, tr.north.ID, models.RoleMarketer),
			member(uid, tr.math.ID, models.RoleMarketer),
		}, tr.graph)
		assert.Equal(t, []uuid.UUID{tr.math.ID}, f.DepartmentIDs)
		assert.True(t, f.CoversNumber(&tr.north.ID, &tr.math.ID))
		assert.False(t, f.CoversNumber(&tr.north.ID, &tr.art.ID))
		assert.True(t, f.CoversNumber(&tr.north.ID, nil))
	})

	t.Run("orphan department is honoured with a warning", func(t *testing.T) {
		id := models.Identity{UserID: uid, Role: models.RoleMarketer}
		f := ComputeFilter(id, []models.Membership{member(uid, tr.music.ID, models.RoleMarketer)}, tr.graph)
		assert.True(t, f.Valid)
		assert.True(t, f.Contains(tr.music.ID))
		assert.Contains(t, f.ValidationWarning, tr.music.ID.String())
	})

	t.Run("no memberships is invalid", func(t *testing.T) {
		f := ComputeFilter(models.Identity{UserID: uid, Role: models.RoleSchoolAdmin}, nil, tr.graph)
		assert.False(t, f.Valid)
		ac := &AuthContext{Identity: models.Identity{UserID: uid, Role: models.RoleSchoolAdmin}, Filter: f}
		assert.False(t, ac.Elevated())
	})

	t.Run("unknown organization is skipped", func(t *testing.T) {
		f := ComputeFilter(models.Identity{UserID: uid, Role: models.RoleMarketer},
			[]models.Membership{member(uid, uuid.New(), models.RoleMarketer)}, tr.graph)
		assert.False(t, f.Valid)
		assert.Contains(t, f.ValidationWarning, "unknown organization")
	})
}

type orgList []models.Organization

func (o orgList) List(context.Context) ([]models.Organization, error) { return o, nil }

type memMemberships struct {
	byUser   map[uuid.UUID][]models.Membership
	listErr  error
	replaced []uuid.UUID
	within   models.DataFilter
}

func newMemMemberships() *memMemberships {
	return &memMemberships{byUser: make(map[uuid.UUID][]models.Membership)}
}

func (m *memMemberships) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Membership, error) {
	return m.byUser[userID], m.listErr
}

func (m *memMemberships) Replace(_ context.Context, userID uuid.UUID, within models.DataFilter, orgIDs []uuid.UUID, role models.Role) error {
	m.within = within
	m.replaced = orgIDs
	var kept []models.Membership
	for _, cur := range m.byUser[userID] {
		if !within.Contains(cur.OrganizationID) {
			kept = append(kept, cur)
		}
	}
	for _, id := range orgIDs {
		kept = append(kept, member(userID, id, role))
	}
	m.byUser[userID] = kept
	return nil
}

func TestResolve(t *testing.T) {
	tr := newTree(t)
	ms := newMemMemberships()
	uid := uuid.New()
	ms.byUser[uid] = []models.Membership{member(uid, tr.south.ID, models.RoleSchoolAdmin)}
	r := NewResolver(orgList(tr.orgs), ms, nil)

	ac, err := r.Resolve(context.Background(), models.Identity{UserID: uid, Role: models.RoleSchoolAdmin})
	require.NoError(t, err)
	assert.True(t, ac.Elevated())
	assert.True(t, ac.CanManageOrg(tr.music.ID))
	assert.False(t, ac.CanManageOrg(tr.math.ID))
	assert.Equal(t, 5, ac.Graph.Len())

	ms.listErr = errors.New("db down")
	_, err = r.Resolve(context.Background(), models.Identity{UserID: uid, Role: models.RoleMarketer})
	assert.Error(t, err)

	ac, err = r.Resolve(context.Background(), models.Identity{UserID: uid, Role: models.RoleSuperAdmin})
	require.NoError(t, err, "super admins skip the membership lookup")
	assert.True(t, ac.IsSuperAdmin())
}
