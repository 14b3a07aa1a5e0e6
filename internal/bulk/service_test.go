package bulk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/internal/orggraph"
)

type memStore struct {
	mu   sync.Mutex
	rows []models.PhoneNumber
}

func (m *memStore) DeleteAll(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.rows))
	m.rows = nil
	return n, nil
}

func (m *memStore) LockPrefix(_ context.Context, prefix, sentinel string, scope models.DataFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.rows {
		r := &m.rows[i]
		if strings.HasPrefix(r.NumberValue, prefix) && r.State == models.StateUnreserved && scope.CoversNumber(r.SchoolID, r.DepartmentID) {
			r.State = models.StateReserved
			name := sentinel
			r.CustomerName = &name
			n++
		}
	}
	return n, nil
}

func (m *memStore) UnlockPrefix(_ context.Context, prefix, sentinel string, scope models.DataFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.rows {
		r := &m.rows[i]
		if strings.HasPrefix(r.NumberValue, prefix) && r.CustomerName != nil && *r.CustomerName == sentinel &&
			scope.CoversNumber(r.SchoolID, r.DepartmentID) {
			r.State = models.StateUnreserved
			r.ClearCustomerData()
			n++
		}
	}
	return n, nil
}

func (m *memStore) get(value string) models.PhoneNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.NumberValue == value {
			return r
		}
	}
	return models.PhoneNumber{}
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) DeleteAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) LockPrefix(ctx context.Context, prefix, sentinel string, scope models.DataFilter) (int64, error) {
	args := m.Called(ctx, prefix, sentinel, scope)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) UnlockPrefix(ctx context.Context, prefix, sentinel string, scope models.DataFilter) (int64, error) {
	args := m.Called(ctx, prefix, sentinel, scope)
	return args.Get(0).(int64), args.Error(1)
}

type orgs struct {
	graph  *orggraph.Graph
	school models.Organization
	other  models.Organization
}

func newOrgs(t *testing.T) orgs {
	t.Helper()
	school := models.Organization{ID: uuid.New(), Name: "North", Kind: models.OrgKindSchool}
	other := models.Organization{ID: uuid.New(), Name: "South", Kind: models.OrgKindSchool}
	g, err := orggraph.New([]models.Organization{school, other})
	require.NoError(t, err)
	return orgs{graph: g, school: school, other: other}
}

func (o orgs) ctx(role models.Role, schools ...uuid.UUID) *access.AuthContext {
	id := models.Identity{UserID: uuid.New(), Role: role}
	var ms []models.Membership
	for _, s := range schools {
		ms = append(ms, models.Membership{UserID: id.UserID, OrganizationID: s, Role: role})
	}
	return &access.AuthContext{Identity: id, Memberships: ms, Filter: access.ComputeFilter(id, ms, o.graph), Graph: o.graph}
}

func TestBanUnbanPrecision(t *testing.T) {
	o := newOrgs(t)
	customer := "Real Customer"
	store := &memStore{rows: []models.PhoneNumber{
		{ID: uuid.New(), NumberValue: "13800000001", State: models.StateUnreserved, SchoolID: &o.school.ID},
		{ID: uuid.New(), NumberValue: "13800000002", State: models.StateReserved, CustomerName: &customer, SchoolID: &o.school.ID},
		{ID: uuid.New(), NumberValue: "13900000003", State: models.StateUnreserved, SchoolID: &o.school.ID},
	}}
	svc := NewService(store, "", nil)
	admin := o.ctx(models.RoleSuperAdmin)
	ctx := context.Background()

	res, err := svc.BanPrefix(ctx, admin, "138")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Affected)
	locked := store.get("13800000001")
	assert.Equal(t, models.StateReserved, locked.State)
	assert.Equal(t, DefaultSentinel, *locked.CustomerName)
	assert.Equal(t, models.StateUnreserved, store.get("13900000003").State)

	res, err = svc.UnbanPrefix(ctx, admin, "138")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Affected)
	assert.Equal(t, models.StateUnreserved, store.get("13800000001").State)
	assert.Nil(t, store.get("13800000001").CustomerName)

	kept := store.get("13800000002")
	assert.Equal(t, models.StateReserved, kept.State)
	assert.Equal(t, customer, *kept.CustomerName)
}

func TestBanPrefix_RespectsScope(t *testing.T) {
	o := newOrgs(t)
	store := &memStore{rows: []models.PhoneNumber{
		{ID: uuid.New(), NumberValue: "13800000001", State: models.StateUnreserved, SchoolID: &o.school.ID},
		{ID: uuid.New(), NumberValue: "13800000002", State: models.StateUnreserved, SchoolID: &o.other.ID},
	}}
	svc := NewService(store, "LOCK", nil)

	res, err := svc.BanPrefix(context.Background(), o.ctx(models.RoleSchoolAdmin, o.school.ID), "138")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Affected)
	assert.Equal(t, "LOCK", *store.get("13800000001").CustomerName)
	assert.Equal(t, models.StateUnreserved, store.get("13800000002").State)
}

func TestBanPrefix_WriteScopeOnly(t *testing.T) {
	o := newOrgs(t)
	store := &memStore{rows: []models.PhoneNumber{
		{ID: uuid.New(), NumberValue: "13800000001", State: models.StateUnreserved, SchoolID: &o.school.ID},
		{ID: uuid.New(), NumberValue: "13800000002", State: models.StateUnreserved, SchoolID: &o.other.ID},
	}}
	svc := NewService(store, "", nil)
	ctx := context.Background()

	id := models.Identity{UserID: uuid.New(), Role: models.RoleSchoolAdmin}
	ms := []models.Membership{{UserID: id.UserID, OrganizationID: o.other.ID, Role: models.RoleMarketer}}
	marketerOnly := &access.AuthContext{Identity: id, Memberships: ms, Filter: access.ComputeFilter(id, ms, o.graph), Graph: o.graph}
	_, err := svc.BanPrefix(ctx, marketerOnly, "138")
	assert.True(t, errors.Is(err, models.ErrForbidden))
	_, err = svc.UnbanPrefix(ctx, marketerOnly, "138")
	assert.True(t, errors.Is(err, models.ErrForbidden))

	ms = append(ms, models.Membership{UserID: id.UserID, OrganizationID: o.school.ID, Role: models.RoleSchoolAdmin})
	mixed := &access.AuthContext{Identity: id, Memberships: ms, Filter: access.ComputeFilter(id, ms, o.graph), Graph: o.graph}
	res, err := svc.BanPrefix(ctx, mixed, "138")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Affected)
	assert.Equal(t, models.StateReserved, store.get("13800000001").State)
	assert.Equal(t, models.StateUnreserved, store.get("13800000002").State)
}

func TestGuards(t *testing.T) {
	o := newOrgs(t)
	store := new(mockStore)
	svc := NewService(store, "", nil)
	ctx := context.Background()

	_, err := svc.ClearAll(ctx, o.ctx(models.RoleSchoolAdmin, o.school.ID))
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = svc.BanPrefix(ctx, o.ctx(models.RoleMarketer, o.school.ID), "138")
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = svc.BanPrefix(ctx, o.ctx(models.RoleSuperAdmin), "13a")
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = svc.UnbanPrefix(ctx, o.ctx(models.RoleSuperAdmin), "  ")
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = svc.Execute(ctx, o.ctx(models.RoleSuperAdmin), Action("NUKE"), "")
	assert.True(t, errors.Is(err, models.ErrValidation))

	store.AssertNotCalled(t, "DeleteAll", mock.Anything)
	store.AssertNotCalled(t, "LockPrefix", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClearAll_SuperAdmin(t *testing.T) {
	o := newOrgs(t)
	store := new(mockStore)
	store.On("DeleteAll", mock.Anything).Return(int64(42), nil).Once()
	svc := NewService(store, "", nil)

	res, err := svc.Execute(context.Background(), o.ctx(models.RoleSuperAdmin), ActionClearAll, "")
	require.NoError(t, err)
	assert.EqualValues(t, 42, res.Affected)
	assert.Equal(t, ActionClearAll, res.Action)
	store.AssertExpectations(t)
}
