package importer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/internal/orggraph"
	"github.com/campus-numbers/backend/pkg/queue"
)

// memStore applies the same merge rules as the SQL upsert.
type memStore struct {
	mu   sync.Mutex
	rows map[string]models.PhoneNumber
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]models.PhoneNumber)} }

func (m *memStore) Upsert(_ context.Context, rec models.NumberRecord, scope models.DataFilter) (models.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[rec.NumberValue]
	if !ok {
		n := models.PhoneNumber{
			ID: uuid.New(), NumberValue: rec.NumberValue, IsPremium: rec.IsPremium, PremiumReason: rec.PremiumReason,
			State: models.StateUnreserved, CustomerName: rec.CustomerName, CustomerContact: rec.CustomerContact,
			ShippingAddress: rec.ShippingAddress, PaymentAmount: rec.PaymentAmount, PaymentMethod: rec.PaymentMethod,
			TransactionID: rec.TransactionID, Notes: rec.Notes, SchoolID: rec.SchoolID, DepartmentID: rec.DepartmentID,
		}
		if rec.HasCustomerData() {
			n.State = models.StateReserved
		}
		m.rows[rec.NumberValue] = n
		return models.UpsertCreated, nil
	}
	if !scope.CoversNumber(cur.SchoolID, cur.DepartmentID) {
		return models.UpsertOutOfScope, nil
	}
	cur.IsPremium = cur.IsPremium || rec.IsPremium
	cur.PremiumReason = coalesce(rec.PremiumReason, cur.PremiumReason)
	cur.CustomerName = coalesce(rec.CustomerName, cur.CustomerName)
	cur.CustomerContact = coalesce(rec.CustomerContact, cur.CustomerContact)
	cur.ShippingAddress = coalesce(rec.ShippingAddress, cur.ShippingAddress)
	cur.PaymentMethod = coalesce(rec.PaymentMethod, cur.PaymentMethod)
	cur.TransactionID = coalesce(rec.TransactionID, cur.TransactionID)
	cur.Notes = coalesce(rec.Notes, cur.Notes)
	if rec.PaymentAmount != nil {
		cur.PaymentAmount = rec.PaymentAmount
	}
	if cur.State == models.StateUnreserved && rec.HasCustomerData() {
		cur.State = models.StateReserved
	}
	m.rows[rec.NumberValue] = cur
	return models.UpsertUpdated, nil
}

func coalesce(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

func (m *memStore) snapshot() map[string]models.PhoneNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.PhoneNumber, len(m.rows))
	for k, v := range m.rows {
		v.ID = uuid.Nil
		out[k] = v
	}
	return out
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) EnqueueImportArchive(ctx context.Context, p queue.ImportArchivePayload) error {
	return m.Called(ctx, p).Error(0)
}

type fixture struct {
	graph  *orggraph.Graph
	school models.Organization
	other  models.Organization
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	school := models.Organization{ID: uuid.New(), Name: "North", Kind: models.OrgKindSchool}
	other := models.Organization{ID: uuid.New(), Name: "South", Kind: models.OrgKindSchool}
	g, err := orggraph.New([]models.Organization{school, other})
	require.NoError(t, err)
	return fixture{graph: g, school: school, other: other}
}

func (f fixture) caller(role models.Role, schools ...uuid.UUID) *access.AuthContext {
	id := models.Identity{UserID: uuid.New(), Role: role}
	var ms []models.Membership
	for _, s := range schools {
		ms = append(ms, models.Membership{UserID: id.UserID, OrganizationID: s, Role: role})
	}
	return &access.AuthContext{Identity: id, Memberships: ms, Filter: access.ComputeFilter(id, ms, f.graph), Graph: f.graph}
}

const salesBatch = "号码\t姓名\t联系方式\t金额\t地址\n" +
	"13800138001\tAlice\t13911112222\t20\n" +
	"13800138002\tBob\t13922223333\t199\tDorm 3\n" +
	"garbage line\n" +
	"\n" +
	"13800138003\tCarol\n"

func TestImportBatch_CountsAndLog(t *testing.T) {
	f := newFixture(t)
	store := newMemStore()
	svc := NewService(store, nil, nil)

	res, err := svc.ImportBatch(context.Background(), f.caller(models.RoleSuperAdmin), Request{Text: salesBatch, Layout: LayoutSales})
	require.NoError(t, err)
	assert.Equal(t, 2, res.CreatedCount)
	assert.Equal(t, 0, res.UpdatedCount)
	assert.Equal(t, 2, res.SkippedCount)
	assert.Contains(t, res.Log[0], "header skipped")
	assert.Contains(t, res.Log[len(res.Log)-1], "insufficient columns")

	rows := store.snapshot()
	assert.Equal(t, models.StateReserved, rows["13800138001"].State)
	assert.Equal(t, "Dorm 3", *rows["13800138002"].ShippingAddress)
}

func TestImportBatch_Idempotent(t *testing.T) {
	f := newFixture(t)
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ac := f.caller(models.RoleSuperAdmin)
	ctx := context.Background()

	first, err := svc.ImportBatch(ctx, ac, Request{Text: salesBatch, Layout: LayoutSales})
	require.NoError(t, err)
	once := store.snapshot()

	second, err := svc.ImportBatch(ctx, ac, Request{Text: salesBatch, Layout: LayoutSales})
	require.NoError(t, err)
	assert.Zero(t, second.CreatedCount)
	assert.Equal(t, first.CreatedCount, second.UpdatedCount)
	assert.Equal(t, once, store.snapshot())
}

func TestImportBatch_PartialMergeKeepsExistingData(t *testing.T) {
	f := newFixture(t)
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ac := f.caller(models.RoleSuperAdmin)
	ctx := context.Background()

	_, err := svc.ImportBatch(ctx, ac, Request{Text: "13800138001\tAlice\t13911112222\t199\tDorm 3", Layout: LayoutSales})
	require.NoError(t, err)
	res, err := svc.ImportBatch(ctx, ac, Request{Text: "13800138001\tvip row", Layout: LayoutCustom, Columns: []Column{ColNumber, ColNotes}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)

	n := store.snapshot()["13800138001"]
	assert.Equal(t, "Alice", *n.CustomerName)
	assert.Equal(t, "Dorm 3", *n.ShippingAddress)
	assert.Equal(t, "vip row", *n.Notes)
}

func TestImportBatch_Scope(t *testing.T) {
	f := newFixture(t)
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	admin := f.caller(models.RoleSchoolAdmin, f.school.ID)

	_, err := svc.ImportBatch(ctx, admin, Request{Text: "13800138001"})
	assert.True(t, errors.Is(err, models.ErrValidation), "restricted callers must pick a target organization")

	_, err = svc.ImportBatch(ctx, admin, Request{Text: "13800138001", SchoolID: &f.other.ID})
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = svc.ImportBatch(ctx, f.caller(models.RoleMarketer, f.school.ID), Request{Text: "13800138001", SchoolID: &f.school.ID})
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = svc.ImportBatch(ctx, f.caller(models.RoleSuperAdmin), Request{Text: "13800138009", SchoolID: &f.other.ID})
	require.NoError(t, err)

	res, err := svc.ImportBatch(ctx, admin, Request{Text: "13800138001\n13800138009", SchoolID: &f.school.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CreatedCount)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Contains(t, res.Log[0], "outside your scope")
	assert.Equal(t, f.school.ID, *store.snapshot()["13800138001"].SchoolID)
	assert.Equal(t, f.other.ID, *store.snapshot()["13800138009"].SchoolID)
}

func TestImportBatch_Archives(t *testing.T) {
	f := newFixture(t)
	arch := new(mockArchiver)
	arch.On("EnqueueImportArchive", mock.Anything, mock.MatchedBy(func(p queue.ImportArchivePayload) bool {
		return p.Layout == string(LayoutInventory) && p.CreatedCount == 1 && p.Text == "13800138001"
	})).Return(errors.New("redis down")).Once()
	svc := NewService(newMemStore(), arch, nil)

	res, err := svc.ImportBatch(context.Background(), f.caller(models.RoleSuperAdmin), Request{Text: "13800138001"})
	require.NoError(t, err, "archive failures do not fail the batch")
	assert.Equal(t, 1, res.CreatedCount)
	arch.AssertExpectations(t)
}

func TestImportBatch_PaymentMethodCountsAsSale(t *testing.T) {
	f := newFixture(t)
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()
	root := f.caller(models.RoleSuperAdmin)
	cols := []Column{ColNumber, ColPaymentMethod}

	_, err := svc.ImportBatch(ctx, root, Request{Text: "13800138001"})
	require.NoError(t, err)
	require.Equal(t, models.StateUnreserved, store.snapshot()["13800138001"].State)

	res, err := svc.ImportBatch(ctx, root, Request{Text: "13800138001\twechat\n13800138002\talipay", Layout: LayoutCustom, Columns: cols})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	assert.Equal(t, 1, res.CreatedCount)

	rows := store.snapshot()
	assert.Equal(t, models.StateReserved, rows["13800138001"].State, "merged payment method reserves")
	assert.Equal(t, "wechat", *rows["13800138001"].PaymentMethod)
	assert.Equal(t, models.StateReserved, rows["13800138002"].State, "inserted payment method reserves")
}

func TestImportBatch_RequiresAdminMembership(t *testing.T) {
	f := newFixture(t)
	store := newMemStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	id := models.Identity{UserID: uuid.New(), Role: models.RoleSchoolAdmin}
	ms := []models.Membership{{UserID: id.UserID, OrganizationID: f.school.ID, Role: models.RoleMarketer}}
	marketerOnly := &access.AuthContext{Identity: id, Memberships: ms, Filter: access.ComputeFilter(id, ms, f.graph), Graph: f.graph}
	_, err := svc.ImportBatch(ctx, marketerOnly, Request{Text: "13800138001", SchoolID: &f.school.ID})
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = svc.ImportBatch(ctx, f.caller(models.RoleSuperAdmin), Request{Text: "13800138009", SchoolID: &f.other.ID})
	require.NoError(t, err)

	ms = []models.Membership{
		{UserID: id.UserID, OrganizationID: f.school.ID, Role: models.RoleSchoolAdmin},
		{UserID: id.UserID, OrganizationID: f.other.ID, Role: models.RoleMarketer},
	}
	mixed := &access.AuthContext{Identity: id, Memberships: ms, Filter: access.ComputeFilter(id, ms, f.graph), Graph: f.graph}
	_, err = svc.ImportBatch(ctx, mixed, Request{Text: "13800138001", SchoolID: &f.other.ID})
	assert.True(t, errors.Is(err, models.ErrForbidden), "read-only school is not an import target")

	res, err := svc.ImportBatch(ctx, mixed, Request{Text: "13800138009", SchoolID: &f.school.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.UpdatedCount)
	assert.Equal(t, 1, res.SkippedCount, "existing number in a read-only school is not merged")
	assert.Equal(t, f.other.ID, *store.snapshot()["13800138009"].SchoolID)
}
