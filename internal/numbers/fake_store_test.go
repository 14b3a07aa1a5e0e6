package numbers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campus-numbers/backend/internal/models"
)

// memStore mirrors the repository's conditional-update semantics in memory.
type memStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]models.PhoneNumber
	clock time.Time
	// beforeUpdate runs between the service's read and its conditional write.
	beforeUpdate func()
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uuid.UUID]models.PhoneNumber), clock: time.Now()}
}

// tick returns a strictly increasing write timestamp. Callers hold mu.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Microsecond)
	return m.clock
}

func (m *memStore) add(value string, school, dept *uuid.UUID) models.PhoneNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := models.PhoneNumber{
		ID:           uuid.New(),
		NumberValue:  value,
		State:        models.StateUnreserved,
		SchoolID:     school,
		DepartmentID: dept,
		CreatedAt:    time.Now(),
	}
	n.UpdatedAt = m.tick()
	m.rows[n.ID] = n
	return n
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &n, nil
}

func (m *memStore) ClaimIfUnreserved(_ context.Context, id uuid.UUID, cl models.Claim, at time.Time) (*models.PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if n.State != models.StateUnreserved {
		return nil, fmt.Errorf("%w: number is no longer available", models.ErrConflict)
	}
	n.State = models.StatePendingReview
	n.ClaimedAt = &at
	n.CustomerName = strPtr(cl.CustomerName)
	n.CustomerContact = strPtr(cl.CustomerContact)
	amount := cl.PaymentAmount
	n.PaymentAmount = &amount
	if cl.ShippingAddress != "" {
		n.ShippingAddress = strPtr(cl.ShippingAddress)
	}
	if cl.PaymentMethod != "" {
		n.PaymentMethod = strPtr(cl.PaymentMethod)
	}
	if cl.TransactionID != "" {
		n.TransactionID = strPtr(cl.TransactionID)
	}
	n.UpdatedAt = m.tick()
	m.rows[id] = n
	return &n, nil
}

func (m *memStore) UpdateIfUnchanged(_ context.Context, n *models.PhoneNumber, expectedState models.NumberState, expectedUpdatedAt time.Time) (*models.PhoneNumber, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[n.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if cur.State != expectedState || !cur.UpdatedAt.Equal(expectedUpdatedAt) {
		return nil, fmt.Errorf("%w: number changed concurrently", models.ErrConflict)
	}
	out := *n
	out.NumberValue = cur.NumberValue
	out.CreatedAt = cur.CreatedAt
	out.UpdatedAt = m.tick()
	m.rows[n.ID] = out
	return &out, nil
}

func (m *memStore) Release(_ context.Context, id uuid.UUID) (*models.PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	n.State = models.StateUnreserved
	n.ClearCustomerData()
	n.UpdatedAt = m.tick()
	m.rows[id] = n
	return &n, nil
}

func (m *memStore) ReleaseExpired(_ context.Context, cutoff time.Time) ([]models.PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PhoneNumber
	for id, n := range m.rows {
		if n.State == models.StatePendingReview && n.ClaimedAt != nil && n.ClaimedAt.Before(cutoff) {
			n.State = models.StateUnreserved
			n.ClearCustomerData()
			n.UpdatedAt = m.tick()
			m.rows[id] = n
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memStore) List(_ context.Context, scope *models.DataFilter, p models.ListParams) (*models.NumberPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.PhoneNumber
	for _, n := range m.rows {
		if scope != nil && !scope.CoversNumber(n.SchoolID, n.DepartmentID) {
			continue
		}
		if p.Search != "" && !strings.Contains(n.NumberValue, p.Search) {
			continue
		}
		if p.HideReserved && n.State != models.StateUnreserved {
			continue
		}
		if p.SchoolID != nil && (n.SchoolID == nil || *n.SchoolID != *p.SchoolID) {
			continue
		}
		if p.DepartmentID != nil && (n.DepartmentID == nil || *n.DepartmentID != *p.DepartmentID) {
			continue
		}
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].NumberValue < all[j].NumberValue })
	page := &models.NumberPage{Total: len(all), Page: p.Page, PageSize: p.PageSize, Items: []models.PhoneNumber{}}
	start := (p.Page - 1) * p.PageSize
	for i := start; i < len(all) && i < start+p.PageSize; i++ {
		page.Items = append(page.Items, all[i])
	}
	return page, nil
}

func (m *memStore) Create(_ context.Context, n *models.PhoneNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.rows {
		if cur.NumberValue == n.NumberValue {
			return fmt.Errorf("%w: number %s already exists", models.ErrConflict, n.NumberValue)
		}
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = m.tick()
	m.rows[n.ID] = *n
	return nil
}

func strPtr(s string) *string { return &s }
