// Package numbers implements the phone-number reservation lifecycle:
// UNRESERVED -> PENDING_REVIEW -> RESERVED, with release back to UNRESERVED
// by an admin or by the expiry sweep.
package numbers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/events"
)

// DefaultClaimTimeout is how long a claim may stay in PENDING_REVIEW.
const DefaultClaimTimeout = 30 * time.Minute

// DefaultDepositAmount is the upper bound of the deposit tier.
const DefaultDepositAmount = 20.0

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Store is the persistence the state machine needs. State-changing methods
// must be single conditional writes.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.PhoneNumber, error)
	ClaimIfUnreserved(ctx context.Context, id uuid.UUID, cl models.Claim, at time.Time) (*models.PhoneNumber, error)
	UpdateIfUnchanged(ctx context.Context, n *models.PhoneNumber, expectedState models.NumberState, expectedUpdatedAt time.Time) (*models.PhoneNumber, error)
	Release(ctx context.Context, id uuid.UUID) (*models.PhoneNumber, error)
	ReleaseExpired(ctx context.Context, cutoff time.Time) ([]models.PhoneNumber, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, scope *models.DataFilter, p models.ListParams) (*models.NumberPage, error)
	Create(ctx context.Context, n *models.PhoneNumber) error
}

// Classifier reports whether a number value is premium and why.
type Classifier func(value string) (premium bool, reason string)

// Config tunes the state machine.
type Config struct {
	ClaimTimeout  time.Duration
	DepositAmount float64
	// LockSentinel is the customer name bulk prefix locks write. It is
	// rejected as a real customer name.
	LockSentinel string
}

// Service is the reservation state machine.
type Service struct {
	store    Store
	events   events.Publisher
	cfg      Config
	now      func() time.Time
	classify Classifier
	logger   *zap.Logger
}

// NewService creates a reservation service.
func NewService(store Store, pub events.Publisher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = DefaultClaimTimeout
	}
	if cfg.DepositAmount <= 0 {
		cfg.DepositAmount = DefaultDepositAmount
	}
	if cfg.LockSentinel == "" {
		cfg.LockSentinel = models.DefaultLockSentinel
	}
	return &Service{store: store, events: pub, cfg: cfg, now: time.Now, logger: logger}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetClassifier sets the premium classifier used by Create when the caller
// does not mark the number itself.
func (s *Service) SetClassifier(c Classifier) { s.classify = c }

// ValidateClaim enforces the payment tiers: any positive amount up to the
// deposit needs no address, a larger amount is full payment and needs one.
func (s *Service) ValidateClaim(cl models.Claim) error {
	if strings.TrimSpace(cl.CustomerName) == "" {
		return fmt.Errorf("%w: customer name required", models.ErrValidation)
	}
	if err := s.checkCustomerName(cl.CustomerName); err != nil {
		return err
	}
	if strings.TrimSpace(cl.CustomerContact) == "" {
		return fmt.Errorf("%w: customer contact required", models.ErrValidation)
	}
	if cl.PaymentAmount <= 0 {
		return fmt.Errorf("%w: payment amount must be positive", models.ErrValidation)
	}
	if cl.PaymentAmount > s.cfg.DepositAmount && strings.TrimSpace(cl.ShippingAddress) == "" {
		return fmt.Errorf("%w: shipping address required for full payment", models.ErrValidation)
	}
	return nil
}

func (s *Service) checkCustomerName(name string) error {
	if strings.TrimSpace(name) == s.cfg.LockSentinel {
		return fmt.Errorf("%w: customer name %q is reserved", models.ErrValidation, s.cfg.LockSentinel)
	}
	return nil
}

// Claim tentatively reserves an UNRESERVED number for a customer. At most one
// concurrent claim on the same number succeeds; the rest get ErrConflict.
func (s *Service) Claim(ctx context.Context, id uuid.UUID, cl models.Claim) (*models.PhoneNumber, error) {
	if err := s.ValidateClaim(cl); err != nil {
		claimOutcomes.WithLabelValues("invalid").Inc()
		return nil, err
	}
	cl.CustomerName = strings.TrimSpace(cl.CustomerName)
	cl.CustomerContact = strings.TrimSpace(cl.CustomerContact)
	cl.ShippingAddress = strings.TrimSpace(cl.ShippingAddress)

	n, err := s.store.ClaimIfUnreserved(ctx, id, cl, s.now())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			claimOutcomes.WithLabelValues("conflict").Inc()
		case errors.Is(err, models.ErrNotFound):
			claimOutcomes.WithLabelValues("not_found").Inc()
		default:
			claimOutcomes.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	claimOutcomes.WithLabelValues("success").Inc()
	s.publish(ctx, events.TypeClaimed, n)
	return n, nil
}

// Get returns a number without scope checks, for the public view.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.PhoneNumber, error) {
	return s.store.GetByID(ctx, id)
}

// GetScoped returns a number the caller's scope covers.
func (s *Service) GetScoped(ctx context.Context, ac *access.AuthContext, id uuid.UUID) (*models.PhoneNumber, error) {
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ac.Filter.CoversNumber(n.SchoolID, n.DepartmentID) {
		return nil, fmt.Errorf("%w: number is outside your scope", models.ErrForbidden)
	}
	return n, nil
}

// loadForAdmin fetches a number and checks the caller's write scope covers it.
func (s *Service) loadForAdmin(ctx context.Context, ac *access.AuthContext, id uuid.UUID) (*models.PhoneNumber, error) {
	if !ac.Elevated() {
		return nil, fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ac.WriteScope().CoversNumber(n.SchoolID, n.DepartmentID) {
		return nil, fmt.Errorf("%w: number is outside your scope", models.ErrForbidden)
	}
	return n, nil
}

// legalTransition reports whether an admin patch may move from -> to.
// Release (any -> UNRESERVED) and approval (PENDING_REVIEW -> RESERVED) are
// the only changes; claiming goes through Claim.
func legalTransition(from, to models.NumberState) bool {
	switch {
	case from == to:
		return true
	case to == models.StateUnreserved:
		return true
	case from == models.StatePendingReview && to == models.StateReserved:
		return true
	}
	return false
}

// Patch applies an admin edit, typically approving PENDING_REVIEW to
// RESERVED. The write only lands if the number is unchanged since it was
// read; anything else is ErrConflict.
func (s *Service) Patch(ctx context.Context, ac *access.AuthContext, id uuid.UUID, p models.NumberPatch) (*models.PhoneNumber, error) {
	cur, err := s.loadForAdmin(ctx, ac, id)
	if err != nil {
		return nil, err
	}
	if p.State != nil && !p.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", models.ErrValidation, *p.State)
	}
	if p.CustomerName != nil {
		if err := s.checkCustomerName(*p.CustomerName); err != nil {
			return nil, err
		}
	}

	next := *cur
	p.Apply(&next)
	if !legalTransition(cur.State, next.State) {
		return nil, fmt.Errorf("%w: cannot move number from %s to %s", models.ErrConflict, cur.State, next.State)
	}
	if p.SchoolID != nil || p.DepartmentID != nil {
		if err := s.checkAssignment(ac, &next); err != nil {
			return nil, err
		}
	}
	if next.State == models.StateUnreserved {
		if cur.State == models.StateUnreserved && p.HasCustomerData() {
			return nil, fmt.Errorf("%w: an unreserved number cannot carry customer data", models.ErrValidation)
		}
		next.ClearCustomerData()
	}

	out, err := s.store.UpdateIfUnchanged(ctx, &next, cur.State, cur.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if out.State != cur.State {
		transitions.WithLabelValues(string(out.State)).Inc()
		s.logger.Info("number state changed",
			zap.String("number_id", out.ID.String()),
			zap.String("from", string(cur.State)),
			zap.String("to", string(out.State)),
			zap.String("by", ac.Identity.UserID.String()),
		)
	}
	s.publish(ctx, eventFor(cur.State, out.State), out)
	return out, nil
}

func eventFor(from, to models.NumberState) string {
	switch {
	case from == to:
		return events.TypeUpdated
	case to == models.StateReserved:
		return events.TypeReserved
	case to == models.StateUnreserved:
		return events.TypeReleased
	}
	return events.TypeUpdated
}

// checkAssignment validates a school/department pair against the tree and
// the caller's write scope. A department alone implies its parent school.
func (s *Service) checkAssignment(ac *access.AuthContext, n *models.PhoneNumber) error {
	g := ac.Graph
	if n.DepartmentID != nil {
		dept, ok := g.Get(*n.DepartmentID)
		if !ok {
			return fmt.Errorf("%w: department %s", models.ErrNotFound, *n.DepartmentID)
		}
		if !dept.IsDepartment() {
			return fmt.Errorf("%w: %s is not a department", models.ErrValidation, dept.Name)
		}
		parent, _ := g.Parent(dept.ID)
		if n.SchoolID == nil {
			n.SchoolID = &parent.ID
		} else if *n.SchoolID != parent.ID {
			return fmt.Errorf("%w: department %s does not belong to the given school", models.ErrValidation, dept.Name)
		}
	}
	if n.SchoolID != nil {
		school, ok := g.Get(*n.SchoolID)
		if !ok {
			return fmt.Errorf("%w: school %s", models.ErrNotFound, *n.SchoolID)
		}
		if !school.IsSchool() {
			return fmt.Errorf("%w: %s is not a school", models.ErrValidation, school.Name)
		}
	}
	if !ac.WriteScope().CoversNumber(n.SchoolID, n.DepartmentID) {
		return fmt.Errorf("%w: target organization is outside your scope", models.ErrForbidden)
	}
	return nil
}

// Release resets a number to UNRESERVED, clearing all customer, payment and
// delivery data. Number value and organization assignment are kept.
func (s *Service) Release(ctx context.Context, ac *access.AuthContext, id uuid.UUID) (*models.PhoneNumber, error) {
	if _, err := s.loadForAdmin(ctx, ac, id); err != nil {
		return nil, err
	}
	n, err := s.store.Release(ctx, id)
	if err != nil {
		return nil, err
	}
	transitions.WithLabelValues(string(models.StateUnreserved)).Inc()
	s.publish(ctx, events.TypeReleased, n)
	return n, nil
}

// SweepExpired releases every claim left in PENDING_REVIEW longer than the
// claim timeout. Safe to run concurrently and repeatedly.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.ClaimTimeout)
	released, err := s.store.ReleaseExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release expired: %w", err)
	}
	for i := range released {
		s.publish(ctx, events.TypeReleased, &released[i])
	}
	sweepReleased.Add(float64(len(released)))
	if len(released) > 0 {
		s.logger.Info("expired claims released", zap.Int("count", len(released)), zap.Time("cutoff", cutoff))
	}
	return len(released), nil
}

// Create adds a single UNRESERVED number inside the caller's write scope.
func (s *Service) Create(ctx context.Context, ac *access.AuthContext, n *models.PhoneNumber) error {
	if !ac.Elevated() {
		return fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}
	if !IsMobile(n.NumberValue) {
		return fmt.Errorf("%w: %q is not a mobile number", models.ErrValidation, n.NumberValue)
	}
	if err := s.checkAssignment(ac, n); err != nil {
		return err
	}
	if !n.IsPremium && s.classify != nil {
		if ok, reason := s.classify(n.NumberValue); ok {
			n.IsPremium = true
			n.PremiumReason = &reason
		}
	}
	n.State = models.StateUnreserved
	n.ClearCustomerData()
	if err := s.store.Create(ctx, n); err != nil {
		return err
	}
	s.publish(ctx, events.TypeUpdated, n)
	return nil
}

// Delete removes a number the caller's write scope covers.
func (s *Service) Delete(ctx context.Context, ac *access.AuthContext, id uuid.UUID) error {
	n, err := s.loadForAdmin(ctx, ac, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.TypeDeleted, n)
	return nil
}

// List returns a page of numbers. A nil caller is the anonymous public
// listing and gets no organization filter.
func (s *Service) List(ctx context.Context, ac *access.AuthContext, p models.ListParams) (*models.NumberPage, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	var scope *models.DataFilter
	if ac != nil {
		if !ac.Filter.Valid {
			return &models.NumberPage{Items: []models.PhoneNumber{}, Page: p.Page, PageSize: p.PageSize}, nil
		}
		f := ac.Filter
		scope = &f
	}
	return s.store.List(ctx, scope, p)
}

func (s *Service) publish(ctx context.Context, typ string, n *models.PhoneNumber) {
	ev := events.NumberEvent{
		Type:        typ,
		NumberID:    n.ID,
		NumberValue: n.NumberValue,
		State:       string(n.State),
		At:          s.now().Unix(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish number event failed", zap.Error(err), zap.String("number_id", n.ID.String()))
	}
}
