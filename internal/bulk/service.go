// Package bulk runs scope-bounded mass mutations over phone numbers.
package bulk

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
)

// DefaultSentinel is the customer name written on system-locked numbers.
const DefaultSentinel = models.DefaultLockSentinel

// Action names a bulk operation.
type Action string

const (
	ActionClearAll    Action = "CLEAR_ALL"
	ActionBanPrefix   Action = "BAN_PREFIX"
	ActionUnbanPrefix Action = "UNBAN_PREFIX"
)

var affected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campus_numbers_bulk_affected_total",
		Help: "Rows changed by bulk actions",
	},
	[]string{"action"},
)

// Store is the set-based persistence bulk actions need. Each method is one
// statement whose predicate is checked per row at write time.
type Store interface {
	DeleteAll(ctx context.Context) (int64, error)
	LockPrefix(ctx context.Context, prefix, sentinel string, scope models.DataFilter) (int64, error)
	UnlockPrefix(ctx context.Context, prefix, sentinel string, scope models.DataFilter) (int64, error)
}

// Result reports what a bulk action did.
type Result struct {
	Action   Action `json:"action"`
	Prefix   string `json:"prefix,omitempty"`
	Affected int64  `json:"affected"`
}

// Service executes bulk actions.
type Service struct {
	store    Store
	sentinel string
	logger   *zap.Logger
}

// NewService creates a bulk action service. An empty sentinel uses DefaultSentinel.
func NewService(store Store, sentinel string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(sentinel) == "" {
		sentinel = DefaultSentinel
	}
	return &Service{store: store, sentinel: sentinel, logger: logger}
}

// Execute dispatches a bulk action.
func (s *Service) Execute(ctx context.Context, ac *access.AuthContext, action Action, prefix string) (*Result, error) {
	switch action {
	case ActionClearAll:
		return s.ClearAll(ctx, ac)
	case ActionBanPrefix:
		return s.BanPrefix(ctx, ac, prefix)
	case ActionUnbanPrefix:
		return s.UnbanPrefix(ctx, ac, prefix)
	}
	return nil, fmt.Errorf("%w: unknown action %q", models.ErrValidation, action)
}

// ClearAll deletes every number in the system. It is global and restricted
// to super admins.
func (s *Service) ClearAll(ctx context.Context, ac *access.AuthContext) (*Result, error) {
	if !ac.IsSuperAdmin() {
		return nil, fmt.Errorf("%w: clearing all numbers requires super admin", models.ErrForbidden)
	}
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete all numbers: %w", err)
	}
	return s.done(ac, ActionClearAll, "", n), nil
}

// BanPrefix locks every in-scope UNRESERVED number starting with prefix.
// Claimed and reserved numbers are left alone.
func (s *Service) BanPrefix(ctx context.Context, ac *access.AuthContext, prefix string) (*Result, error) {
	prefix, err := s.guard(ac, prefix)
	if err != nil {
		return nil, err
	}
	n, err := s.store.LockPrefix(ctx, prefix, s.sentinel, ac.WriteScope())
	if err != nil {
		return nil, fmt.Errorf("lock prefix: %w", err)
	}
	return s.done(ac, ActionBanPrefix, prefix, n), nil
}

// UnbanPrefix releases in-scope numbers starting with prefix that carry the
// lock sentinel. Real customer reservations are never matched.
func (s *Service) UnbanPrefix(ctx context.Context, ac *access.AuthContext, prefix string) (*Result, error) {
	prefix, err := s.guard(ac, prefix)
	if err != nil {
		return nil, err
	}
	n, err := s.store.UnlockPrefix(ctx, prefix, s.sentinel, ac.WriteScope())
	if err != nil {
		return nil, fmt.Errorf("unlock prefix: %w", err)
	}
	return s.done(ac, ActionUnbanPrefix, prefix, n), nil
}

func (s *Service) guard(ac *access.AuthContext, prefix string) (string, error) {
	if !ac.Elevated() {
		return "", fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || len(prefix) > 11 {
		return "", fmt.Errorf("%w: prefix must be 1 to 11 digits", models.ErrValidation)
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: prefix must be digits only", models.ErrValidation)
		}
	}
	return prefix, nil
}

func (s *Service) done(ac *access.AuthContext, action Action, prefix string, n int64) *Result {
	affected.WithLabelValues(string(action)).Add(float64(n))
	s.logger.Info("bulk action applied",
		zap.String("action", string(action)),
		zap.String("prefix", prefix),
		zap.Int64("affected", n),
		zap.String("by", ac.Identity.UserID.String()),
	)
	return &Result{Action: action, Prefix: prefix, Affected: n}
}
