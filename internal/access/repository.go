package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/database"
)

// Repository handles user_organizations persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a membership repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByUser returns a user's memberships.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	const q = `SELECT id, user_id, organization_id, role, created_at
		FROM user_organizations WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// Replace deletes the user's memberships inside within (all of them when
// within is unrestricted) and inserts orgIDs with role, in one transaction.
func (r *Repository) Replace(ctx context.Context, userID uuid.UUID, within models.DataFilter, orgIDs []uuid.UUID, role models.Role) error {
	return database.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		if within.Unrestricted {
			_, err = tx.Exec(ctx, `DELETE FROM user_organizations WHERE user_id = $1`, userID)
		} else {
			_, err = tx.Exec(ctx, `DELETE FROM user_organizations WHERE user_id = $1 AND organization_id = ANY($2)`,
				userID, within.OrganizationIDs)
		}
		if err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		const ins = `INSERT INTO user_organizations (id, user_id, organization_id, role)
			VALUES (gen_random_uuid(), $1, $2, $3)
			ON CONFLICT (user_id, organization_id) DO UPDATE SET role = EXCLUDED.role`
		for _, id := range orgIDs {
			if _, err := tx.Exec(ctx, ins, userID, id, string(role)); err != nil {
				return fmt.Errorf("insert membership %s: %w", id, err)
			}
		}
		return nil
	})
}

// CountByOrganization returns how many memberships target an organization.
func (r *Repository) CountByOrganization(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_organizations WHERE organization_id = $1`, orgID).Scan(&n)
	return n, err
}
