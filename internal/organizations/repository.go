package organizations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/database"
)

const orgColumns = `id, name, kind, parent_id, created_at, updated_at`

// Repository handles organizations persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an organizations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanOrg(row pgx.Row) (*models.Organization, error) {
	var o models.Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Kind, &o.ParentID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// List returns every organization, schools first.
func (r *Repository) List(ctx context.Context) ([]models.Organization, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orgColumns+` FROM organizations
		ORDER BY CASE kind WHEN 'SCHOOL' THEN 0 ELSE 1 END, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Organization
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *o)
	}
	return list, rows.Err()
}

// Create creates an organization.
func (r *Repository) Create(ctx context.Context, org *models.Organization) error {
	const q = `INSERT INTO organizations (id, name, kind, parent_id)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, org.Name, string(org.Kind), org.ParentID).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if database.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: parent organization", models.ErrNotFound)
	}
	return err
}

// Rename changes an organization's name.
func (r *Repository) Rename(ctx context.Context, id uuid.UUID, name string) (*models.Organization, error) {
	return scanOrg(r.pool.QueryRow(ctx, `UPDATE organizations SET name = $2, updated_at = NOW()
		WHERE id = $1 RETURNING `+orgColumns, id, name))
}

// CountChildren returns how many departments sit under an organization.
func (r *Repository) CountChildren(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations WHERE parent_id = $1`, id).Scan(&n)
	return n, err
}

// Delete removes an organization. Children and memberships reference it with
// ON DELETE RESTRICT, so a racing insert surfaces as a conflict.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if database.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: organization is still referenced", models.ErrConflict)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
