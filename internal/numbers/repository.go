package numbers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/database"
)

const numberColumns = `id, number_value, is_premium, premium_reason, state, claimed_at,
	payment_amount::float8, payment_method, transaction_id, customer_name, customer_contact,
	shipping_address, delivery_status, tracking_number, notes, school_id, department_id,
	created_at, updated_at`

// Number writes stamp updated_at with clock_timestamp(); UpdateIfUnchanged
// compares against it.

// clearCustomer resets every customer, payment and delivery column.
const clearCustomer = `state = 'UNRESERVED', claimed_at = NULL, payment_amount = NULL,
	payment_method = NULL, transaction_id = NULL, customer_name = NULL, customer_contact = NULL,
	shipping_address = NULL, delivery_status = NULL, tracking_number = NULL, updated_at = clock_timestamp()`

const claimSQL = `UPDATE phone_numbers SET state = 'PENDING_REVIEW', claimed_at = $2,
	customer_name = $3, customer_contact = $4, payment_amount = $5,
	shipping_address = NULLIF($6, ''), payment_method = NULLIF($7, ''), transaction_id = NULLIF($8, ''),
	updated_at = clock_timestamp()
	WHERE id = $1 AND state = 'UNRESERVED'
	RETURNING ` + numberColumns

// updateIfUnchangedSQL matches only the row version the caller read: same
// state and same updated_at.
const updateIfUnchangedSQL = `UPDATE phone_numbers SET state = $4, is_premium = $5, premium_reason = $6,
	claimed_at = $7, payment_amount = $8, payment_method = $9, transaction_id = $10, customer_name = $11,
	customer_contact = $12, shipping_address = $13, delivery_status = $14, tracking_number = $15,
	notes = $16, school_id = $17, department_id = $18, updated_at = clock_timestamp()
	WHERE id = $1 AND state = $2 AND updated_at = $3
	RETURNING ` + numberColumns

// upsertSQL inserts a new number or merges into the existing one. The
// DO UPDATE only fires when $14 (unrestricted) or the existing row's
// assignment is covered by $15/$16; otherwise no row is returned.
// (xmax = 0) is true only for a freshly inserted row.
const upsertSQL = `INSERT INTO phone_numbers (id, number_value, is_premium, premium_reason, state,
		customer_name, customer_contact, shipping_address, payment_amount, payment_method,
		transaction_id, notes, school_id, department_id)
	VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (number_value) DO UPDATE SET
		is_premium = phone_numbers.is_premium OR EXCLUDED.is_premium,
		premium_reason = COALESCE(EXCLUDED.premium_reason, phone_numbers.premium_reason),
		customer_name = COALESCE(EXCLUDED.customer_name, phone_numbers.customer_name),
		customer_contact = COALESCE(EXCLUDED.customer_contact, phone_numbers.customer_contact),
		shipping_address = COALESCE(EXCLUDED.shipping_address, phone_numbers.shipping_address),
		payment_amount = COALESCE(EXCLUDED.payment_amount, phone_numbers.payment_amount),
		payment_method = COALESCE(EXCLUDED.payment_method, phone_numbers.payment_method),
		transaction_id = COALESCE(EXCLUDED.transaction_id, phone_numbers.transaction_id),
		notes = COALESCE(EXCLUDED.notes, phone_numbers.notes),
		state = CASE WHEN phone_numbers.state = 'UNRESERVED' AND EXCLUDED.state = 'RESERVED'
			THEN 'RESERVED' ELSE phone_numbers.state END,
		updated_at = clock_timestamp()
	WHERE $14 OR phone_numbers.department_id = ANY($15)
		OR (phone_numbers.department_id IS NULL AND phone_numbers.school_id = ANY($16))
	RETURNING (xmax = 0)`

// Repository handles phone_numbers persistence. Every state change is a
// single conditional UPDATE so concurrent writers cannot interleave.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a phone number repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanNumber(row pgx.Row) (*models.PhoneNumber, error) {
	var n models.PhoneNumber
	err := row.Scan(&n.ID, &n.NumberValue, &n.IsPremium, &n.PremiumReason, &n.State, &n.ClaimedAt,
		&n.PaymentAmount, &n.PaymentMethod, &n.TransactionID, &n.CustomerName, &n.CustomerContact,
		&n.ShippingAddress, &n.DeliveryStatus, &n.TrackingNumber, &n.Notes, &n.SchoolID, &n.DepartmentID,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

// GetByID returns a number by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.PhoneNumber, error) {
	return scanNumber(r.pool.QueryRow(ctx, `SELECT `+numberColumns+` FROM phone_numbers WHERE id = $1`, id))
}

// exists distinguishes a lost race from a missing row after a conditional
// update matched nothing.
func (r *Repository) exists(ctx context.Context, id uuid.UUID) error {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM phone_numbers WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

// ClaimIfUnreserved moves the number to PENDING_REVIEW only if it is still
// UNRESERVED at write time.
func (r *Repository) ClaimIfUnreserved(ctx context.Context, id uuid.UUID, cl models.Claim, at time.Time) (*models.PhoneNumber, error) {
	n, err := scanNumber(r.pool.QueryRow(ctx, claimSQL, id, at, cl.CustomerName, cl.CustomerContact, cl.PaymentAmount,
		cl.ShippingAddress, cl.PaymentMethod, cl.TransactionID))
	if errors.Is(err, models.ErrNotFound) {
		if exErr := r.exists(ctx, id); exErr != nil {
			return nil, exErr
		}
		return nil, fmt.Errorf("%w: number is no longer available", models.ErrConflict)
	}
	return n, err
}

// UpdateIfUnchanged writes every mutable field of n if the stored row is
// still the version that was read: same state and same updated_at. A row
// released and re-claimed in between no longer matches.
func (r *Repository) UpdateIfUnchanged(ctx context.Context, n *models.PhoneNumber, expectedState models.NumberState, expectedUpdatedAt time.Time) (*models.PhoneNumber, error) {
	out, err := scanNumber(r.pool.QueryRow(ctx, updateIfUnchangedSQL, n.ID, string(expectedState), expectedUpdatedAt,
		string(n.State), n.IsPremium, n.PremiumReason,
		n.ClaimedAt, n.PaymentAmount, n.PaymentMethod, n.TransactionID, n.CustomerName, n.CustomerContact,
		n.ShippingAddress, n.DeliveryStatus, n.TrackingNumber, n.Notes, n.SchoolID, n.DepartmentID))
	if errors.Is(err, models.ErrNotFound) {
		if exErr := r.exists(ctx, n.ID); exErr != nil {
			return nil, exErr
		}
		return nil, fmt.Errorf("%w: number changed concurrently", models.ErrConflict)
	}
	return out, err
}

// Release resets the number to UNRESERVED and clears customer data.
func (r *Repository) Release(ctx context.Context, id uuid.UUID) (*models.PhoneNumber, error) {
	q := `UPDATE phone_numbers SET ` + clearCustomer + ` WHERE id = $1 RETURNING ` + numberColumns
	return scanNumber(r.pool.QueryRow(ctx, q, id))
}

// ReleaseExpired releases every PENDING_REVIEW number claimed before cutoff.
// The state predicate is evaluated per row at update time, so a number
// approved after the scan started is left alone.
func (r *Repository) ReleaseExpired(ctx context.Context, cutoff time.Time) ([]models.PhoneNumber, error) {
	q := `UPDATE phone_numbers SET ` + clearCustomer + `
		WHERE state = 'PENDING_REVIEW' AND claimed_at < $1
		RETURNING ` + numberColumns
	rows, err := r.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PhoneNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *n)
	}
	return list, rows.Err()
}

// Delete removes a number.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM phone_numbers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// List returns one page of numbers. A nil scope applies no organization filter.
func (r *Repository) List(ctx context.Context, scope *models.DataFilter, p models.ListParams) (*models.NumberPage, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if scope != nil && !scope.Unrestricted {
		conds = append(conds, scopeClause(*scope, arg))
	}
	if s := strings.TrimSpace(p.Search); s != "" {
		conds = append(conds, "number_value LIKE "+arg("%"+escapeLike(s)+"%"))
	}
	if p.SchoolID != nil {
		conds = append(conds, "school_id = "+arg(*p.SchoolID))
	}
	if p.DepartmentID != nil {
		conds = append(conds, "department_id = "+arg(*p.DepartmentID))
	}
	if p.HideReserved {
		conds = append(conds, "state = 'UNRESERVED'")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := &models.NumberPage{Page: p.Page, PageSize: p.PageSize, Items: []models.PhoneNumber{}}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM phone_numbers`+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count numbers: %w", err)
	}

	limit := arg(p.PageSize)
	offset := arg((p.Page - 1) * p.PageSize)
	q := `SELECT ` + numberColumns + ` FROM phone_numbers` + where +
		` ORDER BY is_premium DESC, number_value ASC LIMIT ` + limit + ` OFFSET ` + offset
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *n)
	}
	return page, rows.Err()
}

// Create inserts a new UNRESERVED number.
func (r *Repository) Create(ctx context.Context, n *models.PhoneNumber) error {
	const q = `INSERT INTO phone_numbers (id, number_value, is_premium, premium_reason, state, school_id, department_id)
		VALUES (gen_random_uuid(), $1, $2, $3, 'UNRESERVED', $4, $5)
		RETURNING id, state, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, n.NumberValue, n.IsPremium, n.PremiumReason, n.SchoolID, n.DepartmentID).
		Scan(&n.ID, &n.State, &n.CreatedAt, &n.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: number %s already exists", models.ErrConflict, n.NumberValue)
	}
	return err
}

// scopeClause renders the number-visibility predicate for a restricted filter.
func scopeClause(scope models.DataFilter, arg func(interface{}) string) string {
	return fmt.Sprintf("(department_id = ANY(%s) OR (department_id IS NULL AND school_id = ANY(%s)))",
		arg(nonNil(scope.DepartmentIDs)), arg(nonNil(scope.SchoolIDs)))
}

// DeleteAll removes every number.
func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM phone_numbers`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LockPrefix marks every UNRESERVED number starting with prefix as RESERVED
// under the sentinel customer name. The state predicate is evaluated per row
// at update time.
func (r *Repository) LockPrefix(ctx context.Context, prefix, sentinel string, scope models.DataFilter) (int64, error) {
	args := []interface{}{escapeLike(prefix) + "%", sentinel}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	q := `UPDATE phone_numbers SET state = 'RESERVED', customer_name = $2, updated_at = clock_timestamp()
		WHERE number_value LIKE $1 AND state = 'UNRESERVED'`
	if !scope.Unrestricted {
		q += " AND " + scopeClause(scope, arg)
	}
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UnlockPrefix releases every number starting with prefix whose customer name
// is the sentinel.
func (r *Repository) UnlockPrefix(ctx context.Context, prefix, sentinel string, scope models.DataFilter) (int64, error) {
	args := []interface{}{escapeLike(prefix) + "%", sentinel}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	q := `UPDATE phone_numbers SET ` + clearCustomer + `
		WHERE number_value LIKE $1 AND customer_name = $2`
	if !scope.Unrestricted {
		q += " AND " + scopeClause(scope, arg)
	}
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nonNil(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Upsert merges an imported record keyed by number value. Existing numbers
// keep every column the record leaves nil and their organization assignment,
// and are only touched when scope covers them. A record carrying customer
// data turns an UNRESERVED number into a RESERVED one.
func (r *Repository) Upsert(ctx context.Context, rec models.NumberRecord, scope models.DataFilter) (models.UpsertOutcome, error) {
	state := models.StateUnreserved
	if rec.HasCustomerData() {
		state = models.StateReserved
	}
	var inserted bool
	err := r.pool.QueryRow(ctx, upsertSQL, rec.NumberValue, rec.IsPremium, rec.PremiumReason, string(state),
		rec.CustomerName, rec.CustomerContact, rec.ShippingAddress, rec.PaymentAmount, rec.PaymentMethod,
		rec.TransactionID, rec.Notes, rec.SchoolID, rec.DepartmentID,
		scope.Unrestricted, nonNil(scope.DepartmentIDs), nonNil(scope.SchoolIDs)).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UpsertOutOfScope, nil
	}
	if err != nil {
		return 0, err
	}
	if inserted {
		return models.UpsertCreated, nil
	}
	return models.UpsertUpdated, nil
}
