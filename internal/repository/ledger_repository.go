package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelvault/pixelvault/internal/models"
)

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts a ledger entry. The ledger is append-only: there is no
// update or delete path anywhere in this repository.
func (r *LedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	const query = `
INSERT INTO ledger_entries (user_id, type, amount_cents, credits, description, status, job_id, package_id, payment_method)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, 0), NULLIF(?, ''))`
	status := entry.Status
	if status == "" {
		status = "completed"
	}
	res, err := r.db.ExecContext(ctx, query, entry.UserID, entry.Type, entry.AmountCents, entry.Credits, entry.Description, status, entry.JobID, entry.PackageID, entry.PaymentMethod)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ledger last insert id: %w", err)
	}
	entry.ID = id
	entry.Status = status
	return nil
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.LedgerEntry, error) {
	const query = `
SELECT id, user_id, type, amount_cents, credits, COALESCE(description, ''), status, COALESCE(job_id, ''), COALESCE(package_id, 0), COALESCE(payment_method, ''), created_at
FROM ledger_entries WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.AmountCents, &e.Credits, &e.Description, &e.Status, &e.JobID, &e.PackageID, &e.PaymentMethod, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumCredits totals every signed delta for the user. Matches the stored
// balance unless a refund write was lost; the reconciliation sweep closes
// that gap.
func (r *LedgerRepository) SumCredits(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COALESCE(SUM(credits), 0) FROM ledger_entries WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var sum int
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger credits: %w", err)
	}
	return sum, nil
}

// UsedCreditsSince sums the absolute value of usage entries created at or
// after the given time. A derived read; usage totals are never cached.
func (r *LedgerRepository) UsedCreditsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	const query = `
SELECT COALESCE(SUM(ABS(credits)), 0) FROM ledger_entries
WHERE user_id = ? AND type = ? AND created_at >= ?`
	row := r.db.QueryRowContext(ctx, query, userID, models.EntryUsage, since)
	var used int
	if err := row.Scan(&used); err != nil {
		return 0, fmt.Errorf("sum used credits: %w", err)
	}
	return used, nil
}

// HasEntryForJob reports whether an entry of the given type already exists
// for the job, so refunds stay idempotent under reconciliation.
func (r *LedgerRepository) HasEntryForJob(ctx context.Context, jobID string, entryType models.EntryType) (bool, error) {
	const query = `SELECT COUNT(*) FROM ledger_entries WHERE job_id = ? AND type = ?`
	row := r.db.QueryRowContext(ctx, query, jobID, entryType)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("count job entries: %w", err)
	}
	return count > 0, nil
}
