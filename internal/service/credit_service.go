package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixelvault/pixelvault/internal/models"
)

// CreditService owns every balance mutation and its matching ledger entry.
// The balance column is only ever touched through atomic SQL deltas; the
// ledger is the append-only audit trail beside it.
type CreditService struct {
	log    *slog.Logger
	users  UserStore
	jobs   JobStore
	ledger LedgerStore
}

func NewCreditService(log *slog.Logger, users UserStore, jobs JobStore, ledger LedgerStore) *CreditService {
	return &CreditService{log: log, users: users, jobs: jobs, ledger: ledger}
}

// DebitForJob takes one credit from the user and records the usage entry.
// Returns ErrInsufficientCredits without side effects when the balance is
// too low. The debit lands before the job is admitted, so a later refund is
// always symmetric to exactly one usage entry.
func (s *CreditService) DebitForJob(ctx context.Context, userID int64, jobID string) error {
	ok, err := s.users.DebitCredits(ctx, userID, 1)
	if err != nil {
		return fmt.Errorf("debit for job: %w", err)
	}
	if !ok {
		return ErrInsufficientCredits
	}

	entry := &models.LedgerEntry{
		UserID:      userID,
		Type:        models.EntryUsage,
		Credits:     -1,
		Description: "image generation",
		JobID:       jobID,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		// Roll the debit back so the guard stays side-effect free.
		if addErr := s.users.AddCredits(ctx, userID, 1); addErr != nil {
			s.log.Error("debit rollback failed", "user_id", userID, "job_id", jobID, "err", addErr)
		}
		return fmt.Errorf("record usage entry: %w", err)
	}
	return nil
}

// RefundJob compensates a failed job: one credit back, one refund entry
// tagged with the job id. Idempotent, so a second call for the same job is a
// no-op and the reconciliation sweep can retry safely.
func (s *CreditService) RefundJob(ctx context.Context, userID int64, jobID string) error {
	refunded, err := s.ledger.HasEntryForJob(ctx, jobID, models.EntryRefund)
	if err != nil {
		return fmt.Errorf("check refund entry: %w", err)
	}
	if refunded {
		return nil
	}

	if err := s.users.AddCredits(ctx, userID, 1); err != nil {
		return fmt.Errorf("refund credit: %w", err)
	}
	entry := &models.LedgerEntry{
		UserID:      userID,
		Type:        models.EntryRefund,
		Credits:     1,
		Description: "refund for failed generation",
		JobID:       jobID,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		return fmt.Errorf("record refund entry: %w", err)
	}
	return nil
}

// GrantBonus credits the user outside of a purchase (signup grant).
func (s *CreditService) GrantBonus(ctx context.Context, userID int64, credits int, description string) error {
	if credits <= 0 {
		return nil
	}
	if err := s.users.AddCredits(ctx, userID, credits); err != nil {
		return fmt.Errorf("grant bonus: %w", err)
	}
	entry := &models.LedgerEntry{
		UserID:      userID,
		Type:        models.EntryBonus,
		Credits:     credits,
		Description: description,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		return fmt.Errorf("record bonus entry: %w", err)
	}
	return nil
}

func (s *CreditService) Balance(ctx context.Context, userID int64) (int, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, ErrNotFound
	}
	return user.Credits, nil
}

// UsedThisMonth is derived by scanning usage entries, never from a stored
// aggregate.
func (s *CreditService) UsedThisMonth(ctx context.Context, userID int64) (int, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.ledger.UsedCreditsSince(ctx, userID, monthStart)
}

func (s *CreditService) Transactions(ctx context.Context, userID int64, page, limit int) ([]models.LedgerEntry, error) {
	offset, limit := pageBounds(page, limit)
	return s.ledger.ListByUser(ctx, userID, offset, limit)
}

// LedgerBalance sums all deltas for audit comparisons against the stored
// balance.
func (s *CreditService) LedgerBalance(ctx context.Context, userID int64) (int, error) {
	return s.ledger.SumCredits(ctx, userID)
}

// ReconcileRefunds repairs jobs that failed but whose refund write was lost
// (crash between MarkFailed and RefundJob). The grace period keeps the sweep
// from racing a worker that is still finishing its own refund.
func (s *CreditService) ReconcileRefunds(ctx context.Context, grace time.Duration, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	jobs, err := s.jobs.ListFailedWithoutRefund(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list unrefunded jobs: %w", err)
	}

	repaired := 0
	for _, job := range jobs {
		if err := s.RefundJob(ctx, job.UserID, job.ID); err != nil {
			s.log.Error("reconcile refund failed", "job_id", job.ID, "user_id", job.UserID, "err", err)
			continue
		}
		s.log.Info("reconciled missing refund", "job_id", job.ID, "user_id", job.UserID)
		repaired++
	}
	return repaired, nil
}

func pageBounds(page, limit int) (offset, capped int) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit, limit
}
