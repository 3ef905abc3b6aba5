package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault/internal/models"
	"github.com/pixelvault/pixelvault/internal/provider"
)

const (
	defaultWidth  = 1024
	defaultHeight = 1024
	maxDimension  = 2048
)

type JobService struct {
	log     *slog.Logger
	jobs    JobStore
	credits *CreditService
	queue   Queue
}

type SubmitRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
}

func NewJobService(log *slog.Logger, jobs JobStore, credits *CreditService, queue Queue) *JobService {
	return &JobService{log: log, jobs: jobs, credits: credits, queue: queue}
}

// Submit validates the request, debits one credit, persists the job in
// pending state and hands it to the worker pool. It returns as soon as the
// job is admitted; generation happens asynchronously.
//
// Ordering matters: the debit and its usage entry land before the job row,
// so a failed job always has exactly one usage entry to refund against.
func (s *JobService) Submit(ctx context.Context, userID int64, req SubmitRequest) (*models.Job, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt required", ErrInvalidInput)
	}
	if req.Width < 0 || req.Height < 0 || req.Width > maxDimension || req.Height > maxDimension {
		return nil, fmt.Errorf("%w: dimensions out of range", ErrInvalidInput)
	}
	if req.Width == 0 {
		req.Width = defaultWidth
	}
	if req.Height == 0 {
		req.Height = defaultHeight
	}

	job := &models.Job{
		ID:             uuid.NewString(),
		UserID:         userID,
		Prompt:         req.Prompt,
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		ModelChoice:    provider.NormalizeChoice(req.Model),
		Width:          req.Width,
		Height:         req.Height,
		Status:         models.JobStatusPending,
	}

	if err := s.credits.DebitForJob(ctx, userID, job.ID); err != nil {
		return nil, err
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		// The debit already landed; give the credit back so the guard
		// invariant (no side effects on rejection) holds.
		if refundErr := s.credits.RefundJob(ctx, userID, job.ID); refundErr != nil {
			s.log.Error("refund after failed admission", "job_id", job.ID, "err", refundErr)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		s.failUnscheduled(ctx, job, err)
		return nil, fmt.Errorf("schedule job: %w", err)
	}

	s.log.Info("job admitted", "job_id", job.ID, "user_id", userID, "model", job.ModelChoice)
	return job, nil
}

// failUnscheduled finalizes a job the queue never accepted (shutdown, queue
// closed). It walks the normal pending→processing→failed path so status
// stays monotonic, then refunds the debit.
func (s *JobService) failUnscheduled(ctx context.Context, job *models.Job, cause error) {
	if _, err := s.jobs.MarkProcessing(ctx, job.ID); err != nil {
		s.log.Error("mark unscheduled job processing", "job_id", job.ID, "err", err)
		return
	}
	if err := s.jobs.MarkFailed(ctx, job.ID, fmt.Sprintf("not scheduled: %v", cause)); err != nil {
		s.log.Error("mark unscheduled job failed", "job_id", job.ID, "err", err)
		return
	}
	if err := s.credits.RefundJob(ctx, job.UserID, job.ID); err != nil {
		s.log.Error("refund unscheduled job", "job_id", job.ID, "err", err)
	}
}

// Get returns the job only to its owner; anything else is ErrNotFound.
func (s *JobService) Get(ctx context.Context, jobID string, userID int64) (*models.Job, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *JobService) List(ctx context.Context, userID int64, page, limit int) ([]models.Job, error) {
	offset, limit := pageBounds(page, limit)
	return s.jobs.ListByUser(ctx, userID, offset, limit)
}
