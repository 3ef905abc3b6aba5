package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixelvault/pixelvault/internal/models"
	"github.com/pixelvault/pixelvault/internal/provider"
)

// GenerationService runs the job state machine: pending → processing →
// completed | failed. A job is owned exclusively by the worker that picked
// it up; nothing else writes to it after admission.
type GenerationService struct {
	log      *slog.Logger
	jobs     JobStore
	credits  *CreditService
	synth    Synthesizer
	uploader Uploader // nil disables rehosting

	attemptTimeout time.Duration
	retryBackoff   time.Duration
	maxAttempts    int
}

func NewGenerationService(log *slog.Logger, jobs JobStore, credits *CreditService, synth Synthesizer, uploader Uploader, attemptTimeout, retryBackoff time.Duration, maxAttempts int) *GenerationService {
	if attemptTimeout <= 0 {
		attemptTimeout = 60 * time.Second
	}
	if retryBackoff < 0 {
		retryBackoff = 0
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &GenerationService{
		log:            log,
		jobs:           jobs,
		credits:        credits,
		synth:          synth,
		uploader:       uploader,
		attemptTimeout: attemptTimeout,
		retryBackoff:   retryBackoff,
		maxAttempts:    maxAttempts,
	}
}

// ProcessJob drives one job to a terminal state. Each attempt targets the
// next model in the fallback chain under its own deadline; the deadline
// cancels the in-flight provider call rather than abandoning it. After the
// attempt budget is spent the job fails and the debit is compensated.
func (s *GenerationService) ProcessJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}

	ok, err := s.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !ok {
		// Already picked up or terminal; a duplicate enqueue is harmless.
		s.log.Warn("skipping job not in pending state", "job_id", jobID, "status", job.Status)
		return nil
	}

	chain := provider.FallbackChain(job.ModelChoice)
	started := time.Now()

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		model := chain[attempt%len(chain)]

		images, attemptErr := s.attempt(ctx, job, model)
		if attemptErr == nil {
			return s.complete(ctx, job, model, images, time.Since(started))
		}
		lastErr = attemptErr
		s.log.Warn("generation attempt failed",
			"job_id", job.ID, "model", model,
			"attempt", attempt+1, "max_attempts", s.maxAttempts,
			"err", attemptErr)

		if attempt < s.maxAttempts-1 {
			select {
			case <-ctx.Done():
				// Keep the provider's error as the recorded cause; the
				// cancellation only explains why we stopped retrying.
				if lastErr == nil {
					lastErr = ctx.Err()
				}
			case <-time.After(s.retryBackoff):
				continue
			}
			break
		}
	}

	return s.fail(ctx, job, lastErr)
}

func (s *GenerationService) attempt(ctx context.Context, job *models.Job, model string) ([]provider.Image, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	return s.synth.Generate(attemptCtx, provider.Request{
		Model:          model,
		Prompt:         job.Prompt,
		NegativePrompt: job.NegativePrompt,
		Width:          job.Width,
		Height:         job.Height,
	})
}

func (s *GenerationService) complete(ctx context.Context, job *models.Job, model string, images []provider.Image, elapsed time.Duration) error {
	// The job reached its outcome; persisting it must survive the shutdown
	// that may have cancelled ctx, or the row is stuck in processing.
	writeCtx := context.WithoutCancel(ctx)
	result := &models.JobResult{
		TimeTaken: elapsed.Milliseconds(),
		Model:     model,
	}
	for _, img := range images {
		url := img.URL
		if s.uploader != nil {
			hosted, err := s.rehost(ctx, img.URL)
			if err != nil {
				s.log.Warn("rehost failed, keeping provider url", "job_id", job.ID, "err", err)
				result.Note = "served from provider storage"
			} else {
				url = hosted
			}
		}
		result.Images = append(result.Images, models.GeneratedImage{
			URL:    url,
			Width:  img.Width,
			Height: img.Height,
		})
	}

	if err := s.jobs.MarkCompleted(writeCtx, job.ID, result); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	s.log.Info("job completed", "job_id", job.ID, "model", model, "time_taken_ms", result.TimeTaken, "images", len(result.Images))
	return nil
}

func (s *GenerationService) fail(ctx context.Context, job *models.Job, cause error) error {
	message := "generation failed"
	if cause != nil {
		message = cause.Error()
	}

	// Terminal write plus refund run detached from ctx: on shutdown the
	// worker context is already cancelled, and abandoning these writes would
	// strand the job in processing with the debit kept.
	writeCtx := context.WithoutCancel(ctx)

	if err := s.jobs.MarkFailed(writeCtx, job.ID, message); err != nil {
		// Persistence failure is fatal to this invocation; the job stays
		// processing and operators see it in the logs.
		return fmt.Errorf("mark failed: %w", err)
	}

	// Compensating credit. Blind atomic increment: whatever else happened to
	// the balance since admission, the failed debit comes back.
	if err := s.credits.RefundJob(writeCtx, job.UserID, job.ID); err != nil {
		// The reconciliation sweep repairs this later.
		s.log.Error("refund after failed job", "job_id", job.ID, "user_id", job.UserID, "err", err)
		return fmt.Errorf("refund failed job: %w", err)
	}

	s.log.Info("job failed and refunded", "job_id", job.ID, "user_id", job.UserID, "error", message)
	return nil
}

func (s *GenerationService) rehost(ctx context.Context, url string) (string, error) {
	data, contentType, err := s.synth.Download(ctx, url)
	if err != nil {
		return "", err
	}
	return s.uploader.Upload(ctx, data, contentType)
}
