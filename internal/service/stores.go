package service

import (
	"context"
	"time"

	"github.com/pixelvault/pixelvault/internal/models"
	"github.com/pixelvault/pixelvault/internal/provider"
)

// Store interfaces consumed by the services. The repository package provides
// the MySQL implementations; tests substitute in-memory fakes.

type UserStore interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	DebitCredits(ctx context.Context, userID int64, amount int) (bool, error)
	AddCredits(ctx context.Context, userID int64, amount int) error
}

type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	FindByID(ctx context.Context, id string) (*models.Job, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string, result *models.JobResult) error
	MarkFailed(ctx context.Context, id string, message string) error
	ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.Job, error)
	ListFailedWithoutRefund(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
}

type LedgerStore interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.LedgerEntry, error)
	SumCredits(ctx context.Context, userID int64) (int, error)
	UsedCreditsSince(ctx context.Context, userID int64, since time.Time) (int, error)
	HasEntryForJob(ctx context.Context, jobID string, entryType models.EntryType) (bool, error)
}

type PackageStore interface {
	List(ctx context.Context) ([]models.CreditPackage, error)
	GetByID(ctx context.Context, id int64) (*models.CreditPackage, error)
	Create(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error)
	Count(ctx context.Context) (int, error)
}

type ApiKeyStore interface {
	Create(ctx context.Context, key *models.ApiKey) (*models.ApiKey, error)
	FindActiveByKey(ctx context.Context, secret string) (*models.ApiKey, error)
	ListByUser(ctx context.Context, userID int64) ([]models.ApiKey, error)
	TouchUsage(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, userID, id int64) (bool, error)
}

// Synthesizer is one attempt against a single provider model. Implemented by
// provider.Client.
type Synthesizer interface {
	Generate(ctx context.Context, req provider.Request) ([]provider.Image, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Uploader rehosts generated image bytes and returns a public URL.
// Implemented by storage.Uploader.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Queue hands an admitted job to the worker pool. Implemented by worker.Pool.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
}
