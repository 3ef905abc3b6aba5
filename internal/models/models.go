package models

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type EntryType string

const (
	EntryPurchase EntryType = "purchase"
	EntryUsage    EntryType = "usage"
	EntryRefund   EntryType = "refund"
	EntryBonus    EntryType = "bonus"
)

type User struct {
	ID        int64
	Email     string
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Job is one image-generation request and its lifecycle record. After
// creation it is owned by the worker; API handlers only read it.
type Job struct {
	ID             string
	UserID         int64
	Prompt         string
	NegativePrompt string
	ModelChoice    string
	Width          int
	Height         int
	Status         JobStatus
	Result         *JobResult
	Error          string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

type JobResult struct {
	Images    []GeneratedImage `json:"images"`
	TimeTaken int64            `json:"time_taken_ms"`
	Model     string           `json:"model"`
	Note      string           `json:"note,omitempty"`
}

type GeneratedImage struct {
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Filename string `json:"filename,omitempty"`
}

// LedgerEntry is an immutable record of a single credit-affecting event.
// Entries are appended once and never updated.
type LedgerEntry struct {
	ID            int64
	UserID        int64
	Type          EntryType
	AmountCents   int
	Credits       int
	Description   string
	Status        string
	JobID         string
	PackageID     int64
	PaymentMethod string
	CreatedAt     time.Time
}

type ApiKey struct {
	ID         int64
	UserID     int64
	Name       string
	Key        string
	UsageCount int
	IsActive   bool
	LastUsed   *time.Time
	CreatedAt  time.Time
}

type PromoCode struct {
	ID        int64
	Code      string
	Credits   int
	MaxUses   int
	Uses      int
	CreatedAt time.Time
}

type CreditPackage struct {
	ID         int64
	Name       string
	Credits    int
	PriceCents int
	Currency   string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
