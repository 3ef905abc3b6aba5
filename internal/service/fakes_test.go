package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pixelvault/pixelvault/internal/models"
	"github.com/pixelvault/pixelvault/internal/provider"
)

// In-memory store fakes shared by the service tests.

type memUserStore struct {
	mu    sync.Mutex
	seq   int64
	users map[int64]*models.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[int64]*models.User)}
}

func (s *memUserStore) addUser(email string, credits int) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	u := &models.User{ID: s.seq, Email: email, Credits: credits, CreatedAt: time.Now()}
	s.users[u.ID] = u
	copied := *u
	return &copied
}

func (s *memUserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	user.ID = s.seq
	user.CreatedAt = time.Now()
	stored := *user
	s.users[user.ID] = &stored
	return user, nil
}

func (s *memUserStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (s *memUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memUserStore) DebitCredits(ctx context.Context, userID int64, amount int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.Credits < amount {
		return false, nil
	}
	u.Credits -= amount
	return true, nil
}

func (s *memUserStore) AddCredits(ctx context.Context, userID int64, amount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %d not found", userID)
	}
	u.Credits += amount
	return nil
}

func (s *memUserStore) balance(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Credits
}

type memLedgerStore struct {
	mu      sync.Mutex
	seq     int64
	entries []models.LedgerEntry

	appendErr error // when set, Append fails
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{}
}

// Write methods refuse cancelled contexts the way ExecContext would.
func (s *memLedgerStore) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.seq++
	entry.ID = s.seq
	if entry.Status == "" {
		entry.Status = "completed"
	}
	entry.CreatedAt = time.Now()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memLedgerStore) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memLedgerStore) SumCredits(ctx context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, e := range s.entries {
		if e.UserID == userID {
			sum += e.Credits
		}
	}
	return sum, nil
}

func (s *memLedgerStore) UsedCreditsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := 0
	for _, e := range s.entries {
		if e.UserID == userID && e.Type == models.EntryUsage && !e.CreatedAt.Before(since) {
			if e.Credits < 0 {
				used -= e.Credits
			} else {
				used += e.Credits
			}
		}
	}
	return used, nil
}

func (s *memLedgerStore) HasEntryForJob(ctx context.Context, jobID string, entryType models.EntryType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.JobID == jobID && e.Type == entryType {
			return true, nil
		}
	}
	return false, nil
}

func (s *memLedgerStore) byType(entryType models.EntryType) []models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.Type == entryType {
			out = append(out, e)
		}
	}
	return out
}

type memJobStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	transitions map[string][]models.JobStatus
	ledger      *memLedgerStore // for ListFailedWithoutRefund
	createErr   error
}

func newMemJobStore(ledger *memLedgerStore) *memJobStore {
	return &memJobStore{
		jobs:        make(map[string]*models.Job),
		transitions: make(map[string][]models.JobStatus),
		ledger:      ledger,
	}
}

func (s *memJobStore) Create(ctx context.Context, job *models.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	job.CreatedAt = time.Now()
	stored := *job
	s.jobs[job.ID] = &stored
	s.transitions[job.ID] = append(s.transitions[job.ID], job.Status)
	return nil
}

func (s *memJobStore) FindByID(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *j
	return &copied, nil
}

func (s *memJobStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return false, nil
	}
	now := time.Now()
	j.Status = models.JobStatusProcessing
	j.StartedAt = &now
	s.transitions[id] = append(s.transitions[id], j.Status)
	return true, nil
}

func (s *memJobStore) MarkCompleted(ctx context.Context, id string, result *models.JobResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing {
		return nil
	}
	now := time.Now()
	j.Status = models.JobStatusCompleted
	j.Result = result
	j.FinishedAt = &now
	s.transitions[id] = append(s.transitions[id], j.Status)
	return nil
}

func (s *memJobStore) MarkFailed(ctx context.Context, id string, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing {
		return nil
	}
	now := time.Now()
	j.Status = models.JobStatusFailed
	j.Error = message
	j.FinishedAt = &now
	s.transitions[id] = append(s.transitions[id], j.Status)
	return nil
}

func (s *memJobStore) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if j.UserID == userID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memJobStore) ListFailedWithoutRefund(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	s.mu.Lock()
	jobs := make([]models.Job, 0)
	for _, j := range s.jobs {
		if j.Status == models.JobStatusFailed && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			jobs = append(jobs, *j)
		}
	}
	s.mu.Unlock()

	var out []models.Job
	for _, j := range jobs {
		hasUsage, _ := s.ledger.HasEntryForJob(ctx, j.ID, models.EntryUsage)
		hasRefund, _ := s.ledger.HasEntryForJob(ctx, j.ID, models.EntryRefund)
		if hasUsage && !hasRefund {
			out = append(out, j)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memJobStore) statusTrail(id string) []models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	trail := make([]models.JobStatus, len(s.transitions[id]))
	copy(trail, s.transitions[id])
	return trail
}

type memPackageStore struct {
	mu       sync.Mutex
	seq      int64
	packages map[int64]*models.CreditPackage
}

func newMemPackageStore() *memPackageStore {
	return &memPackageStore{packages: make(map[int64]*models.CreditPackage)}
}

func (s *memPackageStore) List(ctx context.Context) ([]models.CreditPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditPackage
	for _, p := range s.packages {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Credits < out[k].Credits })
	return out, nil
}

func (s *memPackageStore) GetByID(ctx context.Context, id int64) (*models.CreditPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *memPackageStore) Create(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	pkg.ID = s.seq
	stored := *pkg
	s.packages[pkg.ID] = &stored
	return pkg, nil
}

func (s *memPackageStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packages), nil
}

type memApiKeyStore struct {
	mu   sync.Mutex
	seq  int64
	keys map[int64]*models.ApiKey
}

func newMemApiKeyStore() *memApiKeyStore {
	return &memApiKeyStore{keys: make(map[int64]*models.ApiKey)}
}

func (s *memApiKeyStore) Create(ctx context.Context, key *models.ApiKey) (*models.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	key.ID = s.seq
	key.IsActive = true
	key.CreatedAt = time.Now()
	stored := *key
	s.keys[key.ID] = &stored
	return key, nil
}

func (s *memApiKeyStore) FindActiveByKey(ctx context.Context, secret string) (*models.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Key == secret && k.IsActive {
			copied := *k
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memApiKeyStore) ListByUser(ctx context.Context, userID int64) ([]models.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ApiKey
	for _, k := range s.keys {
		if k.UserID == userID {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID > out[k].ID })
	return out, nil
}

func (s *memApiKeyStore) TouchUsage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now()
		k.UsageCount++
		k.LastUsed = &now
	}
	return nil
}

func (s *memApiKeyStore) Deactivate(ctx context.Context, userID, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.UserID != userID {
		return false, nil
	}
	k.IsActive = false
	return true, nil
}

type memPromoStore struct {
	mu          sync.Mutex
	seq         int64
	promos      map[int64]*models.PromoCode
	redemptions map[string]bool
}

func newMemPromoStore() *memPromoStore {
	return &memPromoStore{promos: make(map[int64]*models.PromoCode), redemptions: make(map[string]bool)}
}

func (s *memPromoStore) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.promos {
		if p.Code == code {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memPromoStore) Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	promo.ID = s.seq
	stored := *promo
	s.promos[promo.ID] = &stored
	return promo, nil
}

func (s *memPromoStore) IncrementUsage(ctx context.Context, promoID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[promoID]
	if !ok || p.Uses >= p.MaxUses {
		return false, nil
	}
	p.Uses++
	return true, nil
}

func (s *memPromoStore) HasUserRedeemed(ctx context.Context, userID, promoID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redemptions[fmt.Sprintf("%d:%d", userID, promoID)], nil
}

func (s *memPromoStore) RecordRedemption(ctx context.Context, userID, promoID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redemptions[fmt.Sprintf("%d:%d", userID, promoID)] = true
	return nil
}

// scriptedSynth returns canned outcomes per attempt, in order. When the
// script runs out the last outcome repeats. A blocking synth waits for
// context cancellation instead.
type scriptedSynth struct {
	mu     sync.Mutex
	calls  []provider.Request
	script []error
	images []provider.Image
	block  bool
	hook   func(attempt int)
}

func (f *scriptedSynth) Generate(ctx context.Context, req provider.Request) ([]provider.Image, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(n)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var outcome error
	if len(f.script) > 0 {
		idx := n - 1
		if idx >= len(f.script) {
			idx = len(f.script) - 1
		}
		outcome = f.script[idx]
	}
	if outcome != nil {
		return nil, outcome
	}
	images := f.images
	if images == nil {
		images = []provider.Image{{URL: "https://cdn.example.com/out.png", Width: req.Width, Height: req.Height}}
	}
	return images, nil
}

func (f *scriptedSynth) Download(ctx context.Context, url string) ([]byte, string, error) {
	return []byte("png-bytes"), "image/png", nil
}

func (f *scriptedSynth) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Model)
	}
	return out
}

type fakeUploader struct {
	url string
	err error
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

var errProviderDown = errors.New("provider error: status=503 model=x body=overloaded")
