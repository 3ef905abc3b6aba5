package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pixelvault/pixelvault/internal/models"
	"github.com/pixelvault/pixelvault/internal/service"
)

type registerRequest struct {
	Email string `json:"email"`
}

type registerResponse struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Credits int    `json:"credits"`
	ApiKey  string `json:"api_key"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, key, err := s.users.Register(r.Context(), req.Email)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, registerResponse{
		ID:      user.ID,
		Email:   user.Email,
		Credits: user.Credits,
		ApiKey:  key.Key,
	})
}

type submitJobRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Model          string `json:"model"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

type jobResponse struct {
	ID             string            `json:"id"`
	Prompt         string            `json:"prompt"`
	NegativePrompt string            `json:"negative_prompt,omitempty"`
	Model          string            `json:"model"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	Status         models.JobStatus  `json:"status"`
	Result         *models.JobResult `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
}

func toJobResponse(job *models.Job) jobResponse {
	return jobResponse{
		ID:             job.ID,
		Prompt:         job.Prompt,
		NegativePrompt: job.NegativePrompt,
		Model:          job.ModelChoice,
		Width:          job.Width,
		Height:         job.Height,
		Status:         job.Status,
		Result:         job.Result,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	job, err := s.jobs.Submit(r.Context(), user.ID, service.SubmitRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          req.Model,
		Width:          req.Width,
		Height:         req.Height,
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	page, limit := pageParams(r)
	jobs, err := s.jobs.List(r.Context(), user.ID, page, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  out,
		"page":  page,
		"limit": limit,
	})
}

type purchaseRequest struct {
	PackageID     int64  `json:"package_id"`
	PaymentMethod string `json:"payment_method"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	balance, err := s.billing.Purchase(r.Context(), user.ID, req.PackageID, req.PaymentMethod)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"credits": balance})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.billing.Packages(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	type packageResponse struct {
		ID         int64  `json:"id"`
		Name       string `json:"name"`
		Credits    int    `json:"credits"`
		PriceCents int    `json:"price_cents"`
		Currency   string `json:"currency"`
	}
	out := make([]packageResponse, 0, len(packages))
	for _, p := range packages {
		out = append(out, packageResponse{ID: p.ID, Name: p.Name, Credits: p.Credits, PriceCents: p.PriceCents, Currency: p.Currency})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type transactionResponse struct {
	ID            int64            `json:"id"`
	Type          models.EntryType `json:"type"`
	AmountCents   int              `json:"amount_cents,omitempty"`
	Credits       int              `json:"credits"`
	Description   string           `json:"description,omitempty"`
	Status        string           `json:"status"`
	JobID         string           `json:"job_id,omitempty"`
	PackageID     int64            `json:"package_id,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	page, limit := pageParams(r)
	entries, err := s.credits.Transactions(r.Context(), user.ID, page, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, transactionResponse{
			ID:            e.ID,
			Type:          e.Type,
			AmountCents:   e.AmountCents,
			Credits:       e.Credits,
			Description:   e.Description,
			Status:        e.Status,
			JobID:         e.JobID,
			PackageID:     e.PackageID,
			PaymentMethod: e.PaymentMethod,
			CreatedAt:     e.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"transactions": out,
		"page":         page,
		"limit":        limit,
	})
}

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	balance, err := s.credits.Balance(r.Context(), user.ID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	used, err := s.credits.UsedThisMonth(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"credits":         balance,
		"used_this_month": used,
	})
}

type redeemPromoRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req redeemPromoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	granted, err := s.promos.Redeem(r.Context(), user.ID, req.Code)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"granted_credits": granted})
}

type createKeyRequest struct {
	Name string `json:"name"`
}

type keyResponse struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key,omitempty"`
	UsageCount int        `json:"usage_count"`
	IsActive   bool       `json:"is_active"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	key, err := s.keys.Create(r.Context(), user.ID, req.Name)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	// The secret is shown in full only on creation.
	s.writeJSON(w, http.StatusCreated, keyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Key:       key.Key,
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt,
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	keys, err := s.keys.List(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyResponse{
			ID:         k.ID,
			Name:       k.Name,
			Key:        maskKey(k.Key),
			UsageCount: k.UsageCount,
			IsActive:   k.IsActive,
			LastUsed:   k.LastUsed,
			CreatedAt:  k.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeactivateKey(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.keys.Deactivate(r.Context(), user.ID, id); err != nil {
		s.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:6] + "…" + key[len(key)-4:]
}
