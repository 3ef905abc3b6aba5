package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pixelvault/pixelvault/internal/models"
	"github.com/pixelvault/pixelvault/internal/service"
)

type Server struct {
	addr    string
	log     *slog.Logger
	users   *service.UserService
	jobs    *service.JobService
	credits *service.CreditService
	billing *service.BillingService
	keys    *service.ApiKeyService
	promos  *service.PromoService
	router  *chi.Mux
}

func NewServer(addr string, log *slog.Logger, users *service.UserService, jobs *service.JobService, credits *service.CreditService, billing *service.BillingService, keys *service.ApiKeyService, promos *service.PromoService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:    addr,
		log:     log,
		users:   users,
		jobs:    jobs,
		credits: credits,
		billing: billing,
		keys:    keys,
		promos:  promos,
		router:  r,
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", s.handleRegister)
		r.Get("/packages", s.handleListPackages)

		r.Group(func(protected chi.Router) {
			protected.Use(s.apiKeyMiddleware())
			protected.Post("/jobs", s.handleSubmitJob)
			protected.Get("/jobs", s.handleListJobs)
			protected.Get("/jobs/{id}", s.handleGetJob)
			protected.Post("/purchases", s.handlePurchase)
			protected.Get("/transactions", s.handleListTransactions)
			protected.Get("/credits", s.handleGetCredits)
			protected.Post("/promo/redeem", s.handleRedeemPromo)
			protected.Route("/keys", func(r chi.Router) {
				r.Get("/", s.handleListKeys)
				r.Post("/", s.handleCreateKey)
				r.Delete("/{id}", s.handleDeactivateKey)
			})
		})
	})

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type contextKey string

const userContextKey contextKey = "user"

func (s *Server) apiKeyMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := bearerToken(r)
			if secret == "" {
				s.writeError(w, http.StatusUnauthorized, "api key required")
				return
			}
			user, err := s.keys.Authenticate(r.Context(), secret)
			if err != nil {
				if errors.Is(err, service.ErrNotFound) {
					s.writeError(w, http.StatusUnauthorized, "invalid api key")
					return
				}
				s.internalError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}

func userFrom(r *http.Request) *models.User {
	user, _ := r.Context().Value(userContextKey).(*models.User)
	return user
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

// serviceError maps the service error taxonomy onto HTTP statuses.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInsufficientCredits):
		s.writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, service.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrPromoInvalid), errors.Is(err, service.ErrPromoExhausted), errors.Is(err, service.ErrPromoAlreadyRedeemed):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.internalError(w, err)
	}
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return page, limit
}
