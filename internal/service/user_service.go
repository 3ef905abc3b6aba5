package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pixelvault/pixelvault/internal/models"
)

type UserService struct {
	log     *slog.Logger
	users   UserStore
	credits *CreditService
	keys    *ApiKeyService
	bonus   int
}

func NewUserService(log *slog.Logger, users UserStore, credits *CreditService, keys *ApiKeyService, signupBonus int) *UserService {
	return &UserService{log: log, users: users, credits: credits, keys: keys, bonus: signupBonus}
}

// Register creates a user with the signup credit grant and issues the first
// API key. The grant goes through the ledger like every other balance change.
func (s *UserService) Register(ctx context.Context, email string) (*models.User, *models.ApiKey, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, fmt.Errorf("%w: valid email required", ErrInvalidInput)
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("%w: email already registered", ErrInvalidInput)
	}

	user, err := s.users.Create(ctx, &models.User{Email: email})
	if err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.credits.GrantBonus(ctx, user.ID, s.bonus, "signup bonus"); err != nil {
		return nil, nil, err
	}
	user.Credits = s.bonus

	key, err := s.keys.Create(ctx, user.ID, "default")
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("user registered", "user_id", user.ID, "email", email)
	return user, key, nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}
