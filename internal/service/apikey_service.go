package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault/internal/models"
)

type ApiKeyService struct {
	log   *slog.Logger
	keys  ApiKeyStore
	users UserStore
}

func NewApiKeyService(log *slog.Logger, keys ApiKeyStore, users UserStore) *ApiKeyService {
	return &ApiKeyService{log: log, keys: keys, users: users}
}

func (s *ApiKeyService) Create(ctx context.Context, userID int64, name string) (*models.ApiKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: key name required", ErrInvalidInput)
	}
	key := &models.ApiKey{
		UserID: userID,
		Name:   name,
		Key:    newSecret(),
	}
	created, err := s.keys.Create(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}
	return created, nil
}

func (s *ApiKeyService) List(ctx context.Context, userID int64) ([]models.ApiKey, error) {
	return s.keys.ListByUser(ctx, userID)
}

func (s *ApiKeyService) Deactivate(ctx context.Context, userID, id int64) error {
	ok, err := s.keys.Deactivate(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Authenticate resolves an API key secret to its owning user. Usage counters
// are bumped best effort; a failed bump never blocks the request.
func (s *ApiKeyService) Authenticate(ctx context.Context, secret string) (*models.User, error) {
	if secret == "" {
		return nil, ErrNotFound
	}
	key, err := s.keys.FindActiveByKey(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if key == nil {
		return nil, ErrNotFound
	}
	if err := s.keys.TouchUsage(ctx, key.ID); err != nil {
		s.log.Warn("touch api key usage failed", "key_id", key.ID, "err", err)
	}
	user, err := s.users.FindByID(ctx, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("load key owner: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func newSecret() string {
	return "pv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
