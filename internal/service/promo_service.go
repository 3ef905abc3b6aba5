package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pixelvault/pixelvault/internal/models"
)

var (
	ErrPromoInvalid         = errors.New("promo code invalid")
	ErrPromoExhausted       = errors.New("promo code exhausted")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
)

type PromoStore interface {
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error)
	IncrementUsage(ctx context.Context, promoID int64) (bool, error)
	HasUserRedeemed(ctx context.Context, userID, promoID int64) (bool, error)
	RecordRedemption(ctx context.Context, userID, promoID int64) error
}

type PromoService struct {
	log     *slog.Logger
	promos  PromoStore
	credits *CreditService
}

func NewPromoService(log *slog.Logger, promos PromoStore, credits *CreditService) *PromoService {
	return &PromoService{log: log, promos: promos, credits: credits}
}

// Redeem grants the promo's credits as a bonus ledger entry. One redemption
// per user per code; the bounded usage increment claims a slot before any
// credit moves, so an oversubscribed code cannot over-grant.
func (s *PromoService) Redeem(ctx context.Context, userID int64, code string) (int, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, ErrPromoInvalid
	}

	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return 0, ErrPromoInvalid
	}

	redeemed, err := s.promos.HasUserRedeemed(ctx, userID, promo.ID)
	if err != nil {
		return 0, err
	}
	if redeemed {
		return 0, ErrPromoAlreadyRedeemed
	}

	claimed, err := s.promos.IncrementUsage(ctx, promo.ID)
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, ErrPromoExhausted
	}

	if err := s.promos.RecordRedemption(ctx, userID, promo.ID); err != nil {
		return 0, err
	}

	if err := s.credits.GrantBonus(ctx, userID, promo.Credits, fmt.Sprintf("promo code %s", promo.Code)); err != nil {
		return 0, err
	}

	s.log.Info("promo redeemed", "user_id", userID, "promo_id", promo.ID, "credits", promo.Credits)
	return promo.Credits, nil
}
