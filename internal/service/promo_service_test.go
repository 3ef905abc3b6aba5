package service

import (
	"context"
	"errors"
	"testing"

	"github.com/pixelvault/pixelvault/internal/models"
)

func newPromoFixture() (*PromoService, *memUserStore, *memPromoStore, *memLedgerStore) {
	users := newMemUserStore()
	ledger := newMemLedgerStore()
	jobs := newMemJobStore(ledger)
	promos := newMemPromoStore()
	credits := NewCreditService(testLogger(), users, jobs, ledger)
	return NewPromoService(testLogger(), promos, credits), users, promos, ledger
}

func TestRedeemGrantsCredits(t *testing.T) {
	svc, users, promos, ledger := newPromoFixture()
	ctx := context.Background()
	user := users.addUser("a@example.com", 0)
	if _, err := promos.Create(ctx, &models.PromoCode{Code: "LAUNCH25", Credits: 25, MaxUses: 10}); err != nil {
		t.Fatalf("create promo: %v", err)
	}

	granted, err := svc.Redeem(ctx, user.ID, "LAUNCH25")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if granted != 25 {
		t.Errorf("granted = %d, want 25", granted)
	}
	if balance := users.balance(user.ID); balance != 25 {
		t.Errorf("balance = %d, want 25", balance)
	}
	if bonuses := ledger.byType(models.EntryBonus); len(bonuses) != 1 {
		t.Errorf("bonus entries = %d, want 1", len(bonuses))
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	svc, users, _, _ := newPromoFixture()
	user := users.addUser("a@example.com", 0)

	for _, code := range []string{"", "   ", "NOPE"} {
		if _, err := svc.Redeem(context.Background(), user.ID, code); !errors.Is(err, ErrPromoInvalid) {
			t.Errorf("Redeem(%q) err = %v, want ErrPromoInvalid", code, err)
		}
	}
}

func TestRedeemOncePerUser(t *testing.T) {
	svc, users, promos, _ := newPromoFixture()
	ctx := context.Background()
	user := users.addUser("a@example.com", 0)
	if _, err := promos.Create(ctx, &models.PromoCode{Code: "ONCE", Credits: 5, MaxUses: 10}); err != nil {
		t.Fatalf("create promo: %v", err)
	}

	if _, err := svc.Redeem(ctx, user.ID, "ONCE"); err != nil {
		t.Fatalf("first Redeem: %v", err)
	}
	if _, err := svc.Redeem(ctx, user.ID, "ONCE"); !errors.Is(err, ErrPromoAlreadyRedeemed) {
		t.Fatalf("second Redeem err = %v, want ErrPromoAlreadyRedeemed", err)
	}
	if balance := users.balance(user.ID); balance != 5 {
		t.Errorf("balance = %d, want 5 (single grant)", balance)
	}
}

func TestRedeemExhaustedCode(t *testing.T) {
	svc, users, promos, _ := newPromoFixture()
	ctx := context.Background()
	first := users.addUser("a@example.com", 0)
	second := users.addUser("b@example.com", 0)
	if _, err := promos.Create(ctx, &models.PromoCode{Code: "TINY", Credits: 5, MaxUses: 1}); err != nil {
		t.Fatalf("create promo: %v", err)
	}

	if _, err := svc.Redeem(ctx, first.ID, "TINY"); err != nil {
		t.Fatalf("first Redeem: %v", err)
	}
	if _, err := svc.Redeem(ctx, second.ID, "TINY"); !errors.Is(err, ErrPromoExhausted) {
		t.Fatalf("second Redeem err = %v, want ErrPromoExhausted", err)
	}
	if balance := users.balance(second.ID); balance != 0 {
		t.Errorf("second user balance = %d, want 0", balance)
	}
}
