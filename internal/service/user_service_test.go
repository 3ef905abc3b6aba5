package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pixelvault/pixelvault/internal/models"
)

func newUserFixture(signupBonus int) (*UserService, *memUserStore, *memLedgerStore, *memApiKeyStore) {
	users := newMemUserStore()
	ledger := newMemLedgerStore()
	jobs := newMemJobStore(ledger)
	keys := newMemApiKeyStore()
	credits := NewCreditService(testLogger(), users, jobs, ledger)
	keySvc := NewApiKeyService(testLogger(), keys, users)
	return NewUserService(testLogger(), users, credits, keySvc, signupBonus), users, ledger, keys
}

func TestRegisterGrantsBonusAndIssuesKey(t *testing.T) {
	svc, users, ledger, keys := newUserFixture(10)

	user, key, err := svc.Register(context.Background(), "  New@Example.COM ")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if user.Email != "new@example.com" {
		t.Errorf("email = %q, want normalized lowercase", user.Email)
	}
	if user.Credits != 10 {
		t.Errorf("credits = %d, want 10", user.Credits)
	}
	if balance := users.balance(user.ID); balance != 10 {
		t.Errorf("stored balance = %d, want 10", balance)
	}

	bonuses := ledger.byType(models.EntryBonus)
	if len(bonuses) != 1 || bonuses[0].Credits != 10 {
		t.Errorf("bonus entries = %+v, want one for 10 credits", bonuses)
	}

	if key == nil || !strings.HasPrefix(key.Key, "pv_") {
		t.Fatalf("api key = %+v, want a pv_ secret", key)
	}
	owned, _ := keys.ListByUser(context.Background(), user.ID)
	if len(owned) != 1 || owned[0].Name != "default" {
		t.Errorf("keys = %+v, want one default key", owned)
	}
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	svc, _, _, _ := newUserFixture(10)

	for _, email := range []string{"", "   ", "not-an-email"} {
		if _, _, err := svc.Register(context.Background(), email); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Register(%q) err = %v, want ErrInvalidInput", email, err)
		}
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newUserFixture(10)

	if _, _, err := svc.Register(context.Background(), "a@example.com"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, _, err := svc.Register(context.Background(), "A@Example.com"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate Register err = %v, want ErrInvalidInput", err)
	}
}

func TestRegisterZeroBonusSkipsLedger(t *testing.T) {
	svc, _, ledger, _ := newUserFixture(0)

	user, _, err := svc.Register(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Credits != 0 {
		t.Errorf("credits = %d, want 0", user.Credits)
	}
	if bonuses := ledger.byType(models.EntryBonus); len(bonuses) != 0 {
		t.Errorf("bonus entries = %d, want 0", len(bonuses))
	}
}

func TestGetUnknownUser(t *testing.T) {
	svc, _, _, _ := newUserFixture(10)

	if _, err := svc.Get(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
