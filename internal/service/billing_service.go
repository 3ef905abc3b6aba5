package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pixelvault/pixelvault/internal/models"
)

// BillingService sells credit packages. Payment verification is a stub
// boundary: the price and payment method are recorded on the ledger entry
// but no gateway is consulted.
type BillingService struct {
	log      *slog.Logger
	packages PackageStore
	users    UserStore
	ledger   LedgerStore
	currency string
}

func NewBillingService(log *slog.Logger, packages PackageStore, users UserStore, ledger LedgerStore, currency string) *BillingService {
	return &BillingService{log: log, packages: packages, users: users, ledger: ledger, currency: currency}
}

// EnsureDefaultPackages seeds the catalog on first boot.
func (s *BillingService) EnsureDefaultPackages(ctx context.Context) error {
	count, err := s.packages.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []models.CreditPackage{
		{Name: "Starter", Credits: 50, PriceCents: 499, Currency: s.currency, IsActive: true},
		{Name: "Creator", Credits: 200, PriceCents: 1499, Currency: s.currency, IsActive: true},
		{Name: "Studio", Credits: 1000, PriceCents: 5999, Currency: s.currency, IsActive: true},
	}
	for i := range defaults {
		if _, err := s.packages.Create(ctx, &defaults[i]); err != nil {
			return fmt.Errorf("seed package %q: %w", defaults[i].Name, err)
		}
	}
	s.log.Info("seeded default credit packages", "count", len(defaults))
	return nil
}

func (s *BillingService) Packages(ctx context.Context) ([]models.CreditPackage, error) {
	return s.packages.List(ctx)
}

// Purchase credits the user with the package's credit amount and appends the
// purchase ledger entry. Returns the new balance.
func (s *BillingService) Purchase(ctx context.Context, userID, packageID int64, paymentMethod string) (int, error) {
	pkg, err := s.packages.GetByID(ctx, packageID)
	if err != nil {
		return 0, err
	}
	if pkg == nil || !pkg.IsActive {
		return 0, fmt.Errorf("%w: unknown package id %d", ErrInvalidInput, packageID)
	}

	if err := s.users.AddCredits(ctx, userID, pkg.Credits); err != nil {
		return 0, fmt.Errorf("credit purchase: %w", err)
	}

	entry := &models.LedgerEntry{
		UserID:        userID,
		Type:          models.EntryPurchase,
		AmountCents:   pkg.PriceCents,
		Credits:       pkg.Credits,
		Description:   fmt.Sprintf("purchase of %s package", pkg.Name),
		PackageID:     pkg.ID,
		PaymentMethod: paymentMethod,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("record purchase entry: %w", err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, ErrNotFound
	}

	s.log.Info("package purchased", "user_id", userID, "package_id", pkg.ID, "credits", pkg.Credits, "method", paymentMethod)
	return user.Credits, nil
}
