package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vtuplug/vtuplug/internal/ledger"
)

const (
	statusActive    = "active"
	defaultCurrency = "NGN"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// TopUpInput captures a funding credit. Reference is the payment gateway's
// transaction reference and doubles as the idempotency key.
type TopUpInput struct {
	OwnerID   string
	Amount    int64
	Reference string
	Method    string
}

// Create provisions a wallet and registers it with the ledger.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, err
	}

	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	w := Wallet{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Currency:  currency,
		Status:    statusActive,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, w); err != nil {
		return Wallet{}, err
	}
	if err := s.ledger.CreateWallet(ctx, w.ID); err != nil {
		return Wallet{}, err
	}

	return w, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the user's wallet.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Balance returns the ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, w.ID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// TopUp credits the owner's wallet, idempotent on the payment reference. A
// repeated reference returns the original entry instead of crediting twice.
func (s *Service) TopUp(ctx context.Context, input TopUpInput) (ledger.Entry, error) {
	if input.Amount <= 0 {
		return ledger.Entry{}, fmt.Errorf("amount must be positive")
	}
	if input.Reference == "" {
		return ledger.Entry{}, fmt.Errorf("payment reference is required")
	}

	w, err := s.repo.GetByOwner(ctx, input.OwnerID)
	if err != nil {
		return ledger.Entry{}, err
	}

	entry, err := s.ledger.Credit(ctx, w.ID, input.Reference, input.Amount)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return entry, nil
	}
	return entry, err
}
