package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when the wallet lacks available balance to
	// cover a requested reservation.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateReference indicates the (wallet, kind, reference) tuple was
	// already applied. The original entry is returned alongside so callers can
	// treat the repeat as a no-op.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrConcurrencyConflict is returned after the bounded optimistic-update
	// retry budget is exhausted.
	ErrConcurrencyConflict = errors.New("concurrent wallet update conflict")

	// ErrWalletNotFound indicates the wallet id is unknown to the ledger.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrReservationNotFound indicates commit/release was called for a
	// reference that was never reserved.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrReservationClosed indicates the reservation was already resolved the
	// other way: a committed reservation cannot be released and vice versa.
	ErrReservationClosed = errors.New("reservation already resolved")
)

// Entry kinds. Every balance mutation appends exactly one entry; a commit
// appends a zero-delta debit marker so the running sum still equals balance.
const (
	KindCredit  = "credit"
	KindReserve = "reserve"
	KindRelease = "release"
	KindRefund  = "refund"
	KindDebit   = "debit"
)

// maxUpdateRetries bounds optimistic version-conflict retries per operation.
const maxUpdateRetries = 5

// Entry is the immutable record of one wallet balance mutation.
type Entry struct {
	ID               string
	WalletID         string
	Kind             string
	Reference        string
	Delta            int64
	ResultingBalance int64
	CreatedAt        time.Time
}

// Ledger owns wallet balances. Every mutating operation is idempotent on
// (wallet_id, kind, reference): a repeated call returns the original entry
// with ErrDuplicateReference instead of applying twice.
type Ledger interface {
	// CreateWallet registers a wallet with a zero balance.
	CreateWallet(ctx context.Context, walletID string) error

	// Balance returns the wallet's committed balance.
	Balance(ctx context.Context, walletID string) (int64, error)

	// Reserve provisionally debits amount if balance >= amount.
	Reserve(ctx context.Context, walletID, reference string, amount int64) (Entry, error)

	// Release reverses a prior reservation that never reached the provider or
	// was definitively rejected before fulfillment.
	Release(ctx context.Context, walletID, reference string, amount int64) (Entry, error)

	// Refund reverses a reservation after reconciliation concluded the
	// purchase never happened. Financially identical to Release, recorded
	// under its own kind for the audit trail.
	Refund(ctx context.Context, walletID, reference string, amount int64) (Entry, error)

	// Commit marks a reservation as permanently spent. The balance does not
	// move; the reservation already debited it.
	Commit(ctx context.Context, walletID, reference string) (Entry, error)

	// Credit tops up the wallet.
	Credit(ctx context.Context, walletID, reference string, amount int64) (Entry, error)

	// Entries lists a wallet's entries oldest-first.
	Entries(ctx context.Context, walletID string) ([]Entry, error)
}
