package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// walletState serializes all mutations for one wallet behind its own mutex,
// so unrelated wallets never contend.
type walletState struct {
	mu      sync.Mutex
	balance int64
	entries []Entry
	byKey   map[string]Entry // kind + ":" + reference
}

type inMemoryLedger struct {
	mu      sync.RWMutex
	wallets map[string]*walletState
}

// NewInMemory creates a concurrency-safe in-memory ledger used in tests and
// in development mode without a database.
func NewInMemory() Ledger {
	return &inMemoryLedger{wallets: make(map[string]*walletState)}
}

func (l *inMemoryLedger) CreateWallet(_ context.Context, walletID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.wallets[walletID]; !exists {
		l.wallets[walletID] = &walletState{byKey: make(map[string]Entry)}
	}
	return nil
}

func (l *inMemoryLedger) state(walletID string) (*walletState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return w, nil
}

func (l *inMemoryLedger) Balance(_ context.Context, walletID string) (int64, error) {
	w, err := l.state(walletID)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance, nil
}

func (l *inMemoryLedger) Reserve(_ context.Context, walletID, reference string, amount int64) (Entry, error) {
	if amount <= 0 {
		return Entry{}, ErrInsufficientFunds
	}
	w, err := l.state(walletID)
	if err != nil {
		return Entry{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if prior, exists := w.byKey[KindReserve+":"+reference]; exists {
		return prior, ErrDuplicateReference
	}
	if w.balance < amount {
		return Entry{}, ErrInsufficientFunds
	}
	return w.append(walletID, KindReserve, reference, -amount), nil
}

func (l *inMemoryLedger) Release(ctx context.Context, walletID, reference string, amount int64) (Entry, error) {
	return l.reverse(walletID, KindRelease, reference, amount)
}

func (l *inMemoryLedger) Refund(ctx context.Context, walletID, reference string, amount int64) (Entry, error) {
	return l.reverse(walletID, KindRefund, reference, amount)
}

func (l *inMemoryLedger) reverse(walletID, kind, reference string, amount int64) (Entry, error) {
	w, err := l.state(walletID)
	if err != nil {
		return Entry{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if prior, exists := w.byKey[kind+":"+reference]; exists {
		return prior, ErrDuplicateReference
	}
	res, reserved := w.byKey[KindReserve+":"+reference]
	if !reserved {
		return Entry{}, ErrReservationNotFound
	}
	if w.resolved(reference, kind) {
		return Entry{}, ErrReservationClosed
	}
	if amount != -res.Delta {
		return Entry{}, fmt.Errorf("reversal amount %d does not match reservation %d", amount, -res.Delta)
	}
	return w.append(walletID, kind, reference, amount), nil
}

func (l *inMemoryLedger) Commit(_ context.Context, walletID, reference string) (Entry, error) {
	w, err := l.state(walletID)
	if err != nil {
		return Entry{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if prior, exists := w.byKey[KindDebit+":"+reference]; exists {
		return prior, ErrDuplicateReference
	}
	if _, reserved := w.byKey[KindReserve+":"+reference]; !reserved {
		return Entry{}, ErrReservationNotFound
	}
	if w.resolved(reference, KindDebit) {
		return Entry{}, ErrReservationClosed
	}
	return w.append(walletID, KindDebit, reference, 0), nil
}

func (l *inMemoryLedger) Credit(_ context.Context, walletID, reference string, amount int64) (Entry, error) {
	if amount <= 0 {
		return Entry{}, ErrInsufficientFunds
	}
	w, err := l.state(walletID)
	if err != nil {
		return Entry{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if prior, exists := w.byKey[KindCredit+":"+reference]; exists {
		return prior, ErrDuplicateReference
	}
	return w.append(walletID, KindCredit, reference, amount), nil
}

func (l *inMemoryLedger) Entries(_ context.Context, walletID string) ([]Entry, error) {
	w, err := l.state(walletID)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out, nil
}

// resolved reports whether the reservation was already closed by a terminal
// entry of a different kind than the one now being attempted.
func (w *walletState) resolved(reference, attempting string) bool {
	for _, kind := range []string{KindDebit, KindRelease, KindRefund} {
		if kind == attempting {
			continue
		}
		if _, closed := w.byKey[kind+":"+reference]; closed {
			return true
		}
	}
	return false
}

// append mutates the balance and records the entry. Caller holds w.mu.
func (w *walletState) append(walletID, kind, reference string, delta int64) Entry {
	w.balance += delta
	entry := Entry{
		ID:               uuid.NewString(),
		WalletID:         walletID,
		Kind:             kind,
		Reference:        reference,
		Delta:            delta,
		ResultingBalance: w.balance,
		CreatedAt:        time.Now().UTC(),
	}
	w.entries = append(w.entries, entry)
	w.byKey[kind+":"+reference] = entry
	return entry
}
