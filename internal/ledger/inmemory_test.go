package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, walletID string, balance int64) Ledger {
	t.Helper()
	l := NewInMemory()
	ctx := context.Background()
	require.NoError(t, l.CreateWallet(ctx, walletID))
	if balance > 0 {
		_, err := l.Credit(ctx, walletID, "seed", balance)
		require.NoError(t, err)
	}
	return l
}

func sumDeltas(t *testing.T, l Ledger, walletID string) int64 {
	t.Helper()
	entries, err := l.Entries(context.Background(), walletID)
	require.NoError(t, err)
	var total int64
	for _, e := range entries {
		total += e.Delta
	}
	return total
}

func TestReserveExhaustsBalance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "w1", 1000)

	entry, err := l.Reserve(ctx, "w1", "r1", 1000)
	require.NoError(t, err)
	require.Equal(t, int64(0), entry.ResultingBalance)

	_, err = l.Reserve(ctx, "w1", "r2", 1)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := l.Balance(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
	require.Equal(t, balance, sumDeltas(t, l, "w1"))
}

func TestReserveIdempotentOnReference(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "w1", 5000)

	first, err := l.Reserve(ctx, "w1", "r1", 500)
	require.NoError(t, err)

	again, err := l.Reserve(ctx, "w1", "r1", 500)
	require.ErrorIs(t, err, ErrDuplicateReference)
	require.Equal(t, first.ID, again.ID)

	balance, _ := l.Balance(ctx, "w1")
	require.Equal(t, int64(4500), balance)
}

func TestCreditIdempotentOnReference(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "w1", 0)

	first, err := l.Credit(ctx, "w1", "topup-1", 2000)
	require.NoError(t, err)

	again, err := l.Credit(ctx, "w1", "topup-1", 2000)
	require.ErrorIs(t, err, ErrDuplicateReference)
	require.Equal(t, first.ID, again.ID)

	balance, _ := l.Balance(ctx, "w1")
	require.Equal(t, int64(2000), balance)
	require.Equal(t, balance, sumDeltas(t, l, "w1"))
}

func TestCommitLeavesBalanceUntouched(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "w1", 1000)

	_, err := l.Reserve(ctx, "w1", "r1", 400)
	require.NoError(t, err)

	entry, err := l.Commit(ctx, "w1", "r1")
	require.NoError(t, err)
	require.Equal(t, KindDebit, entry.Kind)
	require.Equal(t, int64(0), entry.Delta)

	balance, _ := l.Balance(ctx, "w1")
	require.Equal(t, int64(600), balance)
	require.Equal(t, balance, sumDeltas(t, l, "w1"))
}

func TestReleaseRestoresBalance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "w1", 1000)

	_, err := l.Reserve(ctx, "w1", "r1", 400)
	require.NoError(t, err)

	entry, err := l.Release(ctx, "w1", "r1", 400)
	require.NoError(t, err)
	require.Equal(t, int64(1000), entry.ResultingBalance)
	require.Equal(t, entry.ResultingBalance, sumDeltas(t, l, "w1"))
}

func TestCommittedReservationCannotBeReleased(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "w1", 1000)

	_, err := l.Reserve(ctx, "w1", "r1", 400)
	require.NoError(t, err)
	_, err = l.Commit(ctx, "w1", "r1")
	require.NoError(t, err)

	_, err = l.Release(ctx, "w1", "r1", 400)
	require.ErrorIs(t, err, ErrReservationClosed)
	_, err = l.Refund(ctx, "w1", "r1", 400)
	require.ErrorIs(t, err, ErrReservationClosed)

	balance, _ := l.Balance(ctx, "w1")
	require.Equal(t, int64(600), balance)
}

func TestReleasedReservationCannotBeCommitted(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "w1", 1000)

	_, err := l.Reserve(ctx, "w1", "r1", 400)
	require.NoError(t, err)
	_, err = l.Release(ctx, "w1", "r1", 400)
	require.NoError(t, err)

	_, err = l.Commit(ctx, "w1", "r1")
	require.ErrorIs(t, err, ErrReservationClosed)

	balance, _ := l.Balance(ctx, "w1")
	require.Equal(t, int64(1000), balance)
}

func TestCommitWithoutReservation(t *testing.T) {
	l := newTestLedger(t, "w1", 1000)
	_, err := l.Commit(context.Background(), "w1", "ghost")
	require.ErrorIs(t, err, ErrReservationNotFound)
}

func TestUnknownWallet(t *testing.T) {
	l := NewInMemory()
	_, err := l.Balance(context.Background(), "missing")
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, "w1", 1000)

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := l.Reserve(ctx, "w1", fmt.Sprintf("r%d", n), 100)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful reservations, got %d", succeeded)
	}

	balance, err := l.Balance(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
	require.Equal(t, balance, sumDeltas(t, l, "w1"))
}

func TestConcurrentCommitAndRefundResolveOnce(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		walletID := fmt.Sprintf("w%d", i)
		l := newTestLedger(t, walletID, 1000)
		_, err := l.Reserve(ctx, walletID, "ref", 400)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		errs := make(chan error, 2)
		go func() {
			defer wg.Done()
			_, err := l.Commit(ctx, walletID, "ref")
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := l.Refund(ctx, walletID, "ref", 400)
			errs <- err
		}()
		wg.Wait()
		close(errs)

		won := 0
		for err := range errs {
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrReservationClosed):
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, won, "exactly one resolution must land")

		entries, err := l.Entries(ctx, walletID)
		require.NoError(t, err)
		terminal := 0
		for _, e := range entries {
			if e.Kind == KindDebit || e.Kind == KindRefund {
				terminal++
			}
		}
		require.Equal(t, 1, terminal, "reservation resolved more than once")

		balance, err := l.Balance(ctx, walletID)
		require.NoError(t, err)
		require.Equal(t, balance, sumDeltas(t, l, walletID))
	}
}

func TestSeedBalanceHelper(t *testing.T) {
	l := NewInMemory()
	SeedBalance(l, "w1", 7500)

	balance, err := l.Balance(context.Background(), "w1")
	require.NoError(t, err)
	require.Equal(t, int64(7500), balance)
}
