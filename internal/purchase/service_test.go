package purchase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vtuplug/vtuplug/internal/audit"
	"github.com/vtuplug/vtuplug/internal/ledger"
	"github.com/vtuplug/vtuplug/internal/logging"
	"github.com/vtuplug/vtuplug/internal/provider"
	"github.com/vtuplug/vtuplug/internal/wallet"
)

type fixture struct {
	service  *Service
	repo     Repository
	ledger   ledger.Ledger
	provider *provider.Static
	trail    *audit.MemoryTrail
	wallet   wallet.Wallet
	userID   string
}

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()
	ctx := context.Background()

	led := ledger.NewInMemory()
	walletSvc := wallet.NewService(wallet.NewMemoryRepository(), led)

	userID := uuid.NewString()
	w, err := walletSvc.Create(ctx, wallet.CreateInput{OwnerID: userID})
	require.NoError(t, err)
	if balance > 0 {
		_, err = walletSvc.TopUp(ctx, wallet.TopUpInput{OwnerID: userID, Amount: balance, Reference: "seed"})
		require.NoError(t, err)
	}

	prov := provider.NewStatic()
	trail := audit.NewMemoryTrail()
	repo := NewMemoryRepository()
	svc := NewService(Deps{
		Repo:                 repo,
		Wallets:              walletSvc,
		Ledger:               led,
		Provider:             prov,
		Trail:                trail,
		Logger:               logging.Discard(),
		MaxReconcileAttempts: 3,
		ReconcileWindow:      time.Hour,
		StaleAfter:           time.Minute,
	})

	return &fixture{service: svc, repo: repo, ledger: led, provider: prov, trail: trail, wallet: w, userID: userID}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), f.wallet.ID)
	require.NoError(t, err)
	return balance
}

func (f *fixture) entrySum(t *testing.T) int64 {
	t.Helper()
	entries, err := f.ledger.Entries(context.Background(), f.wallet.ID)
	require.NoError(t, err)
	var total int64
	for _, e := range entries {
		total += e.Delta
	}
	return total
}

func airtimeInput(userID, key string, amount int64) SubmitInput {
	return SubmitInput{
		UserID:         userID,
		ProductType:    ProductAirtime,
		Amount:         amount,
		Target:         "08030000000",
		NetworkID:      1,
		IdempotencyKey: key,
	}
}

func TestSubmitSuccessCommitsReservation(t *testing.T) {
	f := newFixture(t, 10_000)
	ctx := context.Background()

	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "k1", 2_000))
	require.NoError(t, err)
	require.Equal(t, StateCompleted, req.State)
	require.NotEmpty(t, req.ProviderReference)

	require.Equal(t, int64(8_000), f.balance(t))
	require.Equal(t, f.balance(t), f.entrySum(t))
}

func TestSubmitInsufficientFundsFailsWithoutProviderCall(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()

	// Exhaust the balance, then try one kobo more.
	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "r1", 1_000))
	require.NoError(t, err)
	require.Equal(t, StateCompleted, req.State)
	require.Equal(t, int64(0), f.balance(t))

	req, err = f.service.Submit(ctx, airtimeInput(f.userID, "r2", 1))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.Equal(t, StateFailed, req.State)
	require.Equal(t, int64(0), f.balance(t))

	// Only the first purchase reached the provider.
	require.Equal(t, []string{"r1"}, f.provider.Purchases)
}

func TestSubmitRejectionReleasesFunds(t *testing.T) {
	// A definitive rejection releases the reservation in full.
	f := newFixture(t, 10_000)
	f.provider.PurchaseOutcome = &provider.Outcome{Status: provider.OutcomeRejected, Reason: "invalid phone"}
	ctx := context.Background()

	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "r4", 500))
	require.NoError(t, err)
	require.Equal(t, StateFailed, req.State)
	require.Equal(t, "invalid phone", req.FailureReason)

	require.Equal(t, int64(10_000), f.balance(t))
	require.Equal(t, f.balance(t), f.entrySum(t))
}

func TestSubmitAmbiguousHoldsReservation(t *testing.T) {
	f := newFixture(t, 10_000)
	f.provider.PurchaseOutcome = &provider.Outcome{Status: provider.OutcomeAmbiguous, Reason: "timeout"}
	ctx := context.Background()

	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "r3", 500))
	require.NoError(t, err)
	require.Equal(t, StateAmbiguous, req.State)

	// The wallet stays debited until reconciliation answers.
	require.Equal(t, int64(9_500), f.balance(t))
}

func TestReconcileConfirmsSuccess(t *testing.T) {
	// Timed out on submission, then the provider confirms success.
	f := newFixture(t, 10_000)
	f.provider.PurchaseOutcome = &provider.Outcome{Status: provider.OutcomeAmbiguous, Reason: "timeout"}
	ctx := context.Background()

	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "r3", 500))
	require.NoError(t, err)

	f.provider.StatusByReference["r3"] = provider.TransactionStatus{State: provider.TxSuccess, Reference: "SP-9"}

	req, err = f.service.Reconcile(ctx, req.ID, actorSweeper)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, req.State)
	require.Equal(t, "SP-9", req.ProviderReference)

	// Exactly one debit, no second one.
	require.Equal(t, int64(9_500), f.balance(t))
	require.Equal(t, f.balance(t), f.entrySum(t))
}

func TestReconcileConfirmedFailureRefunds(t *testing.T) {
	f := newFixture(t, 10_000)
	f.provider.PurchaseOutcome = &provider.Outcome{Status: provider.OutcomeAmbiguous, Reason: "timeout"}
	ctx := context.Background()

	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "r5", 500))
	require.NoError(t, err)

	f.provider.StatusByReference["r5"] = provider.TransactionStatus{State: provider.TxFailed}

	req, err = f.service.Reconcile(ctx, req.ID, actorSweeper)
	require.NoError(t, err)
	require.Equal(t, StateRefunded, req.State)
	require.Equal(t, int64(10_000), f.balance(t))
	require.Equal(t, f.balance(t), f.entrySum(t))
}

func TestReconcileExhaustionRefunds(t *testing.T) {
	f := newFixture(t, 10_000)
	f.provider.PurchaseOutcome = &provider.Outcome{Status: provider.OutcomeAmbiguous, Reason: "timeout"}
	ctx := context.Background()

	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "r6", 500))
	require.NoError(t, err)

	// Provider keeps answering unknown; the third attempt exhausts the budget.
	for i := 0; i < 3; i++ {
		req, err = f.service.Reconcile(ctx, req.ID, actorSweeper)
		require.NoError(t, err)
	}
	require.Equal(t, StateRefunded, req.State)
	require.Equal(t, "reconciliation exhausted", req.FailureReason)
	require.Equal(t, int64(10_000), f.balance(t))
}

func TestReconcileIsNoOpOnTerminalState(t *testing.T) {
	// A completed purchase must not be released even if the provider later
	// reports failure.
	f := newFixture(t, 10_000)
	ctx := context.Background()

	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "k1", 2_000))
	require.NoError(t, err)
	require.Equal(t, StateCompleted, req.State)

	f.provider.StatusByReference["k1"] = provider.TransactionStatus{State: provider.TxFailed}

	again, err := f.service.Reconcile(ctx, req.ID, actorSweeper)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, again.State)
	require.Equal(t, int64(8_000), f.balance(t))
}

func TestSubmitIdempotencyKeyReturnsExistingRequest(t *testing.T) {
	// A repeated idempotency key replays the stored request.
	f := newFixture(t, 10_000)
	f.provider.PurchaseOutcome = &provider.Outcome{Status: provider.OutcomeAmbiguous, Reason: "timeout"}
	ctx := context.Background()

	first, err := f.service.Submit(ctx, airtimeInput(f.userID, "k1", 500))
	require.NoError(t, err)

	second, err := f.service.Submit(ctx, airtimeInput(f.userID, "k1", 500))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.State, second.State)

	// One reservation, one provider call.
	require.Equal(t, int64(9_500), f.balance(t))
	require.Equal(t, []string{"k1"}, f.provider.Purchases)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, 10_000)
	ctx := context.Background()

	cases := []SubmitInput{
		{UserID: f.userID, ProductType: ProductAirtime, Amount: 100, Target: "0803", NetworkID: 1},        // no key
		{UserID: f.userID, ProductType: ProductAirtime, Amount: 0, Target: "0803", NetworkID: 1, IdempotencyKey: "k"},
		{UserID: f.userID, ProductType: ProductAirtime, Amount: 100, NetworkID: 1, IdempotencyKey: "k"},   // no target
		{UserID: f.userID, ProductType: ProductAirtime, Amount: 100, Target: "0803", IdempotencyKey: "k"}, // no network
		{UserID: f.userID, ProductType: ProductData, Amount: 100, Target: "0803", NetworkID: 1, IdempotencyKey: "k"},
		{UserID: f.userID, ProductType: ProductBill, Amount: 100, Target: "meter", IdempotencyKey: "k"},
		{UserID: f.userID, ProductType: "epin", Amount: 100, Target: "0803", IdempotencyKey: "k"},
	}
	for _, input := range cases {
		if _, err := f.service.Submit(ctx, input); err == nil {
			t.Fatalf("expected validation error for %+v", input)
		}
	}

	// Nothing reached the wallet or the provider.
	require.Equal(t, int64(10_000), f.balance(t))
	require.Empty(t, f.provider.Purchases)
}

func TestAuditTrailRecordsTransitions(t *testing.T) {
	f := newFixture(t, 10_000)
	ctx := context.Background()

	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "k1", 500))
	require.NoError(t, err)

	var path []string
	for _, event := range f.trail.Events() {
		if event.RequestID == req.ID {
			path = append(path, event.To)
		}
	}
	require.Equal(t, []string{"created", "reserved", "submitted", "completed"}, path)
}

func TestUnreachableProviderCountsAttempt(t *testing.T) {
	f := newFixture(t, 10_000)
	f.provider.PurchaseOutcome = &provider.Outcome{Status: provider.OutcomeAmbiguous, Reason: "timeout"}
	ctx := context.Background()

	req, err := f.service.Submit(ctx, airtimeInput(f.userID, "r7", 500))
	require.NoError(t, err)

	f.provider.StatusErr = context.DeadlineExceeded

	req, err = f.service.Reconcile(ctx, req.ID, actorSweeper)
	require.NoError(t, err)
	require.Equal(t, StateAmbiguous, req.State)
	require.Equal(t, 1, req.ReconcileAttempts)

	// Funds stay held while the provider is unreachable.
	require.Equal(t, int64(9_500), f.balance(t))
}
