package wallet

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/vtuplug/vtuplug/internal/ledger"
)

func TestServiceCreateAndBalance(t *testing.T) {
	repo := NewMemoryRepository()
	led := ledger.NewInMemory()
	svc := NewService(repo, led)

	ctx := context.Background()
	ownerID := uuid.NewString()
	w, err := svc.Create(ctx, CreateInput{OwnerID: ownerID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if w.Currency != "NGN" {
		t.Fatalf("expected NGN default currency, got %s", w.Currency)
	}

	fetched, err := svc.GetByOwner(ctx, ownerID)
	if err != nil {
		t.Fatalf("get by owner: %v", err)
	}
	if fetched.ID != w.ID {
		t.Fatalf("expected wallet %s, got %s", w.ID, fetched.ID)
	}

	ledger.SeedBalance(led, w.ID, 2_500)

	balance, err := svc.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 2_500 {
		t.Fatalf("expected balance 2500, got %d", balance.Amount)
	}
}

func TestTopUpIsIdempotentOnReference(t *testing.T) {
	repo := NewMemoryRepository()
	led := ledger.NewInMemory()
	svc := NewService(repo, led)

	ctx := context.Background()
	ownerID := uuid.NewString()
	w, err := svc.Create(ctx, CreateInput{OwnerID: ownerID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	first, err := svc.TopUp(ctx, TopUpInput{OwnerID: ownerID, Amount: 5_000, Reference: "pay-1"})
	if err != nil {
		t.Fatalf("top up: %v", err)
	}

	second, err := svc.TopUp(ctx, TopUpInput{OwnerID: ownerID, Amount: 5_000, Reference: "pay-1"})
	if err != nil {
		t.Fatalf("repeated top up should be a no-op, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the original entry back, got %s vs %s", second.ID, first.ID)
	}

	balance, err := svc.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 5_000 {
		t.Fatalf("expected 5000 after duplicate top up, got %d", balance.Amount)
	}
}

func TestTopUpRequiresReference(t *testing.T) {
	repo := NewMemoryRepository()
	led := ledger.NewInMemory()
	svc := NewService(repo, led)

	ctx := context.Background()
	ownerID := uuid.NewString()
	if _, err := svc.Create(ctx, CreateInput{OwnerID: ownerID}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	if _, err := svc.TopUp(ctx, TopUpInput{OwnerID: ownerID, Amount: 100}); err == nil {
		t.Fatal("expected error for missing reference")
	}
}
