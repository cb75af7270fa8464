package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Static is a scriptable in-process provider used in tests and development
// mode. By default every purchase succeeds with a synthetic reference.
type Static struct {
	mu sync.Mutex

	// PurchaseOutcome, when set, is returned for every purchase submission.
	PurchaseOutcome *Outcome

	// StatusByReference scripts reconciliation answers per customer reference.
	StatusByReference map[string]TransactionStatus

	// StatusErr, when set, is returned by TransactionStatus to simulate an
	// unreachable provider.
	StatusErr error

	// Purchases records every submission for assertions.
	Purchases []string
}

// NewStatic builds a provider stub with all-success defaults.
func NewStatic() *Static {
	return &Static{StatusByReference: make(map[string]TransactionStatus)}
}

func (s *Static) AccountBalance(_ context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1_000_000), nil
}

func (s *Static) Networks(_ context.Context) ([]Network, error) {
	return []Network{{ID: 1, Name: "MTN"}, {ID: 2, Name: "Airtel"}, {ID: 3, Name: "Glo"}, {ID: 4, Name: "9mobile"}}, nil
}

func (s *Static) DataPlans(_ context.Context) ([]DataPlan, error) {
	return []DataPlan{
		{ID: 101, NetworkID: 1, Name: "1GB 30 days", Price: decimal.NewFromInt(300), Validity: "30 days"},
		{ID: 102, NetworkID: 1, Name: "2GB 30 days", Price: decimal.NewFromInt(600), Validity: "30 days"},
	}, nil
}

func (s *Static) PurchaseAirtime(ctx context.Context, in AirtimePurchase) (Outcome, error) {
	return s.record(in.Reference)
}

func (s *Static) PurchaseData(ctx context.Context, in DataPurchase) (Outcome, error) {
	return s.record(in.Reference)
}

func (s *Static) PayBill(ctx context.Context, in BillPayment) (Outcome, error) {
	return s.record(in.Reference)
}

func (s *Static) TransactionStatus(_ context.Context, reference string) (TransactionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatusErr != nil {
		return TransactionStatus{}, s.StatusErr
	}
	if ts, ok := s.StatusByReference[reference]; ok {
		return ts, nil
	}
	return TransactionStatus{State: TxUnknown, Reference: reference}, nil
}

func (s *Static) record(reference string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Purchases = append(s.Purchases, reference)
	if s.PurchaseOutcome != nil {
		out := *s.PurchaseOutcome
		if out.Reference == "" && out.Status == OutcomeSuccess {
			out.Reference = uuid.NewString()
		}
		return out, nil
	}
	return Outcome{Status: OutcomeSuccess, Reference: uuid.NewString()}, nil
}
