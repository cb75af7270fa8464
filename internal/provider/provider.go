// Package provider wraps the external VTU aggregator's HTTP API. Purchase
// submissions are not idempotent upstream, so the package never retries them;
// anything short of a definitive answer is reported as an ambiguous outcome
// and resolved later through TransactionStatus.
package provider

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// OutcomeStatus is the trichotomy every purchase call resolves to.
type OutcomeStatus string

const (
	// OutcomeSuccess means the provider confirmed fulfillment.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeRejected means the provider definitively refused the purchase.
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeAmbiguous means the call may or may not have been fulfilled
	// (timeout, 5xx, malformed body). Requires a status query, never a retry
	// of the purchase itself.
	OutcomeAmbiguous OutcomeStatus = "ambiguous"
)

// Outcome is the result of one purchase submission.
type Outcome struct {
	Status    OutcomeStatus
	Reference string
	Reason    string
	Raw       json.RawMessage
}

// TxState is the provider's view of a previously submitted transaction.
type TxState string

const (
	TxPending TxState = "pending"
	TxSuccess TxState = "success"
	TxFailed  TxState = "failed"
	TxUnknown TxState = "unknown"
)

// TransactionStatus is the answer to a reconciliation status query.
type TransactionStatus struct {
	State     TxState
	Reference string
	Raw       json.RawMessage
}

// Network is a mobile network operator offered by the aggregator.
type Network struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DataPlan is a purchasable data bundle.
type DataPlan struct {
	ID        int             `json:"id"`
	NetworkID int             `json:"network_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Validity  string          `json:"validity"`
}

// AirtimePurchase submits prepaid airtime to a phone number. Amount is in
// kobo; the wire format carries naira.
type AirtimePurchase struct {
	NetworkID int
	Amount    int64
	Phone     string
	Reference string
}

// DataPurchase submits a data bundle to a phone number.
type DataPurchase struct {
	NetworkID int
	PlanID    int
	Phone     string
	Reference string
}

// BillPayment settles a bill (electricity, TV, ...) for a customer reference.
type BillPayment struct {
	BillerCode string
	Customer   string
	Amount     int64
	Reference  string
}

// Client is the aggregator contract. Purchase methods return a non-nil error
// only when the request was never sent (bad config, marshaling); once the
// wire was touched, every failure mode is folded into the Outcome so funds
// are not released on guesswork. TransactionStatus is idempotent and safely
// retryable.
type Client interface {
	AccountBalance(ctx context.Context) (decimal.Decimal, error)
	Networks(ctx context.Context) ([]Network, error)
	DataPlans(ctx context.Context) ([]DataPlan, error)
	PurchaseAirtime(ctx context.Context, in AirtimePurchase) (Outcome, error)
	PurchaseData(ctx context.Context, in DataPurchase) (Outcome, error)
	PayBill(ctx context.Context, in BillPayment) (Outcome, error)
	TransactionStatus(ctx context.Context, reference string) (TransactionStatus, error)
}
