package purchase

import "time"

// State is a purchase request's position in its lifecycle.
type State string

const (
	StateCreated     State = "created"
	StateReserved    State = "reserved"
	StateSubmitted   State = "submitted"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateAmbiguous   State = "ambiguous"
	StateReconciling State = "reconciling"
	StateRefunded    State = "refunded"
)

// Terminal reports whether no further transition may leave the state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateRefunded:
		return true
	default:
		return false
	}
}

// ProductType identifies what the purchase buys.
type ProductType string

const (
	ProductAirtime ProductType = "airtime"
	ProductData    ProductType = "data"
	ProductBill    ProductType = "bill"
)

// Request is one user-initiated spend attempt. It is mutated only by the
// orchestrator; its idempotency key doubles as the ledger reference and the
// customer reference submitted to the provider.
type Request struct {
	ID                string
	UserID            string
	WalletID          string
	ProductType       ProductType
	Amount            int64
	Target            string
	NetworkID         int
	PlanID            int
	BillerCode        string
	IdempotencyKey    string
	State             State
	ProviderReference string
	FailureReason     string
	ReconcileAttempts int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
