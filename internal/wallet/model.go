package wallet

import "time"

// Wallet represents a user's stored-value account. Exactly one exists per
// user; the balance lives in the ledger and changes only through it.
type Wallet struct {
	ID        string
	OwnerID   string
	Currency  string
	Status    string
	CreatedAt time.Time
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string
	Amount   int64
	AsOf     time.Time
}
