package ledger

// SeedBalance is a test helper that seeds a wallet balance directly when
// using the in-memory ledger, bypassing entry bookkeeping.
func SeedBalance(l Ledger, walletID string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		w, exists := mem.wallets[walletID]
		if !exists {
			w = &walletState{byKey: make(map[string]Entry)}
			mem.wallets[walletID] = w
		}
		mem.mu.Unlock()

		w.mu.Lock()
		w.balance = amount
		w.mu.Unlock()
	}
}
