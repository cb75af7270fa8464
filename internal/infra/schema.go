package infra

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema statements are idempotent so the bootstrap can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id          UUID PRIMARY KEY,
        phone       TEXT NOT NULL UNIQUE,
        tier        TEXT NOT NULL,
        pin_hash    BYTEA NOT NULL,
        device_id   TEXT NOT NULL DEFAULT '',
        created_at  TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS wallets (
        id                  UUID PRIMARY KEY,
        owner_id            UUID NOT NULL UNIQUE REFERENCES users (id),
        currency            TEXT NOT NULL,
        status              TEXT NOT NULL,
        balance             BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
        version             BIGINT NOT NULL DEFAULT 0,
        last_transaction_at TIMESTAMPTZ,
        created_at          TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
        id                UUID PRIMARY KEY,
        wallet_id         UUID NOT NULL REFERENCES wallets (id),
        kind              TEXT NOT NULL,
        reference         TEXT NOT NULL,
        delta             BIGINT NOT NULL,
        resulting_balance BIGINT NOT NULL,
        created_at        TIMESTAMPTZ NOT NULL,
        UNIQUE (wallet_id, kind, reference)
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_resolution_idx
        ON ledger_entries (wallet_id, reference)
        WHERE kind IN ('debit', 'release', 'refund')`,
	`CREATE TABLE IF NOT EXISTS purchase_requests (
        id                 UUID PRIMARY KEY,
        user_id            UUID NOT NULL REFERENCES users (id),
        wallet_id          UUID NOT NULL REFERENCES wallets (id),
        product_type       TEXT NOT NULL,
        amount             BIGINT NOT NULL,
        target             TEXT NOT NULL,
        network_id         INT NOT NULL DEFAULT 0,
        plan_id            INT NOT NULL DEFAULT 0,
        biller_code        TEXT NOT NULL DEFAULT '',
        idempotency_key    TEXT NOT NULL,
        state              TEXT NOT NULL,
        provider_reference TEXT NOT NULL DEFAULT '',
        failure_reason     TEXT NOT NULL DEFAULT '',
        reconcile_attempts INT NOT NULL DEFAULT 0,
        created_at         TIMESTAMPTZ NOT NULL,
        updated_at         TIMESTAMPTZ NOT NULL,
        UNIQUE (user_id, idempotency_key)
    )`,
	`CREATE INDEX IF NOT EXISTS purchase_requests_pending_idx
        ON purchase_requests (state) WHERE state IN ('ambiguous', 'reconciling')`,
	`CREATE INDEX IF NOT EXISTS purchase_requests_stale_idx
        ON purchase_requests (updated_at) WHERE state IN ('created', 'reserved', 'submitted')`,
	`CREATE TABLE IF NOT EXISTS audit_events (
        id         UUID PRIMARY KEY,
        request_id UUID NOT NULL,
        from_state TEXT NOT NULL,
        to_state   TEXT NOT NULL,
        actor      TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    )`,
}

// EnsureSchema creates the tables and indexes the service relies on.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
