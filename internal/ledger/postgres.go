package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresLedger persists wallet balances and entries in PostgreSQL. Balance
// updates are guarded by an optimistic version token on the wallet row and
// retried a bounded number of times on conflict, so concurrent operations on
// one wallet serialize without a process-wide lock.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// CreateWallet verifies the wallet row exists. Row creation belongs to the
// wallet repository, which knows the owner.
func (l *PostgresLedger) CreateWallet(ctx context.Context, walletID string) error {
	var one int
	err := l.db.QueryRow(ctx, `SELECT 1 FROM wallets WHERE id = $1`, walletID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrWalletNotFound
	}
	return err
}

// Balance returns the committed balance for the wallet.
func (l *PostgresLedger) Balance(ctx context.Context, walletID string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx, `SELECT balance FROM wallets WHERE id = $1`, walletID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrWalletNotFound
	}
	return balance, err
}

// Reserve provisionally debits the wallet if funds suffice.
func (l *PostgresLedger) Reserve(ctx context.Context, walletID, reference string, amount int64) (Entry, error) {
	if amount <= 0 {
		return Entry{}, ErrInsufficientFunds
	}
	return l.mutate(ctx, walletID, KindReserve, reference, -amount, func(balance int64) error {
		if balance < amount {
			return ErrInsufficientFunds
		}
		return nil
	})
}

// Release reverses a reservation that never reached fulfillment.
func (l *PostgresLedger) Release(ctx context.Context, walletID, reference string, amount int64) (Entry, error) {
	return l.reverse(ctx, walletID, KindRelease, reference, amount)
}

// Refund reverses a reservation after reconciliation concluded no fulfillment happened.
func (l *PostgresLedger) Refund(ctx context.Context, walletID, reference string, amount int64) (Entry, error) {
	return l.reverse(ctx, walletID, KindRefund, reference, amount)
}

// Credit tops up the wallet, idempotent on reference.
func (l *PostgresLedger) Credit(ctx context.Context, walletID, reference string, amount int64) (Entry, error) {
	if amount <= 0 {
		return Entry{}, ErrInsufficientFunds
	}
	return l.mutate(ctx, walletID, KindCredit, reference, amount, nil)
}

// Commit records the terminal debit marker for a reservation. The balance is
// untouched; the reservation already carried the decrement.
func (l *PostgresLedger) Commit(ctx context.Context, walletID, reference string) (Entry, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Lock the wallet row before inspecting the reservation. Commit never
	// bumps the wallet version, so without the lock a concurrent reversal
	// could pass its reservation check while this debit is still uncommitted.
	var balance int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrWalletNotFound
		}
		return Entry{}, err
	}

	if prior, found, err := entryByKey(ctx, tx, walletID, KindDebit, reference); err != nil {
		return Entry{}, err
	} else if found {
		return prior, ErrDuplicateReference
	}

	if err := checkReservationOpen(ctx, tx, walletID, reference, KindDebit); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:               uuid.NewString(),
		WalletID:         walletID,
		Kind:             KindDebit,
		Reference:        reference,
		Delta:            0,
		ResultingBalance: balance,
		CreatedAt:        time.Now().UTC(),
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			return l.resolveViolation(ctx, walletID, KindDebit, reference)
		}
		return Entry{}, err
	}

	return entry, tx.Commit(ctx)
}

// Entries lists a wallet's entries oldest-first.
func (l *PostgresLedger) Entries(ctx context.Context, walletID string) ([]Entry, error) {
	rows, err := l.db.Query(ctx, `SELECT id, wallet_id, kind, reference, delta, resulting_balance, created_at
        FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at, id`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			id        uuid.UUID
			wid       uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&id, &wid, &e.Kind, &e.Reference, &e.Delta, &e.ResultingBalance, &createdAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.WalletID = wid.String()
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *PostgresLedger) reverse(ctx context.Context, walletID, kind, reference string, amount int64) (Entry, error) {
	if amount <= 0 {
		return Entry{}, ErrReservationNotFound
	}
	return l.mutate(ctx, walletID, kind, reference, amount, nil)
}

// mutate applies one balance change with the optimistic version check,
// retrying on conflict up to maxUpdateRetries.
func (l *PostgresLedger) mutate(ctx context.Context, walletID, kind, reference string, delta int64, precondition func(balance int64) error) (Entry, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		entry, retry, err := l.tryMutate(ctx, walletID, kind, reference, delta, precondition)
		if retry {
			continue
		}
		return entry, err
	}
	return Entry{}, ErrConcurrencyConflict
}

func (l *PostgresLedger) tryMutate(ctx context.Context, walletID, kind, reference string, delta int64, precondition func(balance int64) error) (Entry, bool, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, false, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Reversals take the wallet row lock so the reservation check cannot
	// race a concurrent Commit, which writes no wallet update the version
	// token could catch. Reserve and credit stay on the optimistic path.
	walletQuery := `SELECT balance, version FROM wallets WHERE id = $1`
	if kind == KindRelease || kind == KindRefund {
		walletQuery += ` FOR UPDATE`
	}
	var balance, version int64
	err = tx.QueryRow(ctx, walletQuery, walletID).Scan(&balance, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, ErrWalletNotFound
	}
	if err != nil {
		return Entry{}, false, err
	}

	if prior, found, err := entryByKey(ctx, tx, walletID, kind, reference); err != nil {
		return Entry{}, false, err
	} else if found {
		return prior, false, ErrDuplicateReference
	}

	if kind == KindRelease || kind == KindRefund {
		if err := checkReservationOpen(ctx, tx, walletID, reference, kind); err != nil {
			return Entry{}, false, err
		}
		res, _, err := entryByKey(ctx, tx, walletID, KindReserve, reference)
		if err != nil {
			return Entry{}, false, err
		}
		if delta != -res.Delta {
			return Entry{}, false, fmt.Errorf("reversal amount %d does not match reservation %d", delta, -res.Delta)
		}
	}

	if precondition != nil {
		if err := precondition(balance); err != nil {
			return Entry{}, false, err
		}
	}

	tag, err := tx.Exec(ctx, `UPDATE wallets
        SET balance = balance + $2, version = version + 1, last_transaction_at = $3
        WHERE id = $1 AND version = $4 AND balance + $2 >= 0`,
		walletID, delta, time.Now().UTC(), version)
	if err != nil {
		return Entry{}, false, err
	}
	if tag.RowsAffected() == 0 {
		// Version moved underneath us; roll back and retry.
		return Entry{}, true, nil
	}

	entry := Entry{
		ID:               uuid.NewString(),
		WalletID:         walletID,
		Kind:             kind,
		Reference:        reference,
		Delta:            delta,
		ResultingBalance: balance + delta,
		CreatedAt:        time.Now().UTC(),
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			prior, derr := l.resolveViolation(ctx, walletID, kind, reference)
			return prior, false, derr
		}
		return Entry{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, false, err
	}
	return entry, false, nil
}

// resolveViolation classifies a unique-index failure after our transaction
// rolled back: the same entry already exists (idempotent duplicate), or the
// terminal-resolution index fired because another kind closed the
// reservation first.
func (l *PostgresLedger) resolveViolation(ctx context.Context, walletID, kind, reference string) (Entry, error) {
	prior, found, err := entryByKey(ctx, l.db, walletID, kind, reference)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, ErrReservationClosed
	}
	return prior, ErrDuplicateReference
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func entryByKey(ctx context.Context, q querier, walletID, kind, reference string) (Entry, bool, error) {
	row := q.QueryRow(ctx, `SELECT id, wallet_id, kind, reference, delta, resulting_balance, created_at
        FROM ledger_entries WHERE wallet_id = $1 AND kind = $2 AND reference = $3`, walletID, kind, reference)
	var (
		e         Entry
		id        uuid.UUID
		wid       uuid.UUID
		createdAt time.Time
	)
	err := row.Scan(&id, &wid, &e.Kind, &e.Reference, &e.Delta, &e.ResultingBalance, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.ID = id.String()
	e.WalletID = wid.String()
	e.CreatedAt = createdAt.UTC()
	return e, true, nil
}

// checkReservationOpen ensures a reservation exists for the reference and no
// terminal entry of another kind already resolved it.
func checkReservationOpen(ctx context.Context, q querier, walletID, reference, attempting string) error {
	rows, err := q.Query(ctx, `SELECT kind FROM ledger_entries WHERE wallet_id = $1 AND reference = $2`, walletID, reference)
	if err != nil {
		return err
	}
	defer rows.Close()

	reserved := false
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return err
		}
		switch kind {
		case KindReserve:
			reserved = true
		case KindDebit, KindRelease, KindRefund:
			if kind != attempting {
				return ErrReservationClosed
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if !reserved {
		return ErrReservationNotFound
	}
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, entry Entry) error {
	_, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, wallet_id, kind, reference, delta, resulting_balance, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.WalletID, entry.Kind, entry.Reference, entry.Delta, entry.ResultingBalance, entry.CreatedAt)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
