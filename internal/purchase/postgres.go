package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"

	selectColumns = `id, user_id, wallet_id, product_type, amount, target, network_id, plan_id,
        biller_code, idempotency_key, state, provider_reference, failure_reason,
        reconcile_attempts, created_at, updated_at`
)

// PostgresRepository stores purchase requests in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a request; the unique (user_id, idempotency_key) index turns
// a racing duplicate submission into ErrDuplicateKey.
func (r *PostgresRepository) Create(ctx context.Context, req Request) error {
	_, err := r.db.Exec(ctx, `INSERT INTO purchase_requests
        (id, user_id, wallet_id, product_type, amount, target, network_id, plan_id,
         biller_code, idempotency_key, state, provider_reference, failure_reason,
         reconcile_attempts, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		req.ID, req.UserID, req.WalletID, string(req.ProductType), req.Amount, req.Target,
		req.NetworkID, req.PlanID, req.BillerCode, req.IdempotencyKey, string(req.State),
		req.ProviderReference, req.FailureReason, req.ReconcileAttempts,
		req.CreatedAt.UTC(), req.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
	}
	return err
}

// Get fetches a request by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Request{}, ErrNotFound
	}
	return scanRequest(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM purchase_requests WHERE id = $1`, id))
}

// FindByIdempotencyKey fetches the request a user already submitted under a key.
func (r *PostgresRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (Request, error) {
	return scanRequest(r.db.QueryRow(ctx, `SELECT `+selectColumns+`
        FROM purchase_requests WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
}

// ListByUser returns the user's requests newest-first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+`
        FROM purchase_requests WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

// ListUnresolved returns requests awaiting reconciliation, oldest-first.
func (r *PostgresRepository) ListUnresolved(ctx context.Context, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+`
        FROM purchase_requests WHERE state IN ('ambiguous', 'reconciling')
        ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

// ListStale returns requests stuck before a provider verdict, oldest-first.
func (r *PostgresRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+`
        FROM purchase_requests WHERE state IN ('created', 'reserved', 'submitted')
        AND updated_at < $1 ORDER BY updated_at LIMIT $2`, olderThan.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

// Transition compare-and-sets the state, applying mutate under the row lock.
func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to State, mutate func(*Request)) (Request, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Request{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	req, err := scanRequest(tx.QueryRow(ctx, `SELECT `+selectColumns+`
        FROM purchase_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Request{}, err
	}
	if req.State != from {
		return req, ErrStaleTransition
	}

	if mutate != nil {
		mutate(&req)
	}
	req.State = to
	req.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, `UPDATE purchase_requests
        SET state = $2, provider_reference = $3, failure_reason = $4,
            reconcile_attempts = $5, updated_at = $6
        WHERE id = $1`,
		req.ID, string(req.State), req.ProviderReference, req.FailureReason,
		req.ReconcileAttempts, req.UpdatedAt); err != nil {
		return Request{}, err
	}

	return req, tx.Commit(ctx)
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req              Request
		id, userID, wid  uuid.UUID
		productType      string
		state            string
		created, updated time.Time
	)
	err := row.Scan(&id, &userID, &wid, &productType, &req.Amount, &req.Target,
		&req.NetworkID, &req.PlanID, &req.BillerCode, &req.IdempotencyKey, &state,
		&req.ProviderReference, &req.FailureReason, &req.ReconcileAttempts, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, err
	}
	req.ID = id.String()
	req.UserID = userID.String()
	req.WalletID = wid.String()
	req.ProductType = ProductType(productType)
	req.State = State(state)
	req.CreatedAt = created.UTC()
	req.UpdatedAt = updated.UTC()
	return req, nil
}

func scanRequests(rows pgx.Rows) ([]Request, error) {
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
