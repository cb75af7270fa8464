package purchase

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no request matches the lookup.
	ErrNotFound = errors.New("purchase request not found")

	// ErrDuplicateKey indicates another request already carries the same
	// (user, idempotency key) pair.
	ErrDuplicateKey = errors.New("idempotency key already used")

	// ErrStaleTransition indicates the request was no longer in the expected
	// state; the caller lost a race and must treat the operation as a no-op.
	ErrStaleTransition = errors.New("stale state transition")
)

// Repository persists purchase requests. Transition is the only mutation
// path and is a compare-and-set on the current state, so concurrent
// orchestration and reconciliation passes can never both move one request.
type Repository interface {
	Create(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (Request, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (Request, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Request, error)

	// ListUnresolved returns requests awaiting reconciliation (ambiguous or
	// reconciling), oldest-first.
	ListUnresolved(ctx context.Context, limit int) ([]Request, error)

	// ListStale returns requests stuck in created, reserved or submitted with
	// no update since olderThan, oldest-first. These are left behind when the
	// process dies mid-submission.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Request, error)

	// Transition atomically moves the request from one state to another,
	// applying mutate to the stored record first. Returns ErrStaleTransition
	// when the request is not in the expected from state.
	Transition(ctx context.Context, id string, from, to State, mutate func(*Request)) (Request, error)
}
