package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vtuplug/vtuplug/internal/audit"
	"github.com/vtuplug/vtuplug/internal/ledger"
	"github.com/vtuplug/vtuplug/internal/notification"
	"github.com/vtuplug/vtuplug/internal/provider"
	"github.com/vtuplug/vtuplug/internal/wallet"
)

const (
	actorOrchestrator = "orchestrator"
	actorSweeper      = "sweeper"
)

// ErrNotOwner indicates the caller does not own the requested purchase.
var ErrNotOwner = errors.New("not owner of purchase request")

// Deps aggregates the collaborators the orchestrator drives.
type Deps struct {
	Repo     Repository
	Wallets  *wallet.Service
	Ledger   ledger.Ledger
	Provider provider.Client
	Trail    audit.Trail
	Notifier notification.Notifier
	Logger   *slog.Logger

	// MaxReconcileAttempts and ReconcileWindow bound how long an ambiguous
	// purchase may stay unresolved before funds are returned.
	MaxReconcileAttempts int
	ReconcileWindow      time.Duration

	// StaleAfter is how long a request may sit in created, reserved or
	// submitted before the sweeper treats it as abandoned by a dead process.
	StaleAfter time.Duration
}

// Service drives a purchase through reservation, provider submission and
// finalization. Wallet locks are never held across provider calls: Reserve
// completes before the submission starts, and Commit/Release re-enter the
// ledger only after the provider answered.
type Service struct {
	repo        Repository
	wallets     *wallet.Service
	ledger      ledger.Ledger
	provider    provider.Client
	trail       audit.Trail
	notifier    notification.Notifier
	logger      *slog.Logger
	maxAttempts int
	window      time.Duration
	staleAfter  time.Duration
}

// NewService constructs the purchase orchestrator.
func NewService(d Deps) *Service {
	if d.MaxReconcileAttempts <= 0 {
		d.MaxReconcileAttempts = 10
	}
	if d.ReconcileWindow <= 0 {
		d.ReconcileWindow = 6 * time.Hour
	}
	if d.StaleAfter <= 0 {
		d.StaleAfter = 5 * time.Minute
	}
	return &Service{
		repo:        d.Repo,
		wallets:     d.Wallets,
		ledger:      d.Ledger,
		provider:    d.Provider,
		trail:       d.Trail,
		notifier:    d.Notifier,
		logger:      d.Logger,
		maxAttempts: d.MaxReconcileAttempts,
		window:      d.ReconcileWindow,
		staleAfter:  d.StaleAfter,
	}
}

// SubmitInput captures a purchase submission.
type SubmitInput struct {
	UserID         string
	ProductType    ProductType
	Amount         int64
	Target         string
	NetworkID      int
	PlanID         int
	BillerCode     string
	IdempotencyKey string
}

func (in SubmitInput) validate() error {
	switch in.ProductType {
	case ProductAirtime:
		if in.NetworkID <= 0 {
			return fmt.Errorf("network_id is required for airtime")
		}
	case ProductData:
		if in.NetworkID <= 0 || in.PlanID <= 0 {
			return fmt.Errorf("network_id and plan_id are required for data")
		}
	case ProductBill:
		if in.BillerCode == "" {
			return fmt.Errorf("biller_code is required for bills")
		}
	default:
		return fmt.Errorf("unknown product type %q", in.ProductType)
	}
	if in.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if in.Target == "" {
		return fmt.Errorf("target is required")
	}
	if in.IdempotencyKey == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	return nil
}

// Submit runs the purchase to its first resting state. A repeated submission
// with the same idempotency key returns the existing request untouched.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (Request, error) {
	if err := input.validate(); err != nil {
		return Request{}, err
	}

	if existing, err := s.repo.FindByIdempotencyKey(ctx, input.UserID, input.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Request{}, err
	}

	w, err := s.wallets.GetByOwner(ctx, input.UserID)
	if err != nil {
		return Request{}, err
	}

	now := time.Now().UTC()
	req := Request{
		ID:             uuid.NewString(),
		UserID:         input.UserID,
		WalletID:       w.ID,
		ProductType:    input.ProductType,
		Amount:         input.Amount,
		Target:         input.Target,
		NetworkID:      input.NetworkID,
		PlanID:         input.PlanID,
		BillerCode:     input.BillerCode,
		IdempotencyKey: input.IdempotencyKey,
		State:          StateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// Lost the race against a concurrent submission with the same key.
			return s.repo.FindByIdempotencyKey(ctx, input.UserID, input.IdempotencyKey)
		}
		return Request{}, err
	}
	s.trail.Record(ctx, audit.Event{RequestID: req.ID, From: "", To: string(StateCreated), Actor: actorOrchestrator, At: now})

	// Reserve funds. The reservation reference is the idempotency key, so a
	// crashed earlier attempt is absorbed as a duplicate rather than a second
	// debit.
	if _, err := s.ledger.Reserve(ctx, w.ID, req.IdempotencyKey, req.Amount); err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		reason := err.Error()
		req, _ = s.transition(ctx, req.ID, StateCreated, StateFailed, actorOrchestrator, func(r *Request) {
			r.FailureReason = reason
		})
		if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrConcurrencyConflict) {
			return req, err
		}
		return req, fmt.Errorf("reserve funds: %w", err)
	}

	req, err = s.transition(ctx, req.ID, StateCreated, StateReserved, actorOrchestrator, nil)
	if err != nil {
		return req, err
	}
	req, err = s.transition(ctx, req.ID, StateReserved, StateSubmitted, actorOrchestrator, nil)
	if err != nil {
		return req, err
	}

	// Provider call. No ledger state is held here.
	outcome, err := s.submit(ctx, req)
	if err != nil {
		// The request was never sent, so releasing the funds is safe.
		if _, rerr := s.ledger.Release(ctx, w.ID, req.IdempotencyKey, req.Amount); rerr != nil && !errors.Is(rerr, ledger.ErrDuplicateReference) {
			s.logf("release after failed submission", req.ID, rerr)
		}
		reason := err.Error()
		return s.transition(ctx, req.ID, StateSubmitted, StateFailed, actorOrchestrator, func(r *Request) {
			r.FailureReason = reason
		})
	}

	switch outcome.Status {
	case provider.OutcomeSuccess:
		if err := s.commitReservation(ctx, req); err != nil {
			return req, err
		}
		req, err = s.transition(ctx, req.ID, StateSubmitted, StateCompleted, actorOrchestrator, func(r *Request) {
			r.ProviderReference = outcome.Reference
		})
		if err == nil {
			s.notify(ctx, notification.KindPurchaseCompleted, req)
		}
		return req, err

	case provider.OutcomeRejected:
		if _, rerr := s.ledger.Release(ctx, w.ID, req.IdempotencyKey, req.Amount); rerr != nil && !errors.Is(rerr, ledger.ErrDuplicateReference) {
			s.logf("release after rejection", req.ID, rerr)
		}
		return s.transition(ctx, req.ID, StateSubmitted, StateFailed, actorOrchestrator, func(r *Request) {
			r.ProviderReference = outcome.Reference
			r.FailureReason = outcome.Reason
		})

	default:
		// Ambiguous: the wallet keeps the reservation until reconciliation
		// resolves the provider's true outcome.
		return s.transition(ctx, req.ID, StateSubmitted, StateAmbiguous, actorOrchestrator, func(r *Request) {
			r.ProviderReference = outcome.Reference
			r.FailureReason = outcome.Reason
		})
	}
}

// Get returns a request owned by the user.
func (s *Service) Get(ctx context.Context, userID, id string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if userID != "" && req.UserID != userID {
		return Request{}, ErrNotOwner
	}
	return req, nil
}

// List returns the user's requests newest-first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Request, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

// Unresolved returns requests awaiting reconciliation.
func (s *Service) Unresolved(ctx context.Context, limit int) ([]Request, error) {
	return s.repo.ListUnresolved(ctx, limit)
}

// Stale returns requests that have sat in created, reserved or submitted
// beyond the staleness threshold, meaning the process driving them died.
func (s *Service) Stale(ctx context.Context, limit int) ([]Request, error) {
	return s.repo.ListStale(ctx, time.Now().UTC().Add(-s.staleAfter), limit)
}

// Recover resolves one request abandoned mid-submission by a crashed
// process. The submitted transition is stored before provider dispatch, so a
// request still in created or reserved was never sent: its reservation is
// released and the request failed. A stale submitted request may have
// reached the provider and is handed to reconciliation instead.
func (s *Service) Recover(ctx context.Context, id, actor string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}

	switch req.State {
	case StateCreated, StateReserved:
		if _, rerr := s.ledger.Release(ctx, req.WalletID, req.IdempotencyKey, req.Amount); rerr != nil {
			switch {
			case errors.Is(rerr, ledger.ErrReservationNotFound), errors.Is(rerr, ledger.ErrDuplicateReference):
				// Crashed before the reserve landed, or a prior recovery
				// already released it.
			default:
				return req, fmt.Errorf("release abandoned reservation: %w", rerr)
			}
		}
		req, err = s.transition(ctx, req.ID, req.State, StateFailed, actor, func(r *Request) {
			r.FailureReason = "abandoned before provider submission"
		})
		if errors.Is(err, ErrStaleTransition) {
			return req, nil
		}
		return req, err

	case StateSubmitted:
		req, err = s.transition(ctx, req.ID, StateSubmitted, StateAmbiguous, actor, nil)
		if errors.Is(err, ErrStaleTransition) {
			return req, nil
		}
		if err != nil {
			return req, err
		}
		return s.Reconcile(ctx, req.ID, actor)

	default:
		return req, nil
	}
}

// Reconcile drives one ambiguous request toward a terminal state. Safe to
// call concurrently with live orchestration for the same request: every
// transition is state-guarded and every ledger operation idempotent, so
// whichever resolution lands first wins and the loser is a no-op.
func (s *Service) Reconcile(ctx context.Context, id, actor string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.State.Terminal() {
		return req, nil
	}

	if req.State == StateAmbiguous {
		req, err = s.transition(ctx, req.ID, StateAmbiguous, StateReconciling, actor, nil)
		if errors.Is(err, ErrStaleTransition) {
			// Another pass got here first.
			return req, nil
		}
		if err != nil {
			return req, err
		}
	}
	if req.State != StateReconciling {
		return req, nil
	}

	status, err := s.provider.TransactionStatus(ctx, req.IdempotencyKey)
	if err != nil {
		s.logf("status query failed", req.ID, err)
		return s.recordAttempt(ctx, req, actor)
	}

	switch status.State {
	case provider.TxSuccess:
		if err := s.commitReservation(ctx, req); err != nil {
			return req, err
		}
		req, err = s.transition(ctx, req.ID, StateReconciling, StateCompleted, actor, func(r *Request) {
			if status.Reference != "" {
				r.ProviderReference = status.Reference
			}
		})
		if errors.Is(err, ErrStaleTransition) {
			return req, nil
		}
		if err == nil {
			s.notify(ctx, notification.KindPurchaseCompleted, req)
		}
		return req, err

	case provider.TxFailed:
		return s.refund(ctx, req, actor, "provider reported failure")

	default:
		// Pending or unknown: wait for the next sweep unless the budget ran out.
		return s.recordAttempt(ctx, req, actor)
	}
}

// recordAttempt books one reconciliation attempt and either parks the request
// for the next sweep or, once exhausted, forces the refund path.
func (s *Service) recordAttempt(ctx context.Context, req Request, actor string) (Request, error) {
	attempts := req.ReconcileAttempts + 1
	if attempts >= s.maxAttempts || time.Since(req.CreatedAt) > s.window {
		req, err := s.refund(ctx, req, actor, "reconciliation exhausted")
		if err != nil {
			return req, err
		}
		s.notify(ctx, notification.KindReconciliationAlert, req)
		return req, nil
	}
	req, err := s.transition(ctx, req.ID, StateReconciling, StateAmbiguous, actor, func(r *Request) {
		r.ReconcileAttempts = attempts
	})
	if errors.Is(err, ErrStaleTransition) {
		return req, nil
	}
	return req, err
}

func (s *Service) refund(ctx context.Context, req Request, actor, reason string) (Request, error) {
	_, err := s.ledger.Refund(ctx, req.WalletID, req.IdempotencyKey, req.Amount)
	switch {
	case err == nil, errors.Is(err, ledger.ErrDuplicateReference):
	case errors.Is(err, ledger.ErrReservationClosed):
		// The reservation was committed by a racing pass; leave the request
		// for that pass to finalize.
		return req, nil
	default:
		return req, fmt.Errorf("refund reservation: %w", err)
	}

	req, terr := s.transition(ctx, req.ID, StateReconciling, StateRefunded, actor, func(r *Request) {
		r.FailureReason = reason
	})
	if errors.Is(terr, ErrStaleTransition) {
		return req, nil
	}
	if terr == nil {
		s.notify(ctx, notification.KindPurchaseRefunded, req)
	}
	return req, terr
}

func (s *Service) commitReservation(ctx context.Context, req Request) error {
	_, err := s.ledger.Commit(ctx, req.WalletID, req.IdempotencyKey)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return nil
}

func (s *Service) submit(ctx context.Context, req Request) (provider.Outcome, error) {
	switch req.ProductType {
	case ProductAirtime:
		return s.provider.PurchaseAirtime(ctx, provider.AirtimePurchase{
			NetworkID: req.NetworkID,
			Amount:    req.Amount,
			Phone:     req.Target,
			Reference: req.IdempotencyKey,
		})
	case ProductData:
		return s.provider.PurchaseData(ctx, provider.DataPurchase{
			NetworkID: req.NetworkID,
			PlanID:    req.PlanID,
			Phone:     req.Target,
			Reference: req.IdempotencyKey,
		})
	case ProductBill:
		return s.provider.PayBill(ctx, provider.BillPayment{
			BillerCode: req.BillerCode,
			Customer:   req.Target,
			Amount:     req.Amount,
			Reference:  req.IdempotencyKey,
		})
	default:
		return provider.Outcome{}, fmt.Errorf("unknown product type %q", req.ProductType)
	}
}

// transition moves the request and records the audit event. A stale
// transition is surfaced to the caller, which treats it as losing a race.
func (s *Service) transition(ctx context.Context, id string, from, to State, actor string, mutate func(*Request)) (Request, error) {
	req, err := s.repo.Transition(ctx, id, from, to, mutate)
	if err != nil {
		return req, err
	}
	s.trail.Record(ctx, audit.Event{
		RequestID: req.ID,
		From:      string(from),
		To:        string(to),
		Actor:     actor,
		At:        req.UpdatedAt,
	})
	return req, nil
}

func (s *Service) notify(ctx context.Context, kind string, req Request) {
	if s.notifier == nil {
		return
	}
	body := fmt.Sprintf("%s purchase of %d for %s is %s", req.ProductType, req.Amount, req.Target, req.State)
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: req.UserID, Body: body}); err != nil {
		s.logf("notification failed", req.ID, err)
	}
}

func (s *Service) logf(msg, requestID string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, slog.String("request_id", requestID), slog.Any("error", err))
}
