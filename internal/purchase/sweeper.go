package purchase

import (
	"context"
	"log/slog"
	"time"
)

const sweepBatchSize = 100

// Sweeper periodically drives ambiguous purchases through reconciliation.
// Sweeps are safe to run concurrently with live orchestration: every step is
// idempotent and state-guarded.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper builds the reconciliation sweeper.
func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run loops until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: first it recovers requests a dead process abandoned
// mid-submission, then it reconciles the unresolved ones.
func (s *Sweeper) Sweep(ctx context.Context) {
	stale, err := s.service.Stale(ctx, sweepBatchSize)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("list stale purchases", slog.Any("error", err))
		}
	} else {
		for _, req := range stale {
			if ctx.Err() != nil {
				return
			}
			if _, err := s.service.Recover(ctx, req.ID, actorSweeper); err != nil {
				s.warn("recover purchase", req, err)
			}
		}
	}

	requests, err := s.service.Unresolved(ctx, sweepBatchSize)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("list unresolved purchases", slog.Any("error", err))
		}
		return
	}

	for _, req := range requests {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.service.Reconcile(ctx, req.ID, actorSweeper); err != nil {
			s.warn("reconcile purchase", req, err)
		}
	}
}

func (s *Sweeper) warn(msg string, req Request, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg,
		slog.String("request_id", req.ID),
		slog.String("state", string(req.State)),
		slog.Any("error", err),
	)
}
