// Package audit records purchase state transitions on an append-only trail.
// The trail is a pure observer: a failed write is logged and swallowed, never
// surfaced to the financial operation it describes.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one recorded state transition.
type Event struct {
	RequestID string
	From      string
	To        string
	Actor     string
	At        time.Time
}

// Trail receives one event per state transition.
type Trail interface {
	Record(ctx context.Context, event Event)
}

// PostgresTrail appends events to the audit_events table.
type PostgresTrail struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresTrail builds a Postgres-backed trail.
func NewPostgresTrail(db *pgxpool.Pool, logger *slog.Logger) *PostgresTrail {
	return &PostgresTrail{db: db, logger: logger}
}

// Record appends the event, logging and swallowing any failure.
func (t *PostgresTrail) Record(ctx context.Context, event Event) {
	_, err := t.db.Exec(ctx, `INSERT INTO audit_events (id, request_id, from_state, to_state, actor, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), event.RequestID, event.From, event.To, event.Actor, event.At.UTC())
	if err != nil && t.logger != nil {
		t.logger.Warn("audit write failed",
			slog.String("request_id", event.RequestID),
			slog.String("from", event.From),
			slog.String("to", event.To),
			slog.Any("error", err),
		)
	}
}

// LogTrail writes transitions to the structured logger only.
type LogTrail struct {
	logger *slog.Logger
}

// NewLogTrail builds a logging trail for development mode.
func NewLogTrail(logger *slog.Logger) *LogTrail {
	return &LogTrail{logger: logger}
}

func (t *LogTrail) Record(_ context.Context, event Event) {
	if t == nil || t.logger == nil {
		return
	}
	t.logger.Info("purchase transition",
		slog.String("request_id", event.RequestID),
		slog.String("from", event.From),
		slog.String("to", event.To),
		slog.String("actor", event.Actor),
	)
}

// MemoryTrail collects events for test assertions.
type MemoryTrail struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryTrail builds an in-memory trail.
func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{}
}

func (t *MemoryTrail) Record(_ context.Context, event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

// Events returns a copy of everything recorded so far.
func (t *MemoryTrail) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}
