package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CanonicalEvent represents a versioned domain event.
type CanonicalEvent interface {
	EventType() string
}

// Envelope captures transport metadata for canonical events.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// EnvelopeOption customizes the generated envelope (useful in tests).
type EnvelopeOption func(*Envelope)

// WithEventID overrides the automatically generated event id.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

// WithTimestamp overrides the timestamp stored in microseconds.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if ts.IsZero() {
			return
		}
		e.TimestampMicros = ts.UTC().UnixMicro()
	}
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: canonical event required")
	nowFunc             = time.Now
)

func newEnvelope(aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	if strings.TrimSpace(aggregate) == "" {
		return Envelope{}, errMissingAggregate
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, fmt.Errorf("events: event type missing")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal canonical payload: %w", err)
	}
	env := Envelope{
		EventID:         uuid.New(),
		EventType:       eventType,
		Aggregate:       strings.TrimSpace(aggregate),
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		CorrelationID:   strings.TrimSpace(correlationID),
		Payload:         append([]byte(nil), payload...),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Log is the durable append-only event log.
type Log struct {
	pool querier
}

// NewLog creates a log backed by a pgx pool.
func NewLog(pool *pgxpool.Pool) *Log {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &Log{pool: pool}
}

func newLogWithExec(exec querier) *Log {
	if exec == nil {
		panic("events: exec required")
	}
	return &Log{pool: exec}
}

// Append marshals the event into an envelope and writes it to the log.
func (l *Log) Append(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	env, err := newEnvelope(aggregate, correlationID, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	query := `
		INSERT INTO event_log (id, aggregate, event_type, correlation_id, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := l.pool.Exec(ctx, query, env.EventID, env.Aggregate, env.EventType, env.CorrelationID, data); err != nil {
		return Envelope{}, fmt.Errorf("events: append event: %w", err)
	}
	return env, nil
}

// CountSince returns how many events of the given type share the correlation id
// within the trailing window starting at since.
func (l *Log) CountSince(ctx context.Context, eventType, correlationID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM event_log
		WHERE event_type = $1 AND correlation_id = $2 AND created_at >= $3
	`
	var count int
	if err := l.pool.QueryRow(ctx, query, eventType, correlationID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("events: count since: %w", err)
	}
	return count, nil
}
