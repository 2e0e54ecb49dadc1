package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrBookingNotFound is returned when no ledger row matches the lookup.
var ErrBookingNotFound = errors.New("ledger: booking not found")

// NotificationRecipient selects which sent-at marker an update touches.
type NotificationRecipient string

const (
	RecipientPatient   NotificationRecipient = "patient"
	RecipientTherapist NotificationRecipient = "therapist"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides persistence for booking records.
type Repository struct {
	pool querier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("ledger: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("ledger: querier required")
	}
	return &Repository{pool: q}
}

const bookingColumns = `id, external_booking_id, last_trigger_event, therapist_id, patient_id,
		match_id, kind, starts_at, ends_at, status, is_test, metadata,
		patient_notified_at, therapist_notified_at, created_at, updated_at`

// Upsert atomically inserts or updates the row keyed by external booking id.
// This is the idempotency boundary: replaying an identical event converges on
// the same row. The conflict branch never touches created_at or the
// notification markers, so duplicate events cannot re-arm side effects.
func (r *Repository) Upsert(ctx context.Context, p UpsertParams) (*BookingRecord, error) {
	if p.ExternalBookingID == "" {
		return nil, fmt.Errorf("ledger: external booking id required")
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal metadata: %w", err)
	}

	query := `
		INSERT INTO bookings (id, external_booking_id, last_trigger_event, therapist_id, patient_id,
			match_id, kind, starts_at, ends_at, status, is_test, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_booking_id) DO UPDATE SET
			last_trigger_event = EXCLUDED.last_trigger_event,
			therapist_id = COALESCE(EXCLUDED.therapist_id, bookings.therapist_id),
			patient_id = COALESCE(EXCLUDED.patient_id, bookings.patient_id),
			match_id = COALESCE(EXCLUDED.match_id, bookings.match_id),
			kind = EXCLUDED.kind,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			status = EXCLUDED.status,
			is_test = EXCLUDED.is_test,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING ` + bookingColumns

	row := r.pool.QueryRow(ctx, query,
		uuid.New(),
		p.ExternalBookingID,
		string(p.Trigger),
		p.TherapistID,
		p.PatientID,
		p.MatchID,
		p.Kind,
		p.StartsAt,
		p.EndsAt,
		p.Status,
		p.IsTest,
		meta,
	)
	record, err := scanBooking(row)
	if err != nil {
		return nil, fmt.Errorf("ledger: upsert booking: %w", err)
	}
	return record, nil
}

// Get loads the ledger row for an external booking id.
func (r *Repository) Get(ctx context.Context, externalBookingID string) (*BookingRecord, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE external_booking_id = $1
	`
	record, err := scanBooking(r.pool.QueryRow(ctx, query, externalBookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("ledger: select booking: %w", err)
	}
	return record, nil
}

// MarkNotified sets the recipient's sent-at marker, returning false when the
// marker was already set. The IS NULL guard makes concurrent dispatchers safe.
func (r *Repository) MarkNotified(ctx context.Context, externalBookingID string, recipient NotificationRecipient) (bool, error) {
	var column string
	switch recipient {
	case RecipientPatient:
		column = "patient_notified_at"
	case RecipientTherapist:
		column = "therapist_notified_at"
	default:
		return false, fmt.Errorf("ledger: unknown notification recipient %q", recipient)
	}

	query := fmt.Sprintf(`
		UPDATE bookings
		SET %s = now(), updated_at = now()
		WHERE external_booking_id = $1 AND %s IS NULL
	`, column, column)
	ct, err := r.pool.Exec(ctx, query, externalBookingID)
	if err != nil {
		return false, fmt.Errorf("ledger: mark notified: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func scanBooking(row pgx.Row) (*BookingRecord, error) {
	var rec BookingRecord
	var trigger string
	var meta []byte
	if err := row.Scan(
		&rec.ID,
		&rec.ExternalBookingID,
		&trigger,
		&rec.TherapistID,
		&rec.PatientID,
		&rec.MatchID,
		&rec.Kind,
		&rec.StartsAt,
		&rec.EndsAt,
		&rec.Status,
		&rec.IsTest,
		&meta,
		&rec.PatientNotifiedAt,
		&rec.TherapistNotifiedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.LastTrigger = TriggerKind(trigger)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &rec, nil
}
