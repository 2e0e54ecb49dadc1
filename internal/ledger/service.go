package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/theramatch/booking-platform/internal/alerting"
	"github.com/theramatch/booking-platform/internal/directory"
	"github.com/theramatch/booking-platform/internal/events"
	"github.com/theramatch/booking-platform/pkg/logging"
)

var ledgerTracer = otel.Tracer("theramatch.internal.ledger")

// Directory resolves provider handles and attendee contacts to local records.
type Directory interface {
	TherapistByHandle(ctx context.Context, handle string) (*directory.Therapist, error)
	PatientByID(ctx context.Context, id string) (*directory.Patient, error)
	PatientByEmail(ctx context.Context, email string) (*directory.Patient, error)
}

// CacheInvalidator forces the availability cache to refresh on next read.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, therapistID string) error
}

// NotificationEnqueuer hands confirmation work to the dispatcher. The queue
// behind it can be in-process or durable without changing this contract.
type NotificationEnqueuer interface {
	EnqueueBookingConfirmation(ctx context.Context, externalBookingID string) error
}

// FailureTracker escalates repeated upsert failures.
type FailureTracker interface {
	RecordFailure(ctx context.Context, externalBookingID, trigger string, cause error) alerting.Decision
}

type eventLog interface {
	Append(ctx context.Context, aggregate, correlationID string, evt events.CanonicalEvent, opts ...events.EnvelopeOption) (events.Envelope, error)
}

// Service merges provider events into the ledger and drives side effects.
type Service struct {
	repo      *Repository
	directory Directory
	cache     CacheInvalidator
	notify    NotificationEnqueuer
	tracker   FailureTracker
	log       eventLog
	logger    *logging.Logger
}

// NewService constructs the ledger service. Cache, notify, tracker and log are
// optional; absent collaborators are skipped.
func NewService(repo *Repository, dir Directory, logger *logging.Logger) *Service {
	if repo == nil {
		panic("ledger: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, directory: dir, logger: logger}
}

// WithCacheInvalidator wires the availability cache.
func (s *Service) WithCacheInvalidator(cache CacheInvalidator) *Service {
	s.cache = cache
	return s
}

// WithNotifications wires the notification enqueuer.
func (s *Service) WithNotifications(notify NotificationEnqueuer) *Service {
	s.notify = notify
	return s
}

// WithFailureTracker wires failure escalation.
func (s *Service) WithFailureTracker(tracker FailureTracker) *Service {
	s.tracker = tracker
	return s
}

// WithEventLog wires analytics emission.
func (s *Service) WithEventLog(log eventLog) *Service {
	s.log = log
	return s
}

// Ingest merges one processable provider event into the ledger. The upsert is
// the idempotency boundary; side effects fire only on a successful upsert and
// only for the create trigger. A returned error is retryable: the ingestion
// endpoint surfaces it as a 500 so the provider's redelivery drives recovery.
func (s *Service) Ingest(ctx context.Context, evt ProviderEvent) (*BookingRecord, error) {
	ctx, span := ledgerTracer.Start(ctx, "ledger.ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("theramatch.external_booking_id", evt.ExternalBookingID),
		attribute.String("theramatch.trigger", string(evt.Trigger)),
	)

	if evt.ExternalBookingID == "" {
		return nil, fmt.Errorf("ledger: event missing external booking id")
	}
	if !evt.Processable() {
		return nil, fmt.Errorf("ledger: trigger %q is not processable", evt.RawTrigger)
	}

	params := s.resolve(ctx, evt)

	record, err := s.repo.Upsert(ctx, params)
	if err != nil {
		span.RecordError(err)
		if s.tracker != nil {
			s.tracker.RecordFailure(ctx, evt.ExternalBookingID, string(evt.Trigger), err)
		}
		return nil, err
	}

	s.emitIngested(ctx, record)
	if evt.Trigger == TriggerCreated {
		s.invalidateCache(ctx, record)
		s.enqueueNotifications(ctx, record)
	}

	s.logger.Info("booking event merged",
		"external_booking_id", record.ExternalBookingID,
		"trigger", record.LastTrigger,
		"is_test", record.IsTest,
	)
	return record, nil
}

// Observe records an event that is acknowledged without touching the ledger:
// triggers outside create/reschedule/cancel, or events with no external id.
func (s *Service) Observe(ctx context.Context, evt ProviderEvent, reason string) {
	s.logger.Info("provider event observed",
		"trigger", evt.RawTrigger,
		"external_booking_id", evt.ExternalBookingID,
		"reason", reason,
	)
	if s.log == nil {
		return
	}
	if _, err := s.log.Append(ctx, "booking", evt.ExternalBookingID, events.BookingObservedV1{
		ExternalBookingID: evt.ExternalBookingID,
		Trigger:           evt.RawTrigger,
		Reason:            reason,
		OccurredAt:        time.Now().UTC(),
	}); err != nil {
		s.logger.Error("failed to append observed event", "error", err)
	}
}

// resolve maps provider identifiers onto local ids. Resolution misses are not
// errors: events can legitimately reference resources not yet provisioned
// here, and a subject may simply be unknown.
func (s *Service) resolve(ctx context.Context, evt ProviderEvent) UpsertParams {
	params := UpsertParams{
		ExternalBookingID: evt.ExternalBookingID,
		Trigger:           evt.Trigger,
		Kind:              evt.Kind,
		StartsAt:          evt.StartsAt,
		EndsAt:            evt.EndsAt,
		Status:            evt.Status,
		IsTest:            evt.Metadata.IsTest(),
		Metadata:          evt.Metadata,
	}
	if k := evt.Metadata.Kind(); k != "" {
		params.Kind = k
	}
	if m := evt.Metadata.MatchID(); m != "" {
		params.MatchID = &m
	}

	if s.directory == nil {
		return params
	}

	if evt.ResourceHandle != "" {
		therapist, err := s.directory.TherapistByHandle(ctx, evt.ResourceHandle)
		switch {
		case err == nil:
			params.TherapistID = &therapist.ID
		case errors.Is(err, directory.ErrTherapistNotFound):
			s.logger.Warn("unmatched resource handle", "handle", evt.ResourceHandle, "external_booking_id", evt.ExternalBookingID)
		default:
			s.logger.Error("therapist lookup failed", "error", err, "handle", evt.ResourceHandle)
		}
	}

	params.PatientID = s.resolvePatient(ctx, evt)
	return params
}

// resolvePatient prefers the subject id threaded through metadata at
// reservation time; contact lookup by email is the documented fallback
// heuristic (newest record wins).
func (s *Service) resolvePatient(ctx context.Context, evt ProviderEvent) *string {
	if id := evt.Metadata.SubjectID(); id != "" {
		patient, err := s.directory.PatientByID(ctx, id)
		if err == nil {
			return &patient.ID
		}
		if !errors.Is(err, directory.ErrPatientNotFound) {
			s.logger.Error("patient lookup by id failed", "error", err, "subject_id", id)
		}
	}
	if evt.AttendeeEmail == "" {
		return nil
	}
	patient, err := s.directory.PatientByEmail(ctx, evt.AttendeeEmail)
	if err != nil {
		if !errors.Is(err, directory.ErrPatientNotFound) {
			s.logger.Error("patient lookup by email failed", "error", err)
		}
		return nil
	}
	return &patient.ID
}

func (s *Service) emitIngested(ctx context.Context, record *BookingRecord) {
	if s.log == nil {
		return
	}
	evt := events.BookingIngestedV1{
		ExternalBookingID: record.ExternalBookingID,
		Trigger:           string(record.LastTrigger),
		Kind:              record.Kind,
		IsTest:            record.IsTest,
		OccurredAt:        time.Now().UTC(),
	}
	if record.TherapistID != nil {
		evt.TherapistID = *record.TherapistID
	}
	if record.PatientID != nil {
		evt.PatientID = *record.PatientID
	}
	if _, err := s.log.Append(ctx, "booking", record.ExternalBookingID, evt); err != nil {
		s.logger.Error("failed to append ingested event", "error", err, "external_booking_id", record.ExternalBookingID)
	}
}

func (s *Service) invalidateCache(ctx context.Context, record *BookingRecord) {
	if s.cache == nil || record.TherapistID == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, *record.TherapistID); err != nil {
		s.logger.Error("availability invalidation failed", "error", err, "therapist_id", *record.TherapistID)
	}
}

func (s *Service) enqueueNotifications(ctx context.Context, record *BookingRecord) {
	if s.notify == nil {
		return
	}
	if err := s.notify.EnqueueBookingConfirmation(ctx, record.ExternalBookingID); err != nil {
		s.logger.Error("failed to enqueue booking confirmation", "error", err, "external_booking_id", record.ExternalBookingID)
	}
}
