package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/theramatch/booking-platform/internal/acuity"
	"github.com/theramatch/booking-platform/internal/availability"
	"github.com/theramatch/booking-platform/internal/directory"
	"github.com/theramatch/booking-platform/internal/events"
	"github.com/theramatch/booking-platform/internal/ledger"
	"github.com/theramatch/booking-platform/internal/observability/metrics"
	"github.com/theramatch/booking-platform/pkg/logging"
)

var reservationTracer = otel.Tracer("theramatch.internal.reservation")

const defaultProviderTimeout = 25 * time.Second

// ErrInvalidRequest wraps rejections of the request itself: missing fields or
// identifiers that do not resolve to known records.
var ErrInvalidRequest = errors.New("reservation: invalid request")

// ErrSlotTaken is returned when the slot is gone: either the optimistic cache
// check finds it missing, or the provider reports a lost race. The caller must
// not retry the same slot; it should re-read freshly refreshed availability.
var ErrSlotTaken = errors.New("reservation: slot already taken")

// ErrAmbiguousOutcome is returned when the provider call timed out and the
// reservation may or may not have been placed. It is never assumed successful;
// the webhook for a placed booking will reconcile the ledger.
var ErrAmbiguousOutcome = errors.New("reservation: provider outcome unknown")

type provider interface {
	CreateAppointment(ctx context.Context, req acuity.CreateAppointmentRequest) (*acuity.Appointment, error)
}

type slotSource interface {
	RawSlots(ctx context.Context, therapistID, kind string) ([]availability.Slot, error)
	Invalidate(ctx context.Context, therapistID string) error
}

type ledgerService interface {
	Ingest(ctx context.Context, evt ledger.ProviderEvent) (*ledger.BookingRecord, error)
}

type people interface {
	TherapistByID(ctx context.Context, id string) (*directory.Therapist, error)
	PatientByID(ctx context.Context, id string) (*directory.Patient, error)
}

type eventLog interface {
	Append(ctx context.Context, aggregate, correlationID string, evt events.CanonicalEvent, opts ...events.EnvelopeOption) (events.Envelope, error)
}

// Request describes one slot pick by a patient.
type Request struct {
	TherapistID string
	PatientID   string
	MatchID     string
	Kind        string
	SlotAt      time.Time
	Notes       string
	// TestMode validates and records the reservation without placing it with
	// the provider; the slot stays bookable and notifications go to the sink.
	TestMode bool
}

// Handle is the caller's reference to a placed reservation.
type Handle struct {
	ExternalBookingID string    `json:"external_booking_id"`
	TherapistID       string    `json:"therapist_id"`
	Kind              string    `json:"kind"`
	StartsAt          time.Time `json:"starts_at"`
	TestMode          bool      `json:"test_mode"`
}

// Coordinator is the user-facing write path. The provider is the source of
// truth for slot contention; the cache only screens out obviously-futile
// calls. On provider success the ledger is written synchronously so the later
// webhook for the same booking is absorbed as an idempotent duplicate.
type Coordinator struct {
	provider     provider
	availability slotSource
	ledger       ledgerService
	directory    people
	log          eventLog
	logger       *logging.Logger
	metrics      *metrics.BookingMetrics
	timeout      time.Duration
}

// NewCoordinator constructs the reservation write path.
func NewCoordinator(p provider, avail slotSource, led ledgerService, dir people, logger *logging.Logger) *Coordinator {
	if p == nil {
		panic("reservation: provider client required")
	}
	if avail == nil {
		panic("reservation: availability source required")
	}
	if led == nil {
		panic("reservation: ledger service required")
	}
	if dir == nil {
		panic("reservation: directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
		provider:     p,
		availability: avail,
		ledger:       led,
		directory:    dir,
		logger:       logger,
		timeout:      defaultProviderTimeout,
	}
}

// WithTimeout bounds the provider write-through call.
func (c *Coordinator) WithTimeout(d time.Duration) *Coordinator {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// WithEventLog wires analytics emission.
func (c *Coordinator) WithEventLog(log eventLog) *Coordinator {
	c.log = log
	return c
}

// WithMetrics wires outcome counters.
func (c *Coordinator) WithMetrics(m *metrics.BookingMetrics) *Coordinator {
	c.metrics = m
	return c
}

// Reserve places one booking for a patient. Conflicts return ErrSlotTaken and
// invalidate the cache so the next availability read reflects reality; a
// provider timeout returns ErrAmbiguousOutcome with no ledger write.
func (c *Coordinator) Reserve(ctx context.Context, req Request) (*Handle, error) {
	ctx, span := reservationTracer.Start(ctx, "reservation.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("theramatch.therapist_id", req.TherapistID),
		attribute.String("theramatch.kind", req.Kind),
		attribute.Bool("theramatch.test_mode", req.TestMode),
	)

	if err := c.validate(req); err != nil {
		c.metrics.ObserveReservation("invalid")
		return nil, err
	}

	therapist, err := c.directory.TherapistByID(ctx, req.TherapistID)
	if err != nil {
		c.metrics.ObserveReservation("invalid")
		return nil, fmt.Errorf("%w: resolve therapist: %v", ErrInvalidRequest, err)
	}
	patient, err := c.directory.PatientByID(ctx, req.PatientID)
	if err != nil {
		c.metrics.ObserveReservation("invalid")
		return nil, fmt.Errorf("%w: resolve patient: %v", ErrInvalidRequest, err)
	}

	// Optimistic check. The cache can be stale in both directions; the
	// provider call below is the real arbiter.
	if !c.slotKnown(ctx, req) {
		c.metrics.ObserveReservation("conflict")
		c.emitConflict(ctx, req)
		return nil, ErrSlotTaken
	}

	if req.TestMode {
		return c.reserveTest(ctx, req, therapist, patient)
	}

	appt, err := c.placeWithProvider(ctx, req, therapist, patient)
	if err != nil {
		return nil, err
	}

	c.recordBooking(ctx, req, therapist, patient, appt)

	if err := c.availability.Invalidate(ctx, req.TherapistID); err != nil {
		c.logger.Error("post-reservation cache invalidation failed", "error", err, "therapist_id", req.TherapistID)
	}

	c.metrics.ObserveReservation("placed")
	c.emitPlaced(ctx, appt.ID, req)
	c.logger.Info("reservation placed",
		"external_booking_id", appt.ID,
		"therapist_id", req.TherapistID,
		"patient_id", req.PatientID,
		"starts_at", req.SlotAt,
	)

	return &Handle{
		ExternalBookingID: appt.ID,
		TherapistID:       req.TherapistID,
		Kind:              req.Kind,
		StartsAt:          req.SlotAt,
	}, nil
}

func (c *Coordinator) validate(req Request) error {
	switch {
	case req.TherapistID == "":
		return fmt.Errorf("%w: therapist id required", ErrInvalidRequest)
	case req.PatientID == "":
		return fmt.Errorf("%w: patient id required", ErrInvalidRequest)
	case req.Kind == "":
		return fmt.Errorf("%w: booking kind required", ErrInvalidRequest)
	case req.SlotAt.IsZero():
		return fmt.Errorf("%w: slot instant required", ErrInvalidRequest)
	}
	return nil
}

// slotKnown reports whether the requested instant is in the cached raw slot
// list. A cache read failure is treated as "unknown, proceed": the provider
// remains the authority and a degraded cache must not block bookings.
func (c *Coordinator) slotKnown(ctx context.Context, req Request) bool {
	slots, err := c.availability.RawSlots(ctx, req.TherapistID, req.Kind)
	if err != nil {
		c.logger.Warn("availability pre-check unavailable; deferring to provider",
			"error", err, "therapist_id", req.TherapistID)
		return true
	}
	want := req.SlotAt.UTC()
	for _, slot := range slots {
		if slot.At.Equal(want) {
			return true
		}
	}
	return false
}

func (c *Coordinator) placeWithProvider(ctx context.Context, req Request, therapist *directory.Therapist, patient *directory.Patient) (*acuity.Appointment, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	first, last := splitName(patient.Name)
	appt, err := c.provider.CreateAppointment(callCtx, acuity.CreateAppointmentRequest{
		CalendarHandle:    therapist.Handle,
		AppointmentTypeID: req.Kind,
		Datetime:          req.SlotAt.UTC(),
		FirstName:         first,
		LastName:          last,
		Email:             patient.Email,
		Phone:             patient.Phone,
		Notes:             req.Notes,
		Metadata:          c.metadata(req),
	})
	switch {
	case err == nil:
		return appt, nil
	case errors.Is(err, acuity.ErrSlotTaken):
		// Lost the race. Invalidate so the next read reflects reality.
		if invErr := c.availability.Invalidate(ctx, req.TherapistID); invErr != nil {
			c.logger.Error("conflict cache invalidation failed", "error", invErr, "therapist_id", req.TherapistID)
		}
		c.metrics.ObserveReservation("conflict")
		c.emitConflict(ctx, req)
		return nil, ErrSlotTaken
	case errors.Is(err, context.DeadlineExceeded):
		c.metrics.ObserveReservation("ambiguous")
		c.logger.Error("provider reservation timed out; outcome unknown",
			"therapist_id", req.TherapistID, "starts_at", req.SlotAt)
		return nil, ErrAmbiguousOutcome
	default:
		c.metrics.ObserveReservation("error")
		return nil, fmt.Errorf("reservation: provider write-through: %w", err)
	}
}

// reserveTest exercises the full path without provider or capacity effects.
// The synthesized external id keeps the ledger write idempotent and flags the
// record so notifications route to the sink address.
func (c *Coordinator) reserveTest(ctx context.Context, req Request, therapist *directory.Therapist, patient *directory.Patient) (*Handle, error) {
	externalID := "test-" + uuid.NewString()
	c.recordBooking(ctx, req, therapist, patient, &acuity.Appointment{
		ID:             externalID,
		CalendarHandle: therapist.Handle,
		Datetime:       req.SlotAt.UTC(),
		Status:         "scheduled",
	})

	c.metrics.ObserveReservation("test")
	c.emitPlaced(ctx, externalID, req)
	c.logger.Info("test reservation recorded",
		"external_booking_id", externalID,
		"therapist_id", req.TherapistID,
		"starts_at", req.SlotAt,
	)
	return &Handle{
		ExternalBookingID: externalID,
		TherapistID:       req.TherapistID,
		Kind:              req.Kind,
		StartsAt:          req.SlotAt,
		TestMode:          true,
	}, nil
}

// recordBooking writes the ledger synchronously so the booking is visible
// before the provider's webhook arrives; that webhook then collapses into
// this row via the upsert. A ledger failure here does not undo the placed
// reservation; webhook redelivery heals the ledger.
func (c *Coordinator) recordBooking(ctx context.Context, req Request, therapist *directory.Therapist, patient *directory.Patient, appt *acuity.Appointment) *ledger.BookingRecord {
	ends := appt.EndTime
	if ends.IsZero() {
		ends = req.SlotAt.UTC().Add(50 * time.Minute)
	}
	record, err := c.ledger.Ingest(ctx, ledger.ProviderEvent{
		Trigger:           ledger.TriggerCreated,
		RawTrigger:        "reservation.created",
		ExternalBookingID: appt.ID,
		ResourceHandle:    therapist.Handle,
		AttendeeEmail:     patient.Email,
		AttendeeName:      patient.Name,
		Kind:              req.Kind,
		StartsAt:          req.SlotAt.UTC(),
		EndsAt:            ends,
		Status:            appt.Status,
		Metadata:          ledger.Metadata(c.metadata(req)),
	})
	if err != nil {
		c.logger.Error("ledger write after reservation failed; webhook will reconcile",
			"error", err, "external_booking_id", appt.ID)
		return nil
	}
	return record
}

// metadata is the correlation bag echoed back verbatim in provider webhooks.
func (c *Coordinator) metadata(req Request) map[string]string {
	m := map[string]string{
		ledger.MetaSubjectID: req.PatientID,
		ledger.MetaKind:      req.Kind,
		ledger.MetaSource:    "reservation",
		ledger.MetaTest:      strconv.FormatBool(req.TestMode),
	}
	if req.MatchID != "" {
		m[ledger.MetaMatchID] = req.MatchID
	}
	return m
}

func (c *Coordinator) emitPlaced(ctx context.Context, externalID string, req Request) {
	if c.log == nil {
		return
	}
	if _, err := c.log.Append(ctx, "reservation", externalID, events.ReservationPlacedV1{
		ExternalBookingID: externalID,
		TherapistID:       req.TherapistID,
		Kind:              req.Kind,
		StartsAt:          req.SlotAt.UTC(),
		TestMode:          req.TestMode,
		OccurredAt:        time.Now().UTC(),
	}); err != nil {
		c.logger.Error("failed to append reservation event", "error", err)
	}
}

func (c *Coordinator) emitConflict(ctx context.Context, req Request) {
	if c.log == nil {
		return
	}
	if _, err := c.log.Append(ctx, "reservation", req.TherapistID, events.ReservationConflictV1{
		TherapistID: req.TherapistID,
		Kind:        req.Kind,
		StartsAt:    req.SlotAt.UTC(),
		OccurredAt:  time.Now().UTC(),
	}); err != nil {
		c.logger.Error("failed to append conflict event", "error", err)
	}
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "Patient", ""
	}
	if i := strings.LastIndex(full, " "); i >= 0 {
		return full[:i], full[i+1:]
	}
	return full, ""
}
