package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/theramatch/booking-platform/internal/directory"
	"github.com/theramatch/booking-platform/internal/ledger"
	"github.com/theramatch/booking-platform/internal/observability/metrics"
	"github.com/theramatch/booking-platform/pkg/logging"
)

type bookingStore interface {
	Get(ctx context.Context, externalBookingID string) (*ledger.BookingRecord, error)
	MarkNotified(ctx context.Context, externalBookingID string, recipient ledger.NotificationRecipient) (bool, error)
}

type contactDirectory interface {
	TherapistByID(ctx context.Context, id string) (*directory.Therapist, error)
	PatientByID(ctx context.Context, id string) (*directory.Patient, error)
}

// Dispatcher sends booking confirmations to both sides of a booking.
// Idempotency is enforced by the per-recipient sent-at markers on the ledger
// row: a marker already set means that notification is done, and a failed send
// leaves the marker unset so a reprocessed duplicate event can try again. The
// two notifications are independent of each other.
type Dispatcher struct {
	store     bookingStore
	directory contactDirectory
	sender    EmailSender
	sinkEmail string
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(store bookingStore, dir contactDirectory, sender EmailSender, logger *logging.Logger) *Dispatcher {
	if store == nil {
		panic("notify: booking store required")
	}
	if dir == nil {
		panic("notify: contact directory required")
	}
	if sender == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{store: store, directory: dir, sender: sender, logger: logger}
}

// WithSinkEmail sets the address test-mode notifications are routed to.
func (d *Dispatcher) WithSinkEmail(addr string) *Dispatcher {
	d.sinkEmail = addr
	return d
}

// WithMetrics wires send counters.
func (d *Dispatcher) WithMetrics(m *metrics.BookingMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Dispatch sends any outstanding confirmations for one booking. Send failures
// are logged and swallowed: a failed confirmation must never fail the booking,
// and the unset marker lets a later duplicate event retry. A returned error
// means the booking itself could not be loaded.
func (d *Dispatcher) Dispatch(ctx context.Context, externalBookingID string) error {
	record, err := d.store.Get(ctx, externalBookingID)
	if err != nil {
		return fmt.Errorf("notify: load booking %s: %w", externalBookingID, err)
	}

	if record.PatientNotifiedAt != nil && record.TherapistNotifiedAt != nil {
		d.logger.Info("confirmations already sent", "external_booking_id", externalBookingID)
		return nil
	}

	d.notifyPatient(ctx, record)
	d.notifyTherapist(ctx, record)
	return nil
}

func (d *Dispatcher) notifyPatient(ctx context.Context, record *ledger.BookingRecord) {
	if record.PatientNotifiedAt != nil {
		return
	}

	var therapistName string
	if record.TherapistID != nil {
		if therapist, err := d.directory.TherapistByID(ctx, *record.TherapistID); err == nil {
			therapistName = therapist.Name
		}
	}
	if therapistName == "" {
		therapistName = "your therapist"
	}

	to, toName, ok := d.patientAddress(ctx, record)
	if !ok {
		return
	}

	msg := EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: "Your session is confirmed",
		Body: fmt.Sprintf("Your %s session with %s is confirmed for %s.",
			record.Kind, therapistName, formatWhen(record.StartsAt)),
	}
	d.send(ctx, record, ledger.RecipientPatient, msg)
}

func (d *Dispatcher) notifyTherapist(ctx context.Context, record *ledger.BookingRecord) {
	if record.TherapistNotifiedAt != nil {
		return
	}

	var patientName string
	if record.PatientID != nil {
		if patient, err := d.directory.PatientByID(ctx, *record.PatientID); err == nil {
			patientName = patient.Name
		}
	}
	if patientName == "" {
		patientName = "a new patient"
	}

	to, toName, ok := d.therapistAddress(ctx, record)
	if !ok {
		return
	}

	msg := EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: "New booking confirmed",
		Body: fmt.Sprintf("You have a new %s session with %s on %s.",
			record.Kind, patientName, formatWhen(record.StartsAt)),
	}
	d.send(ctx, record, ledger.RecipientTherapist, msg)
}

// patientAddress resolves where the patient-side confirmation goes. Test-mode
// bookings route to the sink address instead of real contacts.
func (d *Dispatcher) patientAddress(ctx context.Context, record *ledger.BookingRecord) (string, string, bool) {
	if record.IsTest {
		return d.sinkAddress(record)
	}
	if record.PatientID == nil {
		d.logger.Warn("no resolved patient; skipping patient confirmation",
			"external_booking_id", record.ExternalBookingID)
		return "", "", false
	}
	patient, err := d.directory.PatientByID(ctx, *record.PatientID)
	if err != nil {
		d.logger.Error("patient lookup failed", "error", err, "patient_id", *record.PatientID)
		return "", "", false
	}
	if patient.Email == "" {
		d.logger.Warn("patient has no email; skipping confirmation", "patient_id", patient.ID)
		return "", "", false
	}
	return patient.Email, patient.Name, true
}

func (d *Dispatcher) therapistAddress(ctx context.Context, record *ledger.BookingRecord) (string, string, bool) {
	if record.IsTest {
		return d.sinkAddress(record)
	}
	if record.TherapistID == nil {
		d.logger.Warn("no resolved therapist; skipping therapist confirmation",
			"external_booking_id", record.ExternalBookingID)
		return "", "", false
	}
	therapist, err := d.directory.TherapistByID(ctx, *record.TherapistID)
	if err != nil {
		d.logger.Error("therapist lookup failed", "error", err, "therapist_id", *record.TherapistID)
		return "", "", false
	}
	if therapist.Email == "" {
		d.logger.Warn("therapist has no email; skipping confirmation", "therapist_id", therapist.ID)
		return "", "", false
	}
	return therapist.Email, therapist.Name, true
}

func (d *Dispatcher) sinkAddress(record *ledger.BookingRecord) (string, string, bool) {
	if d.sinkEmail == "" {
		d.logger.Warn("test booking but no sink address configured; skipping send",
			"external_booking_id", record.ExternalBookingID)
		return "", "", false
	}
	return d.sinkEmail, "Test Sink", true
}

func (d *Dispatcher) send(ctx context.Context, record *ledger.BookingRecord, recipient ledger.NotificationRecipient, msg EmailMessage) {
	if err := d.sender.Send(ctx, msg); err != nil {
		// Marker stays unset so a later retry can attempt again.
		d.metrics.ObserveNotification(string(recipient), "error")
		d.logger.Error("confirmation send failed",
			"error", err,
			"recipient", recipient,
			"external_booking_id", record.ExternalBookingID,
		)
		return
	}

	marked, err := d.store.MarkNotified(ctx, record.ExternalBookingID, recipient)
	if err != nil {
		d.logger.Error("failed to set sent-at marker", "error", err,
			"recipient", recipient, "external_booking_id", record.ExternalBookingID)
		return
	}
	if !marked {
		// Lost a race with a concurrent dispatcher; the duplicate send already
		// happened and there is nothing left to do.
		d.logger.Warn("marker already set by concurrent dispatch",
			"recipient", recipient, "external_booking_id", record.ExternalBookingID)
		return
	}
	d.metrics.ObserveNotification(string(recipient), "sent")
	d.logger.Info("confirmation sent",
		"recipient", recipient,
		"to", msg.To,
		"external_booking_id", record.ExternalBookingID,
	)
}

func formatWhen(t time.Time) string {
	return t.UTC().Format("Monday, January 2 at 3:04 PM MST")
}
