package ledger

import (
	"strconv"
	"strings"
	"time"
)

// TriggerKind classifies a provider event for the ledger.
type TriggerKind string

const (
	TriggerCreated     TriggerKind = "created"
	TriggerRescheduled TriggerKind = "rescheduled"
	TriggerCancelled   TriggerKind = "cancelled"
	TriggerOther       TriggerKind = "other"
)

// Metadata keys this system sets at reservation time and reads back from
// provider events. Unknown keys are preserved, never discarded.
const (
	MetaSubjectID = "subject_id"
	MetaMatchID   = "match_id"
	MetaKind      = "kind"
	MetaSource    = "source"
	MetaTest      = "test"
)

// Metadata is the provider's opaque key/value bag.
type Metadata map[string]string

// Get returns the value for key, or "" when absent.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[key])
}

// SubjectID returns the patient correlation id threaded through at reservation time.
func (m Metadata) SubjectID() string { return m.Get(MetaSubjectID) }

// MatchID returns the upstream lead/match correlation id.
func (m Metadata) MatchID() string { return m.Get(MetaMatchID) }

// Kind returns the booking kind carried in metadata.
func (m Metadata) Kind() string { return m.Get(MetaKind) }

// Source returns the origin tag set at reservation time.
func (m Metadata) Source() string { return m.Get(MetaSource) }

// IsTest reports whether the booking was flagged as test mode.
func (m Metadata) IsTest() bool {
	v, err := strconv.ParseBool(m.Get(MetaTest))
	return err == nil && v
}

// ProviderEvent is the canonical representation of one provider webhook event.
type ProviderEvent struct {
	Trigger           TriggerKind
	RawTrigger        string
	ExternalBookingID string
	ResourceHandle    string
	AttendeeEmail     string
	AttendeeName      string
	Kind              string
	StartsAt          time.Time
	EndsAt            time.Time
	Status            string
	Metadata          Metadata
}

// Processable reports whether the event mutates the ledger. Everything else is
// observable only: logged for analytics and acknowledged.
func (e ProviderEvent) Processable() bool {
	switch e.Trigger {
	case TriggerCreated, TriggerRescheduled, TriggerCancelled:
		return true
	}
	return false
}

// BookingRecord is the durable, idempotent record of one provider booking.
// Exactly one row exists per external booking id.
type BookingRecord struct {
	ID                  string      `json:"id"`
	ExternalBookingID   string      `json:"external_booking_id"`
	LastTrigger         TriggerKind `json:"last_trigger_event"`
	TherapistID         *string     `json:"therapist_id,omitempty"`
	PatientID           *string     `json:"patient_id,omitempty"`
	MatchID             *string     `json:"match_id,omitempty"`
	Kind                string      `json:"kind"`
	StartsAt            time.Time   `json:"starts_at"`
	EndsAt              time.Time   `json:"ends_at"`
	Status              string      `json:"status"`
	IsTest              bool        `json:"is_test"`
	Metadata            Metadata    `json:"metadata,omitempty"`
	PatientNotifiedAt   *time.Time  `json:"patient_notified_at,omitempty"`
	TherapistNotifiedAt *time.Time  `json:"therapist_notified_at,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// UpsertParams is the merged state applied by one event.
type UpsertParams struct {
	ExternalBookingID string
	Trigger           TriggerKind
	TherapistID       *string
	PatientID         *string
	MatchID           *string
	Kind              string
	StartsAt          time.Time
	EndsAt            time.Time
	Status            string
	IsTest            bool
	Metadata          Metadata
}
