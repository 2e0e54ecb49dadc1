package events

import "time"

// Event type names stored in the event log. The log doubles as the analytics
// stream and as the source of truth for ingestion failure counts.
const (
	TypeBookingIngested     = "booking_ingested.v1"
	TypeBookingObserved     = "booking_observed.v1"
	TypeIngestFailed        = "booking_ingest_failed.v1"
	TypeIngestAlert         = "booking_ingest_alert.v1"
	TypeReservationPlaced   = "reservation_placed.v1"
	TypeReservationConflict = "reservation_conflict.v1"
)

// BookingIngestedV1 is emitted after a provider event is merged into the ledger.
type BookingIngestedV1 struct {
	ExternalBookingID string    `json:"external_booking_id"`
	Trigger           string    `json:"trigger"`
	TherapistID       string    `json:"therapist_id,omitempty"`
	PatientID         string    `json:"patient_id,omitempty"`
	Kind              string    `json:"kind,omitempty"`
	IsTest            bool      `json:"is_test"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (BookingIngestedV1) EventType() string { return TypeBookingIngested }

// BookingObservedV1 records provider events that are acknowledged but not
// persisted to the ledger (pings, no-shows, unknown triggers).
type BookingObservedV1 struct {
	ExternalBookingID string    `json:"external_booking_id,omitempty"`
	Trigger           string    `json:"trigger"`
	Reason            string    `json:"reason"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (BookingObservedV1) EventType() string { return TypeBookingObserved }

// IngestFailedV1 is appended on every ledger upsert failure.
type IngestFailedV1 struct {
	ExternalBookingID string    `json:"external_booking_id"`
	Trigger           string    `json:"trigger"`
	Error             string    `json:"error"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (IngestFailedV1) EventType() string { return TypeIngestFailed }

// IngestAlertV1 is appended when repeated failures for one external booking id
// cross the alert threshold. Duplicate alerts past the threshold are tolerated.
type IngestAlertV1 struct {
	ExternalBookingID string    `json:"external_booking_id"`
	FailureCount      int       `json:"failure_count"`
	WindowSeconds     int64     `json:"window_seconds"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (IngestAlertV1) EventType() string { return TypeIngestAlert }

// ReservationPlacedV1 is emitted when the reservation coordinator books a slot.
type ReservationPlacedV1 struct {
	ExternalBookingID string    `json:"external_booking_id"`
	TherapistID       string    `json:"therapist_id"`
	Kind              string    `json:"kind"`
	StartsAt          time.Time `json:"starts_at"`
	TestMode          bool      `json:"test_mode"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (ReservationPlacedV1) EventType() string { return TypeReservationPlaced }

// ReservationConflictV1 is emitted when the provider reports a slot already taken.
type ReservationConflictV1 struct {
	TherapistID string    `json:"therapist_id"`
	Kind        string    `json:"kind"`
	StartsAt    time.Time `json:"starts_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (ReservationConflictV1) EventType() string { return TypeReservationConflict }
