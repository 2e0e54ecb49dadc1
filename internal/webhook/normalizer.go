package webhook

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/theramatch/booking-platform/internal/ledger"
)

// ErrMalformedPayload is returned for bodies that are not valid JSON or miss
// the trigger field entirely. The ingestion endpoint maps it to a 400;
// retrying a malformed payload cannot succeed.
var ErrMalformedPayload = errors.New("webhook: malformed payload")

// Provider trigger names. Anything else is observable but not processable.
const (
	TriggerScheduled   = "appointment.scheduled"
	TriggerRescheduled = "appointment.rescheduled"
	TriggerCanceled    = "appointment.canceled"
)

type inboundPayload struct {
	Trigger string `json:"trigger"`
	Payload struct {
		ID       string `json:"id"`
		Calendar string `json:"calendar"`
		Type     string `json:"type"`
		Attendees []struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"attendees"`
		StartTime time.Time         `json:"start_time"`
		EndTime   time.Time         `json:"end_time"`
		Status    string            `json:"status"`
		Metadata  map[string]string `json:"metadata"`
	} `json:"payload"`
}

// Normalize parses a verified body into the canonical event. It runs only
// after signature success. A missing external booking id is not an error
// here: the provider emits events this system does not persist (pings,
// no-shows), and the handler acknowledges them as intentionally skipped.
func Normalize(body []byte) (ledger.ProviderEvent, error) {
	var in inboundPayload
	if err := json.Unmarshal(body, &in); err != nil {
		return ledger.ProviderEvent{}, ErrMalformedPayload
	}
	trigger := strings.TrimSpace(in.Trigger)
	if trigger == "" {
		return ledger.ProviderEvent{}, ErrMalformedPayload
	}

	evt := ledger.ProviderEvent{
		Trigger:           classifyTrigger(trigger),
		RawTrigger:        trigger,
		ExternalBookingID: strings.TrimSpace(in.Payload.ID),
		ResourceHandle:    strings.TrimSpace(in.Payload.Calendar),
		Kind:              strings.TrimSpace(in.Payload.Type),
		StartsAt:          in.Payload.StartTime,
		EndsAt:            in.Payload.EndTime,
		Status:            in.Payload.Status,
		Metadata:          ledger.Metadata(in.Payload.Metadata),
	}
	if len(in.Payload.Attendees) > 0 {
		evt.AttendeeEmail = strings.TrimSpace(in.Payload.Attendees[0].Email)
		evt.AttendeeName = strings.TrimSpace(in.Payload.Attendees[0].Name)
	}
	return evt, nil
}

func classifyTrigger(trigger string) ledger.TriggerKind {
	switch trigger {
	case TriggerScheduled:
		return ledger.TriggerCreated
	case TriggerRescheduled:
		return ledger.TriggerRescheduled
	case TriggerCanceled:
		return ledger.TriggerCancelled
	}
	return ledger.TriggerOther
}
