// Package alerting escalates repeated ingestion failures for one external
// booking id. Counts come from the durable event log, not process memory, so
// they survive restarts and agree across horizontally scaled instances.
package alerting

import (
	"context"
	"time"

	"github.com/theramatch/booking-platform/internal/events"
	"github.com/theramatch/booking-platform/internal/observability/metrics"
	"github.com/theramatch/booking-platform/pkg/logging"
)

const (
	defaultWindow    = time.Hour
	defaultThreshold = 3
)

// Decision reports the outcome of recording one failure.
type Decision struct {
	FailureCount int
	Alerted      bool
}

type eventLog interface {
	Append(ctx context.Context, aggregate, correlationID string, evt events.CanonicalEvent, opts ...events.EnvelopeOption) (events.Envelope, error)
	CountSince(ctx context.Context, eventType, correlationID string, since time.Time) (int, error)
}

// Tracker records ingestion failures and raises alert events past a threshold.
type Tracker struct {
	log       eventLog
	logger    *logging.Logger
	window    time.Duration
	threshold int
	metrics   *metrics.BookingMetrics
	nowFunc   func() time.Time
}

// NewTracker creates a failure tracker over the event log.
func NewTracker(log eventLog, logger *logging.Logger) *Tracker {
	if log == nil {
		panic("alerting: event log required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		log:       log,
		logger:    logger,
		window:    defaultWindow,
		threshold: defaultThreshold,
		nowFunc:   time.Now,
	}
}

// WithWindow overrides the trailing window.
func (t *Tracker) WithWindow(window time.Duration) *Tracker {
	if window > 0 {
		t.window = window
	}
	return t
}

// WithThreshold overrides the alert threshold.
func (t *Tracker) WithThreshold(threshold int) *Tracker {
	if threshold > 0 {
		t.threshold = threshold
	}
	return t
}

// WithMetrics wires alert counting.
func (t *Tracker) WithMetrics(m *metrics.BookingMetrics) *Tracker {
	t.metrics = m
	return t
}

// RecordFailure appends a failure observation and escalates when the trailing
// window count reaches the threshold. Alerts may fire more than once past the
// threshold; missing one is the failure mode this component exists to prevent.
// There is no success path: every step that goes wrong is logged and the best
// known decision is returned anyway.
func (t *Tracker) RecordFailure(ctx context.Context, externalBookingID, trigger string, cause error) Decision {
	now := t.nowFunc().UTC()
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}

	if _, err := t.log.Append(ctx, "booking", externalBookingID, events.IngestFailedV1{
		ExternalBookingID: externalBookingID,
		Trigger:           trigger,
		Error:             causeText,
		OccurredAt:        now,
	}); err != nil {
		t.logger.Error("failed to append ingest failure", "error", err, "external_booking_id", externalBookingID)
		return Decision{}
	}

	count, err := t.log.CountSince(ctx, events.TypeIngestFailed, externalBookingID, now.Add(-t.window))
	if err != nil {
		t.logger.Error("failed to count ingest failures", "error", err, "external_booking_id", externalBookingID)
		return Decision{FailureCount: 1}
	}

	decision := Decision{FailureCount: count}
	if count >= t.threshold {
		decision.Alerted = true
		t.metrics.ObserveIngestAlert()
		t.logger.Error("repeated ingest failures for booking",
			"external_booking_id", externalBookingID,
			"failure_count", count,
			"window", t.window.String(),
		)
		if _, err := t.log.Append(ctx, "booking", externalBookingID, events.IngestAlertV1{
			ExternalBookingID: externalBookingID,
			FailureCount:      count,
			WindowSeconds:     int64(t.window.Seconds()),
			OccurredAt:        now,
		}); err != nil {
			t.logger.Error("failed to append ingest alert", "error", err, "external_booking_id", externalBookingID)
		}
	}
	return decision
}
