package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/theramatch/booking-platform/internal/ledger"
	"github.com/theramatch/booking-platform/internal/observability/metrics"
	"github.com/theramatch/booking-platform/pkg/logging"
)

type ingester interface {
	Ingest(ctx context.Context, evt ledger.ProviderEvent) (*ledger.BookingRecord, error)
	Observe(ctx context.Context, evt ledger.ProviderEvent, reason string)
}

// Handler is the provider-facing ingestion endpoint.
//
// Response contract: 401 for signature failures, 400 for unparsable bodies,
// 200 for both processed and intentionally skipped events (the provider must
// never retry events this system deliberately ignores), and 500 only for
// storage failures, which the provider's redelivery retries until they heal.
type Handler struct {
	secret  string
	ledger  ingester
	dedupe  *DedupeGuard
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// NewHandler constructs the ingestion endpoint.
func NewHandler(secret string, led ingester, logger *logging.Logger) *Handler {
	if led == nil {
		panic("webhook: ledger service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{secret: strings.TrimSpace(secret), ledger: led, logger: logger}
}

// WithDedupeGuard wires the redelivery short-circuit.
func (h *Handler) WithDedupeGuard(guard *DedupeGuard) *Handler {
	h.dedupe = guard
	return h
}

// WithMetrics wires ingest counters.
func (h *Handler) WithMetrics(m *metrics.BookingMetrics) *Handler {
	h.metrics = m
	return h
}

// Handle processes one provider delivery.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if result := VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)); !result.Valid {
		h.logger.Warn("webhook signature rejected", "reason", result.Reason)
		h.metrics.ObserveIngest("unknown", "unauthorized")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if !h.dedupe.FirstDelivery(r.Context(), body) {
		h.metrics.ObserveDedupeShortCircuit()
		h.logger.Info("duplicate delivery short-circuited")
		h.ack(w, "duplicate")
		return
	}

	evt, err := Normalize(body)
	if err != nil {
		h.logger.Warn("webhook body rejected", "error", err)
		h.metrics.ObserveIngest("unknown", "invalid")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	switch {
	case evt.ExternalBookingID == "":
		h.ledger.Observe(r.Context(), evt, "missing external booking id")
		h.metrics.ObserveIngest(evt.RawTrigger, "skipped")
		h.ack(w, "skipped")
	case !evt.Processable():
		h.ledger.Observe(r.Context(), evt, "trigger not processed")
		h.metrics.ObserveIngest(evt.RawTrigger, "skipped")
		h.ack(w, "skipped")
	default:
		if _, err := h.ledger.Ingest(r.Context(), evt); err != nil {
			// Retryable: the provider redelivers until storage recovers.
			h.logger.Error("webhook ingestion failed", "error", err,
				"external_booking_id", evt.ExternalBookingID, "trigger", evt.RawTrigger)
			h.metrics.ObserveIngest(evt.RawTrigger, "failed")
			http.Error(w, "ingestion failed", http.StatusInternalServerError)
			return
		}
		h.metrics.ObserveIngest(evt.RawTrigger, "processed")
		h.ack(w, "processed")
	}
}

func (h *Handler) ack(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": status}); err != nil {
		h.logger.Error("failed to write webhook ack", "error", err)
	}
}
