package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/theramatch/booking-platform/internal/availability"
	"github.com/theramatch/booking-platform/pkg/logging"
)

type slotReader interface {
	Get(ctx context.Context, therapistID, kind string, from, to time.Time) ([]availability.Slot, error)
}

// AvailabilityHandler serves the user-facing slot read path.
type AvailabilityHandler struct {
	slots  slotReader
	logger *logging.Logger
}

// NewAvailabilityHandler creates the handler.
func NewAvailabilityHandler(slots slotReader, logger *logging.Logger) *AvailabilityHandler {
	if slots == nil {
		panic("handlers: availability service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityHandler{slots: slots, logger: logger}
}

type availabilityResponse struct {
	TherapistID string              `json:"therapist_id"`
	Kind        string              `json:"kind"`
	Slots       []availability.Slot `json:"slots"`
}

// GetSlots handles GET /api/availability?therapist_id=&kind=&from=&to=.
// from/to are optional RFC 3339 bounds on the returned window.
func (h *AvailabilityHandler) GetSlots(w http.ResponseWriter, r *http.Request) {
	therapistID := strings.TrimSpace(r.URL.Query().Get("therapist_id"))
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if therapistID == "" || kind == "" {
		http.Error(w, "therapist_id and kind are required", http.StatusBadRequest)
		return
	}

	from, ok := parseInstant(w, r.URL.Query().Get("from"))
	if !ok {
		return
	}
	to, ok := parseInstant(w, r.URL.Query().Get("to"))
	if !ok {
		return
	}

	slots, err := h.slots.Get(r.Context(), therapistID, kind, from, to)
	if err != nil {
		if errors.Is(err, availability.ErrUnknownKind) {
			http.Error(w, "unknown booking kind", http.StatusBadRequest)
			return
		}
		h.logger.Error("availability read failed", "error", err, "therapist_id", therapistID)
		http.Error(w, "availability unavailable", http.StatusBadGateway)
		return
	}
	if slots == nil {
		slots = []availability.Slot{}
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		TherapistID: therapistID,
		Kind:        kind,
		Slots:       slots,
	})
}

func parseInstant(w http.ResponseWriter, raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		http.Error(w, "from/to must be RFC 3339 timestamps", http.StatusBadRequest)
		return time.Time{}, false
	}
	return t, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
