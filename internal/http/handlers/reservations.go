package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/theramatch/booking-platform/internal/reservation"
	"github.com/theramatch/booking-platform/pkg/logging"
)

type reserver interface {
	Reserve(ctx context.Context, req reservation.Request) (*reservation.Handle, error)
}

// ReservationsHandler serves the user-facing booking write path.
type ReservationsHandler struct {
	coordinator reserver
	logger      *logging.Logger
}

// NewReservationsHandler creates the handler.
func NewReservationsHandler(coordinator reserver, logger *logging.Logger) *ReservationsHandler {
	if coordinator == nil {
		panic("handlers: reservation coordinator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReservationsHandler{coordinator: coordinator, logger: logger}
}

type reservationRequest struct {
	TherapistID string    `json:"therapist_id"`
	PatientID   string    `json:"patient_id"`
	MatchID     string    `json:"match_id,omitempty"`
	Kind        string    `json:"kind"`
	SlotAt      time.Time `json:"slot_at"`
	Notes       string    `json:"notes,omitempty"`
	TestMode    bool      `json:"test_mode,omitempty"`
}

type reservationError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Create handles POST /api/reservations.
//
// A 409 with code slot_taken is deliberately distinct from generic failure:
// the client must refresh availability and re-pick instead of retrying the
// same slot.
func (h *ReservationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, reservationError{Error: "invalid JSON body", Code: "bad_request"})
		return
	}

	handle, err := h.coordinator.Reserve(r.Context(), reservation.Request{
		TherapistID: strings.TrimSpace(in.TherapistID),
		PatientID:   strings.TrimSpace(in.PatientID),
		MatchID:     strings.TrimSpace(in.MatchID),
		Kind:        strings.TrimSpace(in.Kind),
		SlotAt:      in.SlotAt,
		Notes:       in.Notes,
		TestMode:    in.TestMode,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, handle)
	case errors.Is(err, reservation.ErrSlotTaken):
		writeJSON(w, http.StatusConflict, reservationError{
			Error: "that time was just taken; please pick another slot",
			Code:  "slot_taken",
		})
	case errors.Is(err, reservation.ErrAmbiguousOutcome):
		writeJSON(w, http.StatusGatewayTimeout, reservationError{
			Error: "the scheduling provider did not respond; the booking may not have been placed",
			Code:  "ambiguous_outcome",
		})
	case errors.Is(err, reservation.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, reservationError{Error: err.Error(), Code: "bad_request"})
	default:
		h.logger.Error("reservation failed", "error", err, "therapist_id", in.TherapistID)
		writeJSON(w, http.StatusInternalServerError, reservationError{Error: "reservation failed", Code: "internal"})
	}
}
