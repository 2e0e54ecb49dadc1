package acuity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("user-1", "key-1", server.URL, nil)
}

func TestGetAvailableTimes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/availability/times" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "user-1" || pass != "key-1" {
			t.Error("expected basic auth credentials")
		}
		q := r.URL.Query()
		if q.Get("calendar") != "dr-amara" || q.Get("appointmentTypeID") != "intro" {
			t.Errorf("unexpected query %v", q)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"times": []map[string]string{
				{"time": "2025-06-02T09:00:00Z"},
				{"time": "2025-06-02T10:00:00Z"},
				{"time": "bogus"},
			},
		})
	})

	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	slots, err := client.GetAvailableTimes(context.Background(), "dr-amara", "intro", from, from.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Unparsable instants are skipped.
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Time.Equal(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected first slot %v", slots[0].Time)
	}
}

func TestCreateAppointment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/appointments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Metadata["subject_id"] != "p-1" {
			t.Errorf("expected metadata threaded through, got %v", req.Metadata)
		}
		_ = json.NewEncoder(w).Encode(Appointment{
			ID:                "appt-42",
			CalendarHandle:    req.CalendarHandle,
			AppointmentTypeID: req.AppointmentTypeID,
			Datetime:          req.Datetime,
			Status:            "scheduled",
		})
	})

	appt, err := client.CreateAppointment(context.Background(), CreateAppointmentRequest{
		CalendarHandle:    "dr-amara",
		AppointmentTypeID: "intro",
		Datetime:          time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		FirstName:         "Sam",
		LastName:          "Reyes",
		Email:             "sam@example.com",
		Metadata:          map[string]string{"subject_id": "p-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.ID != "appt-42" {
		t.Errorf("unexpected appointment id %q", appt.ID)
	}
}

func TestCreateAppointment_SlotTaken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(apiError{
			StatusCode: 400,
			ErrorCode:  "not_available",
			Message:    "That time is not available.",
		})
	})

	_, err := client.CreateAppointment(context.Background(), CreateAppointmentRequest{
		CalendarHandle:    "dr-amara",
		AppointmentTypeID: "intro",
		Datetime:          time.Now().UTC(),
	})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
}

func TestCreateAppointment_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("oops"))
	})

	_, err := client.CreateAppointment(context.Background(), CreateAppointmentRequest{
		CalendarHandle:    "dr-amara",
		AppointmentTypeID: "intro",
		Datetime:          time.Now().UTC(),
	})
	if err == nil || errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected generic error, got %v", err)
	}
}

func TestClient_MissingCredentials(t *testing.T) {
	client := NewClient("", "", "http://localhost:0", nil)
	_, err := client.GetAvailableTimes(context.Background(), "dr-amara", "intro", time.Now(), time.Now())
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
}
