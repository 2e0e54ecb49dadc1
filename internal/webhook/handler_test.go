package webhook

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/theramatch/booking-platform/internal/ledger"
)

type fakeIngester struct {
	ingested []ledger.ProviderEvent
	observed []string
	err      error
}

func (f *fakeIngester) Ingest(_ context.Context, evt ledger.ProviderEvent) (*ledger.BookingRecord, error) {
	f.ingested = append(f.ingested, evt)
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.BookingRecord{ExternalBookingID: evt.ExternalBookingID}, nil
}

func (f *fakeIngester) Observe(_ context.Context, _ ledger.ProviderEvent, reason string) {
	f.observed = append(f.observed, reason)
}

const testSecret = "webhook-secret"

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/acuity", bytes.NewReader([]byte(body)))
	req.Header.Set(SignatureHeader, ComputeSignature(testSecret, []byte(body)))
	return req
}

const scheduledBody = `{
	"trigger": "appointment.scheduled",
	"payload": {
		"id": "ext-1",
		"calendar": "dr-amara",
		"type": "intro",
		"attendees": [{"email": "sam@example.com", "name": "Sam Rivera"}],
		"start_time": "2026-09-01T09:00:00Z",
		"end_time": "2026-09-01T09:50:00Z",
		"status": "scheduled"
	}
}`

func TestHandler_ProcessesScheduledEvent(t *testing.T) {
	led := &fakeIngester{}
	h := NewHandler(testSecret, led, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, signedRequest(t, scheduledBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(led.ingested) != 1 || led.ingested[0].ExternalBookingID != "ext-1" {
		t.Errorf("expected one ingest for ext-1, got %+v", led.ingested)
	}
}

func TestHandler_TamperedBodyRejected(t *testing.T) {
	led := &fakeIngester{}
	h := NewHandler(testSecret, led, nil)

	// Original signature over a mutated body.
	tampered := []byte(scheduledBody)
	tampered[len(tampered)-3] ^= 0x01
	req := httptest.NewRequest(http.MethodPost, "/webhooks/acuity", bytes.NewReader(tampered))
	req.Header.Set(SignatureHeader, ComputeSignature(testSecret, []byte(scheduledBody)))

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(led.ingested) != 0 {
		t.Error("rejected delivery must not reach the ledger")
	}
}

func TestHandler_MissingSignatureRejected(t *testing.T) {
	h := NewHandler(testSecret, &fakeIngester{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/acuity", bytes.NewReader([]byte(scheduledBody)))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_MalformedBody(t *testing.T) {
	led := &fakeIngester{}
	h := NewHandler(testSecret, led, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, signedRequest(t, "not json"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(led.ingested) != 0 {
		t.Error("malformed delivery must not reach the ledger")
	}
}

func TestHandler_SkipsWithoutExternalID(t *testing.T) {
	led := &fakeIngester{}
	h := NewHandler(testSecret, led, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, signedRequest(t, `{"trigger": "appointment.scheduled", "payload": {}}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("skipped events must still ack 200, got %d", rec.Code)
	}
	if len(led.ingested) != 0 {
		t.Error("event without external id must not be ingested")
	}
	if len(led.observed) != 1 {
		t.Errorf("expected one observed event, got %v", led.observed)
	}
}

func TestHandler_SkipsUnprocessableTrigger(t *testing.T) {
	led := &fakeIngester{}
	h := NewHandler(testSecret, led, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, signedRequest(t, `{"trigger": "appointment.no_show", "payload": {"id": "ext-9"}}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("observable events must ack 200, got %d", rec.Code)
	}
	if len(led.ingested) != 0 || len(led.observed) != 1 {
		t.Errorf("expected observe-only handling, ingested=%v observed=%v", led.ingested, led.observed)
	}
}

func TestHandler_StorageFailureIs500(t *testing.T) {
	led := &fakeIngester{err: errors.New("connection reset")}
	h := NewHandler(testSecret, led, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, signedRequest(t, scheduledBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("storage failures must be retryable 500s, got %d", rec.Code)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(testSecret, &fakeIngester{}, nil)
	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/webhooks/acuity", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
