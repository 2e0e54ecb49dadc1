package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/theramatch/booking-platform/internal/alerting"
	"github.com/theramatch/booking-platform/internal/directory"
	"github.com/theramatch/booking-platform/internal/events"
)

type fakeDirectory struct {
	therapists map[string]*directory.Therapist
	patients   map[string]*directory.Patient
	byEmail    map[string]*directory.Patient
}

func (f *fakeDirectory) TherapistByHandle(_ context.Context, handle string) (*directory.Therapist, error) {
	if t, ok := f.therapists[handle]; ok {
		return t, nil
	}
	return nil, directory.ErrTherapistNotFound
}

func (f *fakeDirectory) PatientByID(_ context.Context, id string) (*directory.Patient, error) {
	if p, ok := f.patients[id]; ok {
		return p, nil
	}
	return nil, directory.ErrPatientNotFound
}

func (f *fakeDirectory) PatientByEmail(_ context.Context, email string) (*directory.Patient, error) {
	if p, ok := f.byEmail[email]; ok {
		return p, nil
	}
	return nil, directory.ErrPatientNotFound
}

type recordingCache struct{ invalidated []string }

func (r *recordingCache) Invalidate(_ context.Context, therapistID string) error {
	r.invalidated = append(r.invalidated, therapistID)
	return nil
}

type recordingEnqueuer struct{ enqueued []string }

func (r *recordingEnqueuer) EnqueueBookingConfirmation(_ context.Context, externalBookingID string) error {
	r.enqueued = append(r.enqueued, externalBookingID)
	return nil
}

type recordingTracker struct{ failures []string }

func (r *recordingTracker) RecordFailure(_ context.Context, externalBookingID, _ string, _ error) alerting.Decision {
	r.failures = append(r.failures, externalBookingID)
	return alerting.Decision{FailureCount: len(r.failures)}
}

type recordingLog struct{ appended []string }

func (r *recordingLog) Append(_ context.Context, _, _ string, evt events.CanonicalEvent, _ ...events.EnvelopeOption) (events.Envelope, error) {
	r.appended = append(r.appended, evt.EventType())
	return events.Envelope{}, nil
}

func testEvent() ProviderEvent {
	now := time.Now().UTC().Truncate(time.Second)
	return ProviderEvent{
		Trigger:           TriggerCreated,
		RawTrigger:        "appointment.scheduled",
		ExternalBookingID: "ext-1",
		ResourceHandle:    "dr-amara",
		AttendeeEmail:     "sam@example.com",
		Kind:              "intro",
		StartsAt:          now,
		EndsAt:            now.Add(50 * time.Minute),
		Status:            "scheduled",
		Metadata:          Metadata{"source": "webhook"},
	}
}

// anyUpsertArgs matches the 12 arguments passed by Repository.UpsertBooking.
func anyUpsertArgs() []interface{} {
	args := make([]interface{}, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newServiceForTest(t *testing.T, mock pgxmock.PgxPoolIface, dir Directory) (*Service, *recordingCache, *recordingEnqueuer, *recordingTracker, *recordingLog) {
	t.Helper()
	cache := &recordingCache{}
	enqueuer := &recordingEnqueuer{}
	tracker := &recordingTracker{}
	log := &recordingLog{}
	svc := NewService(newRepositoryWithQuerier(mock), dir, nil).
		WithCacheInvalidator(cache).
		WithNotifications(enqueuer).
		WithFailureTracker(tracker).
		WithEventLog(log)
	return svc, cache, enqueuer, tracker, log
}

func TestService_Ingest_CreateFiresSideEffects(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	dir := &fakeDirectory{
		therapists: map[string]*directory.Therapist{"dr-amara": {ID: "t-1", Handle: "dr-amara"}},
		byEmail:    map[string]*directory.Patient{"sam@example.com": {ID: "p-1"}},
	}
	svc, cache, enqueuer, tracker, log := newServiceForTest(t, mock, dir)

	// Mirror the RETURNING clause: the resolved therapist and patient ids come
	// back on the upserted row.
	metaJSON, err := json.Marshal(Metadata{"source": "webhook"})
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	now := time.Now().UTC()
	therapistID, patientID := "t-1", "p-1"
	rows := pgxmock.NewRows([]string{
		"id", "external_booking_id", "last_trigger_event", "therapist_id", "patient_id",
		"match_id", "kind", "starts_at", "ends_at", "status", "is_test", "metadata",
		"patient_notified_at", "therapist_notified_at", "created_at", "updated_at",
	}).AddRow(
		"b-1", "ext-1", string(TriggerCreated), &therapistID, &patientID,
		nil, "intro", now, now.Add(50*time.Minute), "scheduled", false, metaJSON,
		nil, nil, now, now,
	)
	mock.ExpectQuery("INSERT INTO bookings").WithArgs(anyUpsertArgs()...).WillReturnRows(rows)

	record, err := svc.Ingest(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if record.ExternalBookingID != "ext-1" {
		t.Errorf("unexpected record %+v", record)
	}
	if len(cache.invalidated) != 1 {
		t.Errorf("expected cache invalidation, got %v", cache.invalidated)
	}
	if len(enqueuer.enqueued) != 1 || enqueuer.enqueued[0] != "ext-1" {
		t.Errorf("expected notification enqueue for ext-1, got %v", enqueuer.enqueued)
	}
	if len(tracker.failures) != 0 {
		t.Errorf("no failures expected, got %v", tracker.failures)
	}
	if len(log.appended) != 1 || log.appended[0] != events.TypeBookingIngested {
		t.Errorf("expected ingested analytics event, got %v", log.appended)
	}
}

func TestService_Ingest_RescheduleSkipsCreateSideEffects(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	svc, cache, enqueuer, _, _ := newServiceForTest(t, mock, &fakeDirectory{})

	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(anyUpsertArgs()...).
		WillReturnRows(bookingRows(t, "ext-1", TriggerRescheduled, nil))

	evt := testEvent()
	evt.Trigger = TriggerRescheduled
	if _, err := svc.Ingest(context.Background(), evt); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if len(cache.invalidated) != 0 || len(enqueuer.enqueued) != 0 {
		t.Error("reschedule must not fire create side effects")
	}
}

func TestService_Ingest_UpsertFailureTracked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	svc, cache, enqueuer, tracker, _ := newServiceForTest(t, mock, &fakeDirectory{})

	mock.ExpectQuery("INSERT INTO bookings").WillReturnError(errors.New("connection reset"))

	if _, err := svc.Ingest(context.Background(), testEvent()); err == nil {
		t.Fatal("expected upsert error to propagate")
	}
	if len(tracker.failures) != 1 || tracker.failures[0] != "ext-1" {
		t.Errorf("expected tracked failure for ext-1, got %v", tracker.failures)
	}
	if len(cache.invalidated) != 0 || len(enqueuer.enqueued) != 0 {
		t.Error("side effects must not fire on failed upsert")
	}
}

func TestService_Ingest_UnmatchedResourceStillWrites(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	// Empty directory: neither resource handle nor attendee resolve.
	svc, cache, _, _, _ := newServiceForTest(t, mock, &fakeDirectory{})

	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(anyUpsertArgs()...).
		WillReturnRows(bookingRows(t, "ext-1", TriggerCreated, nil))

	record, err := svc.Ingest(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if record.TherapistID != nil {
		t.Error("expected nil therapist id for unmatched handle")
	}
	// No resolved resource means nothing to invalidate.
	if len(cache.invalidated) != 0 {
		t.Errorf("unexpected invalidation %v", cache.invalidated)
	}
}

func TestService_Ingest_MetadataSubjectPreferred(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	dir := &fakeDirectory{
		patients: map[string]*directory.Patient{"p-meta": {ID: "p-meta"}},
		byEmail:  map[string]*directory.Patient{"sam@example.com": {ID: "p-email"}},
	}
	svc := NewService(newRepositoryWithQuerier(mock), dir, nil)

	evt := testEvent()
	evt.Metadata = Metadata{MetaSubjectID: "p-meta"}
	params := svc.resolve(context.Background(), evt)
	if params.PatientID == nil || *params.PatientID != "p-meta" {
		t.Fatalf("expected metadata subject id preferred, got %v", params.PatientID)
	}

	// Unknown metadata subject falls back to the email heuristic.
	evt.Metadata = Metadata{MetaSubjectID: "p-gone"}
	params = svc.resolve(context.Background(), evt)
	if params.PatientID == nil || *params.PatientID != "p-email" {
		t.Fatalf("expected email fallback, got %v", params.PatientID)
	}
}

func TestService_Ingest_RejectsUnprocessable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	svc := NewService(newRepositoryWithQuerier(mock), &fakeDirectory{}, nil)

	evt := testEvent()
	evt.Trigger = TriggerOther
	if _, err := svc.Ingest(context.Background(), evt); err == nil {
		t.Fatal("expected error for unprocessable trigger")
	}

	evt = testEvent()
	evt.ExternalBookingID = ""
	if _, err := svc.Ingest(context.Background(), evt); err == nil {
		t.Fatal("expected error for missing external id")
	}
}
