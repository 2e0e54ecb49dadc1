package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theramatch/booking-platform/internal/acuity"
	"github.com/theramatch/booking-platform/internal/directory"
	"github.com/theramatch/booking-platform/internal/observability/metrics"
	"github.com/theramatch/booking-platform/pkg/logging"
)

const (
	defaultTTL     = 10 * time.Minute
	defaultCap     = 3
	defaultHorizon = 14 * 24 * time.Hour
)

// KindIntro and KindFullSession are the booking kinds exposed to end users.
const (
	KindIntro       = "intro"
	KindFullSession = "full_session"
)

// ErrUnknownKind is returned for booking kinds with no provider mapping.
var ErrUnknownKind = errors.New("availability: unknown booking kind")

type store interface {
	Get(ctx context.Context, therapistID string) (*Entry, error)
	Put(ctx context.Context, therapistID string, slots map[string][]Slot) error
	RecordError(ctx context.Context, therapistID, message string) error
	Invalidate(ctx context.Context, therapistID string) error
}

type providerAPI interface {
	GetAvailableTimes(ctx context.Context, calendarHandle, appointmentTypeID string, from, to time.Time) ([]acuity.TimeSlot, error)
}

type therapistDirectory interface {
	TherapistByID(ctx context.Context, id string) (*directory.Therapist, error)
}

// Service is the read path for bookable slots. The cache is only ever a read
// optimization over the provider's live calendar: entries are refreshed when
// absent or past the TTL, and ledger writes invalidate them so the next read
// refreshes synchronously.
type Service struct {
	store    store
	provider providerAPI
	dir      therapistDirectory
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics

	ttl     time.Duration
	cap     int
	horizon time.Duration
	// kinds maps a booking kind to the provider appointment type id.
	kinds map[string]string
}

// NewService constructs the availability read path.
func NewService(st store, provider providerAPI, dir therapistDirectory, logger *logging.Logger) *Service {
	if st == nil {
		panic("availability: store required")
	}
	if provider == nil {
		panic("availability: provider client required")
	}
	if dir == nil {
		panic("availability: therapist directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    st,
		provider: provider,
		dir:      dir,
		logger:   logger,
		ttl:      defaultTTL,
		cap:      defaultCap,
		horizon:  defaultHorizon,
		kinds: map[string]string{
			KindIntro:       KindIntro,
			KindFullSession: KindFullSession,
		},
	}
}

// WithTTL overrides the freshness bound.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithDailyCap overrides the scarcity cap.
func (s *Service) WithDailyCap(n int) *Service {
	if n > 0 {
		s.cap = n
	}
	return s
}

// WithKinds overrides the kind to provider appointment type mapping.
func (s *Service) WithKinds(kinds map[string]string) *Service {
	if len(kinds) > 0 {
		s.kinds = kinds
	}
	return s
}

// WithMetrics wires refresh latency observation.
func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// Get returns the user-facing slots for one therapist and kind within
// [from, to). The scarcity filter runs after freshness resolution.
func (s *Service) Get(ctx context.Context, therapistID, kind string, from, to time.Time) ([]Slot, error) {
	slots, err := s.RawSlots(ctx, therapistID, kind)
	if err != nil {
		return nil, err
	}
	return applyScarcity(filterWindow(slots, from, to), s.cap), nil
}

// RawSlots returns the unfiltered cached slots for one therapist and kind,
// resolving freshness first. The reservation coordinator uses this for its
// optimistic pre-check, where hiding slots would cause false conflicts.
func (s *Service) RawSlots(ctx context.Context, therapistID, kind string) ([]Slot, error) {
	if _, ok := s.kinds[kind]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	entry, err := s.ensureFresh(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	return entry.Slots[kind], nil
}

// Invalidate rewinds the entry's cached_at so the next read bypasses the TTL.
func (s *Service) Invalidate(ctx context.Context, therapistID string) error {
	return s.store.Invalidate(ctx, therapistID)
}

func (s *Service) ensureFresh(ctx context.Context, therapistID string) (*Entry, error) {
	previous, err := s.store.Get(ctx, therapistID)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		return nil, err
	}
	if previous != nil && time.Since(previous.CachedAt) < s.ttl {
		return previous, nil
	}

	fresh, refreshErr := s.refresh(ctx, therapistID)
	if refreshErr == nil {
		return fresh, nil
	}

	if recordErr := s.store.RecordError(ctx, therapistID, refreshErr.Error()); recordErr != nil {
		s.logger.Error("failed to record availability refresh error", "error", recordErr, "therapist_id", therapistID)
	}
	if previous == nil {
		return nil, refreshErr
	}
	// Stale-but-known-good beats failing the read outright.
	s.logger.Warn("availability refresh failed; serving stale entry",
		"therapist_id", therapistID,
		"cached_at", previous.CachedAt,
		"error", refreshErr,
	)
	msg := refreshErr.Error()
	previous.LastError = &msg
	return previous, nil
}

// refresh pulls the provider's resolved slot list for every configured kind
// and overwrites the materialized entry. A refresh racing a concurrent
// invalidation may produce data that is immediately stale again; the next
// read simply refreshes once more.
func (s *Service) refresh(ctx context.Context, therapistID string) (*Entry, error) {
	started := time.Now()

	entry, err := s.fetch(ctx, therapistID)
	if err != nil {
		s.metrics.ObserveRefreshLatency("error", time.Since(started).Seconds())
		return nil, err
	}
	if err := s.store.Put(ctx, therapistID, entry.Slots); err != nil {
		s.metrics.ObserveRefreshLatency("error", time.Since(started).Seconds())
		return nil, err
	}
	s.metrics.ObserveRefreshLatency("ok", time.Since(started).Seconds())
	return entry, nil
}

func (s *Service) fetch(ctx context.Context, therapistID string) (*Entry, error) {
	therapist, err := s.dir.TherapistByID(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("availability: resolve therapist %s: %w", therapistID, err)
	}

	from := time.Now().UTC()
	to := from.Add(s.horizon)

	slots := make(map[string][]Slot, len(s.kinds))
	for kind, appointmentTypeID := range s.kinds {
		times, err := s.provider.GetAvailableTimes(ctx, therapist.Handle, appointmentTypeID, from, to)
		if err != nil {
			return nil, fmt.Errorf("availability: fetch %s slots for %s: %w", kind, therapist.Handle, err)
		}
		kindSlots := make([]Slot, 0, len(times))
		for _, t := range times {
			kindSlots = append(kindSlots, newSlot(t.Time))
		}
		slots[kind] = kindSlots
	}

	return &Entry{
		TherapistID: therapistID,
		Slots:       slots,
		CachedAt:    time.Now().UTC(),
	}, nil
}

func filterWindow(slots []Slot, from, to time.Time) []Slot {
	if from.IsZero() && to.IsZero() {
		return slots
	}
	filtered := make([]Slot, 0, len(slots))
	for _, slot := range slots {
		if !from.IsZero() && slot.At.Before(from) {
			continue
		}
		if !to.IsZero() && !slot.At.Before(to) {
			continue
		}
		filtered = append(filtered, slot)
	}
	return filtered
}
