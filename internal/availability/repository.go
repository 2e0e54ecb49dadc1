package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEntryNotFound is returned when no cache row exists for the therapist.
var ErrEntryNotFound = errors.New("availability: cache entry not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists one cache row per therapist. The row is always safe to
// recompute from the provider, so it is never independently deleted.
type Repository struct {
	pool querier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("availability: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("availability: querier required")
	}
	return &Repository{pool: q}
}

// Get loads the cache row for a therapist.
func (r *Repository) Get(ctx context.Context, therapistID string) (*Entry, error) {
	query := `
		SELECT therapist_id, slots, cached_at, last_error
		FROM availability_cache
		WHERE therapist_id = $1
	`
	var entry Entry
	var slots []byte
	err := r.pool.QueryRow(ctx, query, therapistID).Scan(&entry.TherapistID, &slots, &entry.CachedAt, &entry.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("availability: select cache entry: %w", err)
	}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &entry.Slots); err != nil {
			return nil, fmt.Errorf("availability: unmarshal slots: %w", err)
		}
	}
	return &entry, nil
}

// Put overwrites the slot lists after a successful refresh, resetting
// cached_at and clearing last_error.
func (r *Repository) Put(ctx context.Context, therapistID string, slots map[string][]Slot) error {
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("availability: marshal slots: %w", err)
	}
	query := `
		INSERT INTO availability_cache (therapist_id, slots, cached_at, last_error)
		VALUES ($1, $2, now(), NULL)
		ON CONFLICT (therapist_id) DO UPDATE SET
			slots = EXCLUDED.slots,
			cached_at = now(),
			last_error = NULL
	`
	if _, err := r.pool.Exec(ctx, query, therapistID, data); err != nil {
		return fmt.Errorf("availability: put cache entry: %w", err)
	}
	return nil
}

// RecordError notes a failed refresh without discarding the previous
// stale-but-known-good slot lists. Update-only: when no row exists there is
// no known-good data to annotate, and inserting a placeholder would let later
// reads mistake an empty slot list for a real snapshot.
func (r *Repository) RecordError(ctx context.Context, therapistID, message string) error {
	query := `
		UPDATE availability_cache
		SET last_error = $2
		WHERE therapist_id = $1
	`
	if _, err := r.pool.Exec(ctx, query, therapistID, message); err != nil {
		return fmt.Errorf("availability: record refresh error: %w", err)
	}
	return nil
}

// Invalidate rewinds cached_at so the next read bypasses the TTL and
// refreshes synchronously. Missing rows are fine; creation stays lazy.
func (r *Repository) Invalidate(ctx context.Context, therapistID string) error {
	query := `
		UPDATE availability_cache
		SET cached_at = to_timestamp(0)
		WHERE therapist_id = $1
	`
	if _, err := r.pool.Exec(ctx, query, therapistID); err != nil {
		return fmt.Errorf("availability: invalidate cache entry: %w", err)
	}
	return nil
}
