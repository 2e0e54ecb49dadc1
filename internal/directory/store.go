package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Store looks up therapists and patients in the relational database.
type Store struct {
	db *sql.DB
}

// NewStore creates a directory store.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("directory: db required")
	}
	return &Store{db: db}
}

// TherapistByHandle resolves a provider calendar handle to a therapist.
func (s *Store) TherapistByHandle(ctx context.Context, handle string) (*Therapist, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, ErrTherapistNotFound
	}
	query := `
		SELECT id, handle, name, email, created_at
		FROM therapists
		WHERE handle = $1
	`
	var t Therapist
	err := s.db.QueryRowContext(ctx, query, handle).Scan(&t.ID, &t.Handle, &t.Name, &t.Email, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTherapistNotFound
		}
		return nil, fmt.Errorf("directory: select therapist: %w", err)
	}
	return &t, nil
}

// TherapistByID loads a therapist by id.
func (s *Store) TherapistByID(ctx context.Context, id string) (*Therapist, error) {
	query := `
		SELECT id, handle, name, email, created_at
		FROM therapists
		WHERE id = $1
	`
	var t Therapist
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Handle, &t.Name, &t.Email, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTherapistNotFound
		}
		return nil, fmt.Errorf("directory: select therapist by id: %w", err)
	}
	return &t, nil
}

// PatientByID loads a patient by id.
func (s *Store) PatientByID(ctx context.Context, id string) (*Patient, error) {
	query := `
		SELECT id, email, name, phone, created_at
		FROM patients
		WHERE id = $1
	`
	var p Patient
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Email, &p.Name, &p.Phone, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("directory: select patient by id: %w", err)
	}
	return &p, nil
}

// PatientByEmail resolves a contact email to the most recently created patient.
// Email is not a unique key; newest-first is a documented heuristic.
func (s *Store) PatientByEmail(ctx context.Context, email string) (*Patient, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrPatientNotFound
	}
	query := `
		SELECT id, email, name, phone, created_at
		FROM patients
		WHERE lower(email) = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var p Patient
	err := s.db.QueryRowContext(ctx, query, email).Scan(&p.ID, &p.Email, &p.Name, &p.Phone, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("directory: select patient by email: %w", err)
	}
	return &p, nil
}
