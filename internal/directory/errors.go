package directory

import "errors"

var (
	// ErrTherapistNotFound is returned when no therapist matches the lookup.
	ErrTherapistNotFound = errors.New("therapist not found")

	// ErrPatientNotFound is returned when no patient matches the lookup.
	ErrPatientNotFound = errors.New("patient not found")
)
