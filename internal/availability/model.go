package availability

import "time"

// Slot is one bookable option exposed to end users.
type Slot struct {
	Date  string    `json:"date"`  // calendar day, "2006-01-02"
	Label string    `json:"label"` // display label, "9:00 AM"
	At    time.Time `json:"at"`    // absolute UTC instant
}

// Entry is the materialized availability view for one therapist.
type Entry struct {
	TherapistID string            `json:"therapist_id"`
	Slots       map[string][]Slot `json:"slots"` // keyed by booking kind
	CachedAt    time.Time         `json:"cached_at"`
	LastError   *string           `json:"last_error,omitempty"`
}

func newSlot(at time.Time) Slot {
	at = at.UTC()
	return Slot{
		Date:  at.Format("2006-01-02"),
		Label: at.Format("3:04 PM"),
		At:    at,
	}
}
