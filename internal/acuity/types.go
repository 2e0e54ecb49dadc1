package acuity

import "time"

const defaultBaseURL = "https://acuityscheduling.com/api/v1"

// TimeSlot is a concrete bookable instant for a calendar and appointment type.
type TimeSlot struct {
	Time time.Time `json:"time"`
}

// Appointment is the provider's view of one scheduled booking.
type Appointment struct {
	ID                string            `json:"id"`
	CalendarHandle    string            `json:"calendar"`
	AppointmentTypeID string            `json:"appointmentTypeID"`
	Datetime          time.Time         `json:"datetime"`
	EndTime           time.Time         `json:"endTime"`
	Status            string            `json:"status"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// CreateAppointmentRequest is the input for placing a reservation.
type CreateAppointmentRequest struct {
	CalendarHandle    string            `json:"calendar"`
	AppointmentTypeID string            `json:"appointmentTypeID"`
	Datetime          time.Time         `json:"datetime"`
	FirstName         string            `json:"firstName"`
	LastName          string            `json:"lastName"`
	Email             string            `json:"email,omitempty"`
	Phone             string            `json:"phone,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	// Metadata is echoed back verbatim in webhook payloads; used to thread
	// correlation ids (patient, match, kind, source, test flag) end to end.
	Metadata map[string]string `json:"metadata,omitempty"`
}

type availableTimesResponse struct {
	Times []struct {
		Time string `json:"time"`
	} `json:"times"`
}

type apiError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error"`
	Message    string `json:"message"`
}
