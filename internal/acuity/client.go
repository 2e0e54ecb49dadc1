package acuity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/theramatch/booking-platform/pkg/logging"
)

const defaultTimeout = 20 * time.Second

// ErrSlotTaken is returned when the provider reports the requested time is no
// longer available. Callers must not retry the same slot.
var ErrSlotTaken = errors.New("acuity: slot no longer available")

// Client is a REST client for the Acuity scheduling API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userID     string
	apiKey     string
	logger     *logging.Logger
}

// NewClient creates a new Acuity API client.
func NewClient(userID, apiKey, baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		userID: userID,
		apiKey: apiKey,
		logger: logger,
	}
}

// GetAvailableTimes returns the provider's resolved bookable instants for a
// calendar and appointment type within [from, to).
func (c *Client) GetAvailableTimes(ctx context.Context, calendarHandle, appointmentTypeID string, from, to time.Time) ([]TimeSlot, error) {
	params := url.Values{}
	params.Set("calendar", calendarHandle)
	params.Set("appointmentTypeID", appointmentTypeID)
	params.Set("minDate", from.UTC().Format("2006-01-02"))
	params.Set("maxDate", to.UTC().Format("2006-01-02"))

	var out availableTimesResponse
	if err := c.do(ctx, http.MethodGet, "/availability/times?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}

	slots := make([]TimeSlot, 0, len(out.Times))
	for _, t := range out.Times {
		instant, err := time.Parse(time.RFC3339, t.Time)
		if err != nil {
			continue
		}
		slots = append(slots, TimeSlot{Time: instant.UTC()})
	}
	return slots, nil
}

// CreateAppointment places a reservation with the provider. The provider is
// the source of truth for slot contention; ErrSlotTaken signals a lost race.
func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	if strings.TrimSpace(req.CalendarHandle) == "" {
		return nil, fmt.Errorf("acuity: calendar handle required")
	}
	if req.Datetime.IsZero() {
		return nil, fmt.Errorf("acuity: appointment datetime required")
	}

	var out Appointment
	if err := c.do(ctx, http.MethodPost, "/appointments", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("acuity: create appointment returned empty id")
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if strings.TrimSpace(c.userID) == "" || strings.TrimSpace(c.apiKey) == "" {
		return fmt.Errorf("acuity: missing api credentials")
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("acuity: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("acuity: create request: %w", err)
	}
	req.SetBasicAuth(c.userID, c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("acuity: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("acuity: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && isSlotConflict(apiErr) {
			return ErrSlotTaken
		}
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("acuity: status %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("acuity: unmarshal response: %w", err)
		}
	}
	return nil
}

func isSlotConflict(apiErr apiError) bool {
	switch apiErr.ErrorCode {
	case "not_available", "no_available_calendar":
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "not available")
}
