package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/theramatch/booking-platform/pkg/logging"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// confirmationJob is the wire payload for one dispatch unit. The external
// booking id alone is enough: the worker re-reads the ledger row, so stale
// payloads cannot override current booking state.
type confirmationJob struct {
	ID                string `json:"id"`
	ExternalBookingID string `json:"external_booking_id"`
}

func encodeJob(job confirmationJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("notify: encode confirmation job: %w", err)
	}
	return string(body), nil
}

// Publisher enqueues confirmation work for the dispatch worker. It satisfies
// the ledger's NotificationEnqueuer contract, so the queue behind it can be
// SQS or in-memory without the ledger noticing.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a publisher on the given queue.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("notify: queue required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueBookingConfirmation queues dispatch work for one booking.
func (p *Publisher) EnqueueBookingConfirmation(ctx context.Context, externalBookingID string) error {
	if externalBookingID == "" {
		return fmt.Errorf("notify: external booking id required")
	}
	body, err := encodeJob(confirmationJob{ExternalBookingID: externalBookingID})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("notify: enqueue confirmation: %w", err)
	}
	p.logger.Info("confirmation job enqueued", "external_booking_id", externalBookingID)
	return nil
}
