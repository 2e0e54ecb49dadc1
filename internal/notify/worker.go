package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/theramatch/booking-platform/internal/ledger"
	"github.com/theramatch/booking-platform/pkg/logging"
)

const (
	defaultWorkers      = 2
	defaultReceiveBatch = 10
	defaultReceiveWait  = 5
)

// Worker drains the confirmation queue and runs the dispatcher. Redeliveries
// are harmless: the dispatcher's sent-at markers make dispatch idempotent.
type Worker struct {
	queue      queueClient
	dispatcher *Dispatcher
	logger     *logging.Logger

	workers      int
	receiveBatch int
	receiveWait  int

	wg sync.WaitGroup
}

// NewWorker creates a queue consumer around the dispatcher.
func NewWorker(queue queueClient, dispatcher *Dispatcher, logger *logging.Logger) *Worker {
	if queue == nil {
		panic("notify: queue required")
	}
	if dispatcher == nil {
		panic("notify: dispatcher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		queue:        queue,
		dispatcher:   dispatcher,
		logger:       logger,
		workers:      defaultWorkers,
		receiveBatch: defaultReceiveBatch,
		receiveWait:  defaultReceiveWait,
	}
}

// WithWorkerCount sets the consumer goroutine count.
func (w *Worker) WithWorkerCount(n int) *Worker {
	if n > 0 {
		w.workers = n
	}
	return w
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("notify worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("notify worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.receiveBatch, w.receiveWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive confirmation jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var job confirmationJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil || job.ExternalBookingID == "" {
		w.logger.Error("failed to decode confirmation job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	err := w.dispatcher.Dispatch(ctx, job.ExternalBookingID)
	switch {
	case err == nil:
		w.deleteMessage(ctx, msg.ReceiptHandle)
	case errors.Is(err, ledger.ErrBookingNotFound):
		// Terminal: retrying a job for a row that does not exist cannot help.
		w.logger.Error("confirmation job references unknown booking",
			"external_booking_id", job.ExternalBookingID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
	default:
		// Leave the message for redelivery.
		w.logger.Error("confirmation dispatch failed; message will redeliver",
			"error", err, "external_booking_id", job.ExternalBookingID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete confirmation job", "error", err)
	}
}
