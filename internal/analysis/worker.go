package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type jobProcessor interface {
	Process(ctx context.Context, paymentID string) error
}

// Worker consumes voice jobs from the queue and runs the processor.
type Worker struct {
	queue     Queue
	processor jobProcessor
	logger    zerolog.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

func NewWorker(queue Queue, processor jobProcessor, logger zerolog.Logger, opts ...WorkerOption) *Worker {
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		queue:     queue,
		processor: processor,
		logger:    logger.With().Str("component", "voice_worker").Logger(),
		cfg:       cfg,
	}
}

// Start launches the consumer goroutines; they exit when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
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
	w.logger.Debug().Int("worker_id", workerID).Msg("voice worker started")

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug().Int("worker_id", workerID).Msg("voice worker stopping")
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Int("worker_id", workerID).Msg("failed to receive voice jobs")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
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

func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	var payload jobPayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("failed to decode voice job")
		w.deleteMessage(msg.ReceiptHandle)
		return
	}
	if payload.Kind != jobKindVoice || payload.PaymentID == "" {
		w.logger.Warn().Str("kind", payload.Kind).Str("job_id", payload.ID).Msg("skipping unknown job")
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	if err := w.processor.Process(ctx, payload.PaymentID); err != nil {
		// left on the queue for redelivery
		w.logger.Error().Err(err).Str("job_id", payload.ID).Str("payment_id", payload.PaymentID).
			Msg("voice job failed")
		return
	}
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error().Err(err).Msg("failed to delete voice job")
	}
}
