package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Queue is the transport voice jobs travel over.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

const jobKindVoice = "voice_analysis"

type jobPayload struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	PaymentID string `json:"payment_id"`
}

// Publisher enqueues voice jobs for approved payments.
type Publisher struct {
	queue Queue
}

func NewPublisher(queue Queue) *Publisher {
	return &Publisher{queue: queue}
}

func (p *Publisher) EnqueueVoiceJob(ctx context.Context, paymentID string) error {
	body, err := json.Marshal(jobPayload{
		ID:        uuid.NewString(),
		Kind:      jobKindVoice,
		PaymentID: paymentID,
	})
	if err != nil {
		return fmt.Errorf("analysis: encode job: %w", err)
	}
	return p.queue.Send(ctx, string(body))
}
