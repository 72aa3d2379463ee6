package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"invoicing-service/internal/core"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits InvoicePosted events. It is registered as a posting hook.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

var _ core.PostingHook = (*Publisher)(nil)

func NewPublisher(writer messageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, timeout: 10 * time.Second, logger: logger, now: time.Now}
}

// Publish writes the InvoicePosted event for res.
func (p *Publisher) Publish(ctx context.Context, res *core.PostingResult) error {
	payload, err := json.Marshal(newInvoicePostedPayload(res))
	if err != nil {
		return fmt.Errorf("failed to encode invoice payload: %w", err)
	}
	value, err := json.Marshal(Envelope{
		EventID:   uuid.NewString(),
		EventType: EventInvoicePosted,
		Payload:   payload,
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(res.Invoice.TenantID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventInvoicePosted)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish invoice %s: %w", res.Invoice.InvoiceNumber, err)
	}
	return nil
}

func (p *Publisher) AfterPost(ctx context.Context, res *core.PostingResult) {
	if err := p.Publish(ctx, res); err != nil {
		p.logger.Error("failed to publish invoice event",
			zap.String("invoice_id", res.Invoice.ID),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("invoice event published", zap.String("invoice_id", res.Invoice.ID))
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
