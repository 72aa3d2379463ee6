package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"invoicing-service/internal/core"
)

// ShopInvoicePrefix prefixes invoice numbers of storefront orders.
const ShopInvoicePrefix = "SHOP-"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
)

// OrderListener posts a revenue invoice for every storefront OrderPlaced event.
// Offsets are committed only once an order is posted, already posted, or
// rejected for good. Store failures are retried in place.
type OrderListener struct {
	reader       messageReader
	invoices     core.InvoiceService
	logger       *zap.Logger
	retryBackoff time.Duration
}

func NewOrderListener(reader messageReader, invoices core.InvoiceService, logger *zap.Logger) *OrderListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderListener{reader: reader, invoices: invoices, logger: logger, retryBackoff: defaultRetryBackoff}
}

// Start consumes until ctx is cancelled.
func (l *OrderListener) Start(ctx context.Context) {
	l.logger.Info("starting shop order listener")
	defer l.logger.Info("stopping shop order listener")
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("failed to fetch kafka message", zap.Error(err))
			if !sleep(ctx, l.retryBackoff) {
				return
			}
			continue
		}
		if !l.process(ctx, msg) {
			// Left uncommitted so the group redelivers it.
			return
		}
		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("failed to commit kafka offset",
				zap.Int64("offset", msg.Offset),
				zap.Int("partition", msg.Partition),
				zap.Error(err),
			)
		}
	}
}

// process handles msg until it is done with, retrying store failures with a
// growing backoff. It returns false when ctx ends first.
func (l *OrderListener) process(ctx context.Context, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := l.Handle(ctx, msg.Value)
		if err == nil {
			return true
		}
		fields := []zap.Field{
			zap.Int64("offset", msg.Offset),
			zap.Int("partition", msg.Partition),
			zap.Error(err),
		}
		if !retryable(err) {
			l.logger.Error("dropping shop order", fields...)
			return true
		}
		l.logger.Warn("failed to process shop order, retrying", append(fields, zap.Int("attempt", attempt))...)
		if !sleep(ctx, min(l.retryBackoff*time.Duration(attempt), maxRetryBackoff)) {
			return false
		}
	}
}

// retryable reports whether err came from the store. Malformed events and
// rejected orders fail the same way on every delivery.
func retryable(err error) bool {
	var ce *core.Error
	return errors.As(err, &ce) && ce.Kind == core.KindPersistence
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Handle processes one raw event. Events of other types are ignored. A replayed
// order whose invoice already exists is skipped. Quantities and prices reach the
// core as json.Number so large values stay exact.
func (l *OrderListener) Handle(ctx context.Context, value []byte) error {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if env.EventType != EventOrderPlaced {
		return nil
	}

	var order OrderPlacedPayload
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.UseNumber()
	if err := dec.Decode(&order); err != nil {
		return fmt.Errorf("failed to unmarshal order payload: %w", err)
	}
	if order.OrderID == "" {
		return errors.New("order event without order_id")
	}

	items := make([]core.RawLine, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, core.RawLine{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
			StoreID:  it.StoreID,
		})
	}

	number := ShopInvoicePrefix + order.OrderID
	res, err := l.invoices.PostInvoice(ctx, core.PostInvoiceInput{
		TenantID:      order.TenantID,
		BranchID:      order.BranchID,
		Type:          core.InvoiceTypeRevenue,
		Items:         items,
		InvoiceNumber: number,
		Status:        "paid",
		CreatedBy:     "shop",
		Metadata:      map[string]any{"source": "shop", "order_id": order.OrderID, "event_id": env.EventID},
	})
	if err != nil {
		if errors.Is(err, core.ErrDuplicateInvoiceNumber) {
			l.logger.Info("shop order already posted, skipping", zap.String("order_id", order.OrderID))
			return nil
		}
		return fmt.Errorf("failed to post order %s: %w", order.OrderID, err)
	}

	l.logger.Info("shop order posted",
		zap.String("order_id", order.OrderID),
		zap.String("invoice_id", res.Invoice.ID),
		zap.Int("lines", len(res.Invoice.Lines)),
	)
	return nil
}

func (l *OrderListener) Close() error {
	return l.reader.Close()
}
