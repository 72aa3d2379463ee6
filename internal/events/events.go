// Package events moves invoice activity over Kafka: it publishes InvoicePosted
// after each posting and turns storefront OrderPlaced events into revenue invoices.
package events

import (
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"invoicing-service/internal/core"
)

const (
	EventInvoicePosted = "InvoicePosted"
	EventOrderPlaced   = "OrderPlaced"
)

// Envelope is the wrapper shared by every event on the wire.
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type InvoicePostedPayload struct {
	InvoiceID     string               `json:"invoice_id"`
	InvoiceNumber string               `json:"invoice_number"`
	TenantID      string               `json:"tenant_id"`
	BranchID      string               `json:"branch_id"`
	Type          string               `json:"type"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	Items         []InvoicePostedItem  `json:"items"`
	Products      []ProductStockChange `json:"products"`
	CreatedAt     time.Time            `json:"created_at"`
}

type InvoicePostedItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	StoreID   string          `json:"store_id"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// ProductStockChange is the product state after the posting.
type ProductStockChange struct {
	ProductID      string          `json:"product_id"`
	Quantity       int64           `json:"quantity"`
	AverageCost    decimal.Decimal `json:"average_cost"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	AutoCreated    bool            `json:"auto_created"`
}

type OrderPlacedPayload struct {
	OrderID  string             `json:"order_id"`
	TenantID string             `json:"tenant_id"`
	BranchID string             `json:"branch_id"`
	Items    []OrderItemPayload `json:"items"`
}

type OrderItemPayload struct {
	Name     string `json:"name"`
	Quantity any    `json:"quantity"`
	Price    any    `json:"price"`
	StoreID  string `json:"store_id"`
}

func newInvoicePostedPayload(res *core.PostingResult) InvoicePostedPayload {
	inv := res.Invoice
	p := InvoicePostedPayload{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		TenantID:      inv.TenantID,
		BranchID:      inv.BranchID,
		Type:          inv.Type.String(),
		TotalAmount:   inv.TotalAmount,
		Items:         make([]InvoicePostedItem, 0, len(inv.Lines)),
		Products:      make([]ProductStockChange, 0, len(res.Products)),
		CreatedAt:     inv.CreatedAt,
	}
	for _, l := range inv.Lines {
		p.Items = append(p.Items, InvoicePostedItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			StoreID:   l.StoreID,
			Quantity:  l.Quantity,
			Price:     l.Price,
			LineTotal: l.LineTotal,
		})
	}
	for _, prod := range res.Products {
		p.Products = append(p.Products, ProductStockChange{
			ProductID:      prod.ID,
			Quantity:       prod.Quantity,
			AverageCost:    prod.AverageCost,
			InventoryValue: prod.InventoryValue,
			AutoCreated:    prod.AutoCreated,
		})
	}
	return p
}

// NewWriter builds a kafka-go writer keyed by tenant so one tenant's events stay ordered.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewReader builds a consumer-group reader.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}
