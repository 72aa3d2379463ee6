package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceType is the direction of an invoice's stock effect.
type InvoiceType string

const (
	// InvoiceTypeRevenue is a sale: stock decreases, cost basis is untouched.
	InvoiceTypeRevenue InvoiceType = "revenue"
	// InvoiceTypeExpense is a purchase: stock increases, cost basis is re-averaged.
	InvoiceTypeExpense InvoiceType = "expense"
)

// IsValid reports whether t is a known invoice type.
func (t InvoiceType) IsValid() bool {
	switch t {
	case InvoiceTypeRevenue, InvoiceTypeExpense:
		return true
	default:
		return false
	}
}

func (t InvoiceType) String() string {
	return string(t)
}

// Invoice is a posted invoice. Lines are immutable once posted.
type Invoice struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	BranchID      string          `json:"branchId"`
	Type          InvoiceType     `json:"type"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Status        string          `json:"status,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Lines         []InvoiceLine   `json:"items"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	CreatedBy     string          `json:"createdBy,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// InvoiceLine is a posted line with its resolved product.
type InvoiceLine struct {
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	StoreID   string          `json:"storeId"`
	Unit      string          `json:"unit,omitempty"`
	ProductID string          `json:"productId"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// RawLine is an invoice line as submitted by a caller. Quantity and Price are loosely
// typed: JSON numbers, numeric strings, or absent.
type RawLine struct {
	Name     string `json:"name" jsonschema:"required,minLength=1"`
	Quantity any    `json:"quantity" jsonschema:"required"`
	Price    any    `json:"price,omitempty"`
	StoreID  string `json:"storeId" jsonschema:"required"`
	Unit     string `json:"unit,omitempty"`
}

// PostInvoiceInput is the assembler's input. TenantID and BranchID come from the
// already-authorized session, never from the request body.
type PostInvoiceInput struct {
	TenantID      string
	BranchID      string
	Type          InvoiceType
	Items         []RawLine
	InvoiceNumber string
	Status        string
	Notes         string
	Metadata      map[string]any
	CreatedBy     string
}

// InvoiceFilter narrows invoice listings. TenantID and BranchID are mandatory.
type InvoiceFilter struct {
	TenantID string
	BranchID string
	Type     InvoiceType
	Page     int
	PageSize int
}

// PostingResult is everything a successful posting produced.
type PostingResult struct {
	Invoice   *Invoice
	Products  []Product
	Movements []StockMovement
	// CreatedProducts lists ids of products fabricated by this posting.
	CreatedProducts []string
}
