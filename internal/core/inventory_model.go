package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType classifies a stock movement.
type MovementType string

const (
	MovementSale     MovementType = "SALE"
	MovementPurchase MovementType = "PURCHASE"
)

// movementTypeFor maps an invoice direction onto the movement it produces.
func movementTypeFor(t InvoiceType) MovementType {
	if t == InvoiceTypeExpense {
		return MovementPurchase
	}
	return MovementSale
}

// StockMovement is an append-only record of one posting against one product.
type StockMovement struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenantId"`
	BranchID          string          `json:"branchId"`
	ProductID         string          `json:"productId"`
	InvoiceID         string          `json:"invoiceId"`
	InvoiceNumber     string          `json:"invoiceNumber"`
	MovementType      MovementType    `json:"movementType"`
	QuantityChange    int64           `json:"quantityChange"`
	QuantityBefore    int64           `json:"quantityBefore"`
	QuantityAfter     int64           `json:"quantityAfter"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	AverageCostBefore decimal.Decimal `json:"averageCostBefore"`
	AverageCostAfter  decimal.Decimal `json:"averageCostAfter"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// MovementFilter narrows movement listings. TenantID and BranchID are mandatory.
type MovementFilter struct {
	TenantID  string
	BranchID  string
	ProductID string
	Page      int
	PageSize  int
}
