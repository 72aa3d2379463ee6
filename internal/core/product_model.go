package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultCategory is assigned to products created implicitly by an invoice line.
	DefaultCategory = "Uncategorized"
	// DefaultUnit is used when the creating invoice line carries no unit.
	DefaultUnit = "pcs"
)

// Product is a stock-keeping item scoped to (tenant, branch, store).
// Name is unique within that scope.
type Product struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId"`
	BranchID       string          `json:"branchId"`
	StoreID        string          `json:"storeId"`
	Name           string          `json:"name"`
	SKU            string          `json:"sku"`
	Category       string          `json:"category"`
	Unit           string          `json:"unit"`
	Quantity       int64           `json:"quantity"`
	AverageCost    decimal.Decimal `json:"averageCost"`
	Price          decimal.Decimal `json:"price"`
	SellingPrice   decimal.Decimal `json:"sellingPrice"`
	InventoryValue decimal.Decimal `json:"inventoryValue"`
	// AutoCreated marks products fabricated by invoice posting rather than catalog entry.
	AutoCreated bool      `json:"autoCreated"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ProductKey is the identity of a product inside a tenant.
type ProductKey struct {
	TenantID string
	BranchID string
	StoreID  string
	Name     string
}

// Key returns the scoped identity of p.
func (p *Product) Key() ProductKey {
	return ProductKey{TenantID: p.TenantID, BranchID: p.BranchID, StoreID: p.StoreID, Name: p.Name}
}

// ProductFilter narrows product listings. TenantID and BranchID are mandatory.
type ProductFilter struct {
	TenantID     string `json:"tenantId"`
	BranchID     string `json:"branchId"`
	StoreID      string `json:"storeId,omitempty"`
	Search       string `json:"search,omitempty"`
	NegativeOnly bool   `json:"negativeOnly,omitempty"`
	Page         int    `json:"page"`
	PageSize     int    `json:"pageSize"`
}

// ProductPage is one page of a product listing.
type ProductPage struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
}
