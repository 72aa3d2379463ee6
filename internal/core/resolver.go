package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SKUGenerator produces unique stock-keeping codes for auto-created products.
type SKUGenerator interface {
	NewSKU() string
}

// ResolveRequest identifies the product an invoice line refers to, plus what is
// needed to create it when it does not exist yet.
type ResolveRequest struct {
	TenantID    string
	BranchID    string
	StoreID     string
	Name        string
	Unit        string
	UnitPrice   decimal.Decimal
	InvoiceType InvoiceType
}

// ProductResolver finds products by exact trimmed name within (tenant, branch, store)
// and lazily creates missing ones.
type ProductResolver struct {
	skus SKUGenerator
	now  func() time.Time
}

func NewProductResolver(skus SKUGenerator, now func() time.Time) *ProductResolver {
	if now == nil {
		now = time.Now
	}
	return &ProductResolver{skus: skus, now: now}
}

// Resolve returns the product for req, locked inside tx. created reports whether the
// product was fabricated by this call. A created product is persisted immediately so
// later lines of the same posting resolve to it.
func (r *ProductResolver) Resolve(ctx context.Context, tx Tx, req ResolveRequest) (p *Product, created bool, err error) {
	name := strings.TrimSpace(req.Name)
	storeID := strings.TrimSpace(req.StoreID)
	if name == "" {
		return nil, false, validationf("item name is required")
	}
	if storeID == "" {
		return nil, false, validationf("storeId is required for item %q", name)
	}

	key := ProductKey{TenantID: req.TenantID, BranchID: req.BranchID, StoreID: storeID, Name: name}
	existing, err := tx.FindProductForUpdate(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrProductNotFound) {
		return nil, false, persistence("failed to look up product "+name, err)
	}

	averageCost := decimal.Zero
	if req.InvoiceType == InvoiceTypeExpense {
		averageCost = req.UnitPrice
	}
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		unit = DefaultUnit
	}
	now := r.now().UTC()

	candidate := &Product{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		BranchID:       req.BranchID,
		StoreID:        storeID,
		Name:           name,
		SKU:            r.skus.NewSKU(),
		Category:       DefaultCategory,
		Unit:           unit,
		Quantity:       0,
		AverageCost:    averageCost,
		Price:          req.UnitPrice,
		SellingPrice:   req.UnitPrice,
		InventoryValue: decimal.Zero,
		AutoCreated:    true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, err := tx.InsertProduct(ctx, candidate)
	if err != nil {
		return nil, false, persistence("failed to create product "+name, err)
	}
	return stored, stored.ID == candidate.ID, nil
}
