package core

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApplyPosting returns p after posting qty units at unitPrice in the given direction.
//
// Revenue postings subtract qty and leave the cost basis alone; the result may go
// negative, sales are never blocked on recorded stock. Expense postings re-average:
//
//	avg = (qtyBefore*avgBefore + qty*unitPrice) / (qtyBefore + qty)
//
// falling back to unitPrice when the new quantity is exactly zero.
// InventoryValue is always recomputed as Quantity*AverageCost.
func ApplyPosting(p Product, qty int64, unitPrice decimal.Decimal, t InvoiceType) (Product, error) {
	if qty <= 0 {
		return p, validationf("posted quantity must be positive, got %d", qty)
	}

	switch t {
	case InvoiceTypeRevenue:
		if p.Quantity < math.MinInt64+qty {
			return p, numericf("quantity underflow for product %q", p.Name)
		}
		p.Quantity -= qty

	case InvoiceTypeExpense:
		if p.Quantity > math.MaxInt64-qty {
			return p, numericf("quantity overflow for product %q", p.Name)
		}
		newQty := p.Quantity + qty
		oldTotal := decimal.NewFromInt(p.Quantity).Mul(p.AverageCost)
		incoming := decimal.NewFromInt(qty).Mul(unitPrice)
		if newQty == 0 {
			p.AverageCost = unitPrice
		} else {
			p.AverageCost = oldTotal.Add(incoming).Div(decimal.NewFromInt(newQty))
		}
		p.Quantity = newQty

	default:
		return p, validationf("unknown invoice type %q", t)
	}

	p.InventoryValue = decimal.NewFromInt(p.Quantity).Mul(p.AverageCost)
	return p, nil
}

// ValuationEngine applies postings to products and persists the result together
// with a movement record.
type ValuationEngine struct {
	now func() time.Time
}

func NewValuationEngine(now func() time.Time) *ValuationEngine {
	if now == nil {
		now = time.Now
	}
	return &ValuationEngine{now: now}
}

// Post values one invoice line against p inside tx. p is updated in place.
func (e *ValuationEngine) Post(ctx context.Context, tx Tx, p *Product, inv *Invoice, line InvoiceLine) (*StockMovement, error) {
	before := *p
	after, err := ApplyPosting(before, line.Quantity, line.Price, inv.Type)
	if err != nil {
		return nil, err
	}
	after.UpdatedAt = e.now().UTC()

	if err := tx.UpdateProduct(ctx, &after); err != nil {
		return nil, persistence("failed to save product "+p.Name, err)
	}

	m := &StockMovement{
		ID:                uuid.NewString(),
		TenantID:          inv.TenantID,
		BranchID:          inv.BranchID,
		ProductID:         p.ID,
		InvoiceID:         inv.ID,
		InvoiceNumber:     inv.InvoiceNumber,
		MovementType:      movementTypeFor(inv.Type),
		QuantityChange:    after.Quantity - before.Quantity,
		QuantityBefore:    before.Quantity,
		QuantityAfter:     after.Quantity,
		UnitPrice:         line.Price,
		AverageCostBefore: before.AverageCost,
		AverageCostAfter:  after.AverageCost,
		CreatedAt:         after.UpdatedAt,
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return nil, persistence("failed to record stock movement for "+p.Name, err)
	}

	*p = after
	return m, nil
}
