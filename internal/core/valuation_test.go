package core

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

func assertValueInvariant(t *testing.T, p Product) {
	t.Helper()
	want := decimal.NewFromInt(p.Quantity).Mul(p.AverageCost)
	assert.Truef(t, want.Equal(p.InventoryValue), "inventoryValue %s != quantity %d * averageCost %s", p.InventoryValue, p.Quantity, p.AverageCost)
}

func TestApplyPosting_ExpenseWeightedAverage(t *testing.T) {
	p := Product{Name: "Widget"}

	p, err := ApplyPosting(p, 10, dec("5"), InvoiceTypeExpense)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Quantity)
	assertDecimal(t, "5", p.AverageCost, "first purchase")
	assertDecimal(t, "50", p.InventoryValue, "first purchase value")

	p, err = ApplyPosting(p, 10, dec("7"), InvoiceTypeExpense)
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.Quantity)
	assertDecimal(t, "6", p.AverageCost, "second purchase")
	assertDecimal(t, "120", p.InventoryValue, "second purchase value")
}

func TestApplyPosting_ExpenseSequenceMatchesClosedForm(t *testing.T) {
	type posting struct {
		qty   int64
		price string
	}
	postings := []posting{{3, "2.50"}, {7, "4.10"}, {1, "19.99"}, {12, "3"}, {5, "0"}}

	p := Product{Name: "Bolt"}
	var sumQty int64
	sumCost := decimal.Zero
	for _, ps := range postings {
		var err error
		p, err = ApplyPosting(p, ps.qty, dec(ps.price), InvoiceTypeExpense)
		require.NoError(t, err)
		assertValueInvariant(t, p)
		sumQty += ps.qty
		sumCost = sumCost.Add(decimal.NewFromInt(ps.qty).Mul(dec(ps.price)))
	}

	assert.Equal(t, sumQty, p.Quantity)
	want := sumCost.Div(decimal.NewFromInt(sumQty))
	diff := want.Sub(p.AverageCost).Abs()
	assert.Truef(t, diff.LessThan(dec("0.000001")), "average %s too far from %s", p.AverageCost, want)
}

func TestApplyPosting_RevenueKeepsCostBasis(t *testing.T) {
	p := Product{Name: "Widget", Quantity: 20, AverageCost: dec("6"), InventoryValue: dec("120")}

	p, err := ApplyPosting(p, 5, dec("9"), InvoiceTypeRevenue)
	require.NoError(t, err)
	assert.Equal(t, int64(15), p.Quantity)
	assertDecimal(t, "6", p.AverageCost, "after sale")
	assertDecimal(t, "90", p.InventoryValue, "after sale value")

	p, err = ApplyPosting(p, 100, decimal.Zero, InvoiceTypeRevenue)
	require.NoError(t, err)
	assert.Equal(t, int64(-85), p.Quantity)
	assertDecimal(t, "6", p.AverageCost, "after oversell")
	assertDecimal(t, "-510", p.InventoryValue, "after oversell value")
}

func TestApplyPosting_ZeroQuantityFallback(t *testing.T) {
	p := Product{Name: "Gadget", Quantity: -5, AverageCost: dec("4"), InventoryValue: dec("-20")}

	p, err := ApplyPosting(p, 5, dec("11.5"), InvoiceTypeExpense)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Quantity)
	assertDecimal(t, "11.5", p.AverageCost, "fallback average")
	assertDecimal(t, "0", p.InventoryValue, "fallback value")
}

func TestApplyPosting_Rejects(t *testing.T) {
	_, err := ApplyPosting(Product{}, 0, dec("1"), InvoiceTypeExpense)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = ApplyPosting(Product{}, 1, dec("1"), InvoiceType("refund"))
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = ApplyPosting(Product{Quantity: math.MaxInt64 - 1}, 2, dec("1"), InvoiceTypeExpense)
	assert.Equal(t, KindNumeric, KindOf(err))

	_, err = ApplyPosting(Product{Quantity: math.MinInt64 + 1}, 2, dec("1"), InvoiceTypeRevenue)
	assert.Equal(t, KindNumeric, KindOf(err))
}
