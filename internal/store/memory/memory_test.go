package memory

import (
	"context"
	"errors"
	"testing"

	"invoicing-service/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id, name string) *core.Product {
	return &core.Product{ID: id, TenantID: "t1", BranchID: "b1", StoreID: "S1", Name: name, AverageCost: decimal.Zero}
}

func TestWithinTx_DiscardsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx core.Tx) error {
		_, err := tx.InsertProduct(ctx, product("p1", "Widget"))
		require.NoError(t, err)
		require.NoError(t, tx.InsertInvoice(ctx, &core.Invoice{ID: "i1", TenantID: "t1", BranchID: "b1", InvoiceNumber: "INV-1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	products, total, err := s.ListProducts(ctx, core.ProductFilter{TenantID: "t1", BranchID: "b1"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, products)

	_, err = s.GetInvoice(ctx, "t1", "b1", "i1")
	assert.ErrorIs(t, err, core.ErrInvoiceNotFound)
}

func TestInsertProduct_ReturnsExistingOnSameKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx core.Tx) error {
		_, err := tx.InsertProduct(ctx, product("p1", "Widget"))
		return err
	}))

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx core.Tx) error {
		got, err := tx.InsertProduct(ctx, product("p2", "Widget"))
		require.NoError(t, err)
		assert.Equal(t, "p1", got.ID)

		_, err = tx.FindProductForUpdate(ctx, core.ProductKey{TenantID: "t1", BranchID: "b1", StoreID: "S2", Name: "Widget"})
		assert.ErrorIs(t, err, core.ErrProductNotFound)
		return nil
	}))
}

func TestTx_SeesOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx core.Tx) error {
		p, err := tx.InsertProduct(ctx, product("p1", "Widget"))
		require.NoError(t, err)
		p.Quantity = 7
		require.NoError(t, tx.UpdateProduct(ctx, p))

		again, err := tx.FindProductForUpdate(ctx, p.Key())
		require.NoError(t, err)
		assert.Equal(t, int64(7), again.Quantity)

		require.NoError(t, tx.InsertInvoice(ctx, &core.Invoice{ID: "i1", TenantID: "t1", BranchID: "b1", InvoiceNumber: "INV-1"}))
		exists, err := tx.InvoiceNumberExists(ctx, "t1", "INV-1")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.ErrorIs(t, tx.InsertInvoice(ctx, &core.Invoice{ID: "i2", TenantID: "t1", BranchID: "b1", InvoiceNumber: "INV-1"}), core.ErrDuplicateInvoiceNumber)
		return nil
	}))

	assert.ErrorIs(t, s.WithinTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.UpdateProduct(ctx, product("missing", "Nope"))
	}), core.ErrProductNotFound)
}

func TestListProducts_Paginates(t *testing.T) {
	s := New()
	ctx := context.Background()
	names := []string{"Delta", "Alpha", "Charlie", "Bravo", "Echo"}

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx core.Tx) error {
		for i, n := range names {
			if _, err := tx.InsertProduct(ctx, product(string(rune('a'+i)), n)); err != nil {
				return err
			}
		}
		return nil
	}))

	page, total, err := s.ListProducts(ctx, core.ProductFilter{TenantID: "t1", BranchID: "b1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "Charlie", page[0].Name)
	assert.Equal(t, "Delta", page[1].Name)

	page, _, err = s.ListProducts(ctx, core.ProductFilter{TenantID: "t1", BranchID: "b1", Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, page)
}
