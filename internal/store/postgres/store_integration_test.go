package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicing-service/internal/core"
	"invoicing-service/internal/idgen"
	"invoicing-service/internal/store/postgres"
	"invoicing-service/internal/store/postgres/migrations"
)

func setupTestDB(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	// Use a dedicated TEST database; the tables are truncated below.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err, "connect to test database")
	t.Cleanup(pool.Close)

	_, err = migrations.Apply(ctx, pool)
	require.NoError(t, err, "apply migrations")

	_, err = pool.Exec(ctx, `TRUNCATE TABLE stock_movements, invoice_lines, invoices, products CASCADE`)
	require.NoError(t, err, "truncate tables")
	return pool, ctx
}

func newService(t *testing.T, store core.Store) core.InvoiceService {
	t.Helper()
	gen, err := idgen.New(7)
	require.NoError(t, err)
	return core.NewInvoiceService(store, core.NewProductResolver(gen, nil), core.NewValuationEngine(nil), nil)
}

func TestStore_PostAndReadBack(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store := postgres.New(pool)
	svc := newService(t, store)

	res, err := svc.PostInvoice(ctx, core.PostInvoiceInput{
		TenantID: "t1", BranchID: "b1", Type: core.InvoiceTypeExpense,
		Metadata: map[string]any{"payment": "cash"},
		Items: []core.RawLine{
			{Name: "Widget", Quantity: 10, Price: 5, StoreID: "S1"},
			{Name: "Widget", Quantity: 10, Price: 7, StoreID: "S1"},
		},
	})
	require.NoError(t, err)

	inv, err := store.GetInvoice(ctx, "t1", "b1", res.Invoice.ID)
	require.NoError(t, err)
	require.Len(t, inv.Lines, 2)
	assert.Equal(t, core.InvoiceTypeExpense, inv.Type)
	assert.Equal(t, "cash", inv.Metadata["payment"])
	assert.True(t, decimal.NewFromInt(120).Equal(inv.TotalAmount))

	products, total, err := store.ListProducts(ctx, core.ProductFilter{TenantID: "t1", BranchID: "b1", Search: "widg", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	p := products[0]
	assert.Equal(t, int64(20), p.Quantity)
	assert.True(t, decimal.NewFromInt(6).Equal(p.AverageCost), "average cost %s", p.AverageCost)
	assert.True(t, decimal.NewFromInt(120).Equal(p.InventoryValue))

	movements, mTotal, err := store.ListMovements(ctx, core.MovementFilter{TenantID: "t1", BranchID: "b1", ProductID: p.ID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, mTotal)
	assert.Equal(t, core.MovementPurchase, movements[0].MovementType)
}

func TestStore_DuplicateInvoiceNumberRollsBack(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store := postgres.New(pool)
	svc := newService(t, store)

	in := core.PostInvoiceInput{
		TenantID: "t1", BranchID: "b1", Type: core.InvoiceTypeRevenue, InvoiceNumber: "INV-DUP",
		Items: []core.RawLine{{Name: "Gadget", Quantity: 1, Price: 2, StoreID: "S1"}},
	}
	_, err := svc.PostInvoice(ctx, in)
	require.NoError(t, err)

	_, err = svc.PostInvoice(ctx, in)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	products, _, err := store.ListProducts(ctx, core.ProductFilter{TenantID: "t1", BranchID: "b1", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, int64(-1), products[0].Quantity)
}

func TestStore_ConcurrentPostingsSerializeOnProductRow(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store := postgres.New(pool)
	svc := newService(t, store)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.PostInvoice(ctx, core.PostInvoiceInput{
				TenantID: "t1", BranchID: "b1", Type: core.InvoiceTypeExpense,
				InvoiceNumber: fmt.Sprintf("CONC-%d-%d", i, time.Now().UnixNano()),
				Items:         []core.RawLine{{Name: "Sprocket", Quantity: 5, Price: 4, StoreID: "S1"}},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	products, total, err := store.ListProducts(ctx, core.ProductFilter{TenantID: "t1", BranchID: "b1", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, int64(workers*5), products[0].Quantity)
	assert.True(t, decimal.NewFromInt(4).Equal(products[0].AverageCost))

	negative, err := store.ListNegativeStock(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, negative)
}
