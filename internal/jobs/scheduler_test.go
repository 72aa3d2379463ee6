package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"invoicing-service/internal/core"
	"invoicing-service/internal/idgen"
	"invoicing-service/internal/store/memory"
)

func TestNegativeStockJob_ReportsShortage(t *testing.T) {
	store := memory.New()
	gen, err := idgen.New(5)
	require.NoError(t, err)
	svc := core.NewInvoiceService(store, core.NewProductResolver(gen, nil), core.NewValuationEngine(nil), nil)
	ctx := context.Background()

	_, err = svc.PostInvoice(ctx, core.PostInvoiceInput{
		TenantID: "t1", BranchID: "b1", Type: core.InvoiceTypeRevenue,
		Items: []core.RawLine{
			{Name: "Widget", Quantity: 4, StoreID: "S1"},
			{Name: "Gadget", Quantity: 1, StoreID: "S1"},
		},
	})
	require.NoError(t, err)

	obs, logs := observer.New(zap.WarnLevel)
	job := NewNegativeStockJob(core.NewStockService(store, nil, nil, nil), 10, zap.New(obs))

	report, err := job.Check(ctx)
	require.NoError(t, err)
	require.Len(t, report.Products, 2)
	assert.Equal(t, int64(5), report.TotalShortage)

	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 2, logs.FilterMessage("negative stock").Len())
	assert.Equal(t, 1, logs.FilterMessage("negative stock reconciliation needed").Len())
}

func TestScheduler_RunsAndRecovers(t *testing.T) {
	s := NewScheduler(nil)
	var runs atomic.Int32

	require.NoError(t, s.Register("count", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	}))
	require.NoError(t, s.Register("panics", "@every 1s", func(context.Context) error {
		panic("boom")
	}))
	assert.Error(t, s.Register("bad", "not a spec", func(context.Context) error { return nil }))

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
