// Package jobs runs periodic maintenance on a cron scheduler.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"invoicing-service/internal/core"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns the cron instance and the jobs registered on it.
type Scheduler struct {
	sched  *cron.Cron
	logger *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sched:  cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser)),
		logger: logger,
	}
}

// Register adds fn under spec. Panics inside fn are logged, not propagated.
func (s *Scheduler) Register(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.sched.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
			}
		}()
		start := time.Now()
		if err := fn(context.Background()); err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s with %q: %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop halts scheduling and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.sched.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("jobs still running at shutdown")
	}
}

// NegativeStockReport is what one reconciliation pass found.
type NegativeStockReport struct {
	Products      []core.Product
	TotalShortage int64
}

// NegativeStockJob reports products whose stock went below zero because sales
// were posted ahead of purchases, so they can be reconciled.
type NegativeStockJob struct {
	stock  core.StockService
	limit  int
	logger *zap.Logger
}

func NewNegativeStockJob(stock core.StockService, limit int, logger *zap.Logger) *NegativeStockJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NegativeStockJob{stock: stock, limit: limit, logger: logger}
}

func (j *NegativeStockJob) Check(ctx context.Context) (*NegativeStockReport, error) {
	products, err := j.stock.NegativeStock(ctx, j.limit)
	if err != nil {
		return nil, err
	}
	report := &NegativeStockReport{Products: products}
	for _, p := range products {
		report.TotalShortage += -p.Quantity
	}
	return report, nil
}

// Run is the cron entry point.
func (j *NegativeStockJob) Run(ctx context.Context) error {
	report, err := j.Check(ctx)
	if err != nil {
		return err
	}
	if len(report.Products) == 0 {
		j.logger.Debug("no negative stock")
		return nil
	}
	for _, p := range report.Products {
		j.logger.Warn("negative stock",
			zap.String("tenant_id", p.TenantID),
			zap.String("branch_id", p.BranchID),
			zap.String("store_id", p.StoreID),
			zap.String("product_id", p.ID),
			zap.String("name", p.Name),
			zap.Int64("quantity", p.Quantity),
			zap.Bool("auto_created", p.AutoCreated),
		)
	}
	j.logger.Warn("negative stock reconciliation needed",
		zap.Int("products", len(report.Products)),
		zap.Int64("total_shortage", report.TotalShortage),
	)
	return nil
}
