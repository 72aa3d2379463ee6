// Package workers runs post-commit side effects on a bounded goroutine pool.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Pool wraps an ants pool and tracks in-flight tasks so shutdown can drain them.
type Pool struct {
	pool   *ants.Pool
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewPool(size int, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 16
	}
	p := &Pool{logger: logger}
	pool, err := ants.NewPool(size,
		ants.WithExpiryDuration(time.Minute),
		ants.WithPanicHandler(func(r any) {
			logger.Error("side effect panicked", zap.Any("panic", r))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Submit schedules task. It blocks while every worker is busy.
func (p *Pool) Submit(task func()) error {
	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		task()
	})
	if err != nil {
		p.wg.Done()
		return fmt.Errorf("failed to submit task: %w", err)
	}
	return nil
}

// Shutdown waits for submitted tasks until ctx expires, then releases the pool.
func (p *Pool) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("side effects still running at shutdown", zap.Int("running", p.pool.Running()))
	}
	p.pool.Release()
}
