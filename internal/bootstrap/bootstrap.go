// Package bootstrap assembles the services shared by the server and CLI binaries
// from configuration. Optional subsystems are enabled by their address settings.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"invoicing-service/config"
	"invoicing-service/internal/app"
	"invoicing-service/internal/cache"
	"invoicing-service/internal/core"
	"invoicing-service/internal/db"
	"invoicing-service/internal/events"
	"invoicing-service/internal/idgen"
	"invoicing-service/internal/search"
	"invoicing-service/internal/store/memory"
	"invoicing-service/internal/store/postgres"
	"invoicing-service/internal/store/postgres/migrations"
	"invoicing-service/internal/workers"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Options selects which long-running consumers New wires.
type Options struct {
	// ConsumeOrders starts a shop order listener when Kafka is configured.
	ConsumeOrders bool
}

// Runtime holds everything built from one configuration.
type Runtime struct {
	Config   *config.Config
	Logger   *zap.Logger
	App      app.ApplicationService
	Invoices core.InvoiceService
	Stock    core.StockService
	// DB is nil when the memory store is in use.
	DB       *pgxpool.Pool
	Workers  *workers.Pool
	Listener *events.OrderListener

	closers []func() error
}

// New builds the runtime. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (_ *Runtime, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
		}
	}()

	store, err := rt.openStore(ctx)
	if err != nil {
		return nil, err
	}

	gen, err := idgen.New(cfg.IDGen.NodeID)
	if err != nil {
		return nil, err
	}

	rt.Workers, err = workers.NewPool(cfg.Workers.SideEffectPoolSize, logger)
	if err != nil {
		return nil, err
	}

	var hooks []core.PostingHook
	var productCache core.ProductCache
	var searcher core.ProductSearcher

	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("product cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			rt.closers = append(rt.closers, client.Close)
			pc := cache.NewProductCache(client, cfg.Redis.TTL, logger)
			productCache = pc
			hooks = append(hooks, pc)
			logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	if len(cfg.Elastic.Addresses) > 0 {
		es, err := search.NewClient(cfg.Elastic)
		if err != nil {
			return nil, err
		}
		index := search.NewProductIndex(es, cfg.Elastic.Index, logger)
		if err := index.EnsureIndex(ctx); err != nil {
			logger.Warn("product search disabled", zap.Strings("addresses", cfg.Elastic.Addresses), zap.Error(err))
		} else {
			searcher = index
			hooks = append(hooks, index)
			logger.Info("connected to elasticsearch", zap.Strings("addresses", cfg.Elastic.Addresses))
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.InvoiceTopic), logger)
		rt.closers = append(rt.closers, publisher.Close)
		hooks = append(hooks, publisher)
		logger.Info("publishing invoice events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.InvoiceTopic),
		)
	}

	rt.Invoices = core.NewInvoiceService(store,
		core.NewProductResolver(gen, nil),
		core.NewValuationEngine(nil),
		logger,
		core.WithHooks(hooks...),
		core.WithDispatcher(rt.Workers.Submit),
	)
	rt.Stock = core.NewStockService(store, productCache, searcher, logger)
	rt.App = app.NewAppService(rt.Invoices, rt.Stock)

	if opts.ConsumeOrders && len(cfg.Kafka.Brokers) > 0 {
		reader := events.NewReader(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic, cfg.Kafka.OrdersGroupID)
		rt.Listener = events.NewOrderListener(reader, rt.Invoices, logger)
		rt.closers = append(rt.closers, rt.Listener.Close)
	}
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) (core.Store, error) {
	switch rt.Config.Store.Driver {
	case "memory":
		rt.Logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil
	case "postgres", "":
		pool, err := db.NewPool(ctx, rt.Config.Postgres)
		if err != nil {
			return nil, err
		}
		rt.DB = pool
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		rt.Logger.Info("connected to postgres")
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", rt.Config.Store.Driver)
	}
}

// Migrate applies pending migrations. It fails on the memory store.
func (rt *Runtime) Migrate(ctx context.Context) ([]string, error) {
	if rt.DB == nil {
		return nil, errors.New("migrations need the postgres store")
	}
	applied, err := migrations.Apply(ctx, rt.DB)
	if err != nil {
		return nil, err
	}
	for _, v := range applied {
		rt.Logger.Info("migration applied", zap.String("version", v))
	}
	return applied, nil
}

// Close drains in-flight side effects until ctx expires, then releases connections
// in reverse order of opening.
func (rt *Runtime) Close(ctx context.Context) {
	if rt.Workers != nil {
		rt.Workers.Shutdown(ctx)
	}
	rt.closeAll()
}

func (rt *Runtime) closeAll() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.Logger.Warn("close failed", zap.Error(err))
		}
	}
	rt.closers = nil
}
