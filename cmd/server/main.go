package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"invoicing-service/config"
	webAdapter "invoicing-service/internal/adapters/web"
	"invoicing-service/internal/bootstrap"
	"invoicing-service/internal/jobs"
	"invoicing-service/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	appLogger, err := logger.New(cfg.Logger, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer appLogger.Sync()

	if err := cfg.ValidateServer(); err != nil {
		appLogger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, appLogger, bootstrap.Options{ConsumeOrders: true})
	if err != nil {
		appLogger.Fatal("failed to start", zap.Error(err))
	}
	if rt.DB != nil {
		if _, err := rt.Migrate(ctx); err != nil {
			appLogger.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	scheduler := jobs.NewScheduler(appLogger)
	negativeStock := jobs.NewNegativeStockJob(rt.Stock, 0, appLogger)
	if err := scheduler.Register("negative-stock", cfg.Jobs.NegativeStockSpec, negativeStock.Run); err != nil {
		appLogger.Fatal("failed to schedule jobs", zap.Error(err))
	}
	scheduler.Start()

	if rt.Listener != nil {
		go rt.Listener.Start(ctx)
	}

	srv := &http.Server{
		Addr: ":" + cfg.Server.HTTPPort,
		Handler: webAdapter.NewHandler(rt.App, appLogger, webAdapter.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			JWTSecret:      cfg.JWT.SecretKey,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("server starting", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	rt.Close(shutdownCtx)
	appLogger.Info("server stopped")
}
