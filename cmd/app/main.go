package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"invoicing-service/config"
	"invoicing-service/internal/adapters/cli"
	"invoicing-service/internal/bootstrap"
	"invoicing-service/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadEnv()
	// Command output owns stdout, so only errors are logged.
	cfg.Logger.Level = "error"

	appLogger, err := logger.New(cfg.Logger, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer appLogger.Sync()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, cli.Usage)
		os.Exit(2)
	}

	ctx := context.Background()
	rt, err := bootstrap.New(ctx, cfg, appLogger, bootstrap.Options{})
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	env := cli.Env{Stdin: os.Stdin, Stdout: os.Stdout}
	if rt.DB != nil {
		env.Migrate = rt.Migrate
	}
	runErr := cli.Run(ctx, rt.App, env, os.Args[1:])
	rt.Close(ctx)
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "Error:", runErr)
		os.Exit(1)
	}
}
