package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/waiverly/billing-engine/config/tracing"
	"github.com/waiverly/billing-engine/server"
)

const (
	envEnv       = "ENV"
	envSentryDsn = "SENTRY_DSN"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Could not load .env: %v\n", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).
		With("service", "billing_engine")
	slog.SetDefault(logger)

	setupGracefulShutdown(cancel, logger)

	tracerProvider := tracing.InitTracerProvider(logger)
	tracing.InitTracer(tracerProvider)
	defer tracerProvider.Stop()

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              os.Getenv(envSentryDsn),
		Environment:      os.Getenv(envEnv),
		Debug:            false,
		AttachStacktrace: true,
	})

	if err != nil {
		fmt.Printf("Sentry initialization failed: %v\n", err)
	}

	defer sentry.Flush(2 * time.Second)

	if err := server.Start(ctx, &server.Config{Logger: logger}); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	signChan := make(chan os.Signal, 1)
	signal.Notify(signChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signChan
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()
}
