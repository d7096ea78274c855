package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"ragme/internal/app"
	"ragme/internal/config"
	"ragme/internal/logger"
)

func main() {
	slog.SetDefault(logger.New(slog.LevelInfo))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	application := app.New(cfg, deps.DB, deps.Store, deps.NSQProducer)

	if cfg.EnableIngestWorker {
		consumer, err := nsq.NewConsumer(config.TopicIngest, "backend", nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("create NSQ consumer: %w", err)
		}
		consumer.AddHandler(application.IngestConsumer)
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			return fmt.Errorf("connect to nsqlookupd: %w", err)
		}
		defer consumer.Stop()
		slog.Info("ingest consumer connected", "topic", config.TopicIngest)
	}

	if !cfg.EnableAPI {
		// Worker-only deployment: nothing to serve, wait for a signal.
		<-ctx.Done()
		return nil
	}

	return application.Run(ctx)
}
