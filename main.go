package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"

	"finsight/features/stream"
	"finsight/internal/app"
	"finsight/internal/config"
	"finsight/internal/logger"
)

func main() {
	// Initialize structured logger; correlation ids ride along on the context.
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 1. Infrastructure
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()
	defer deps.Redis.Close()
	defer deps.NSQProducer.Stop()

	broadcaster := stream.NewRedisBroadcaster(deps.Redis, cfg.RedisKeyPrefix, cfg.EventHistorySize)
	registry := prometheus.NewRegistry()

	// 2. Application
	application, err := app.New(cfg, deps.DB, broadcaster, deps.NSQProducer, registry, logger)
	if err != nil {
		return err
	}

	// 3. Pipeline Events Consumer
	nsqCfg := nsq.NewConfig()
	consumer, err := nsq.NewConsumer(config.TopicPipelineEvents, "gateway", nsqCfg)
	if err != nil {
		return err
	}
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		return application.PipelineConsumer.HandleMessage(m)
	}))
	if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		// The HTTP surface still works without the consumer; lookupd may
		// simply not be up yet.
		slog.Error("failed to connect to NSQLookupd", "error", err)
	} else {
		slog.Info("pipeline events consumer connected", "topic", config.TopicPipelineEvents)
	}
	defer consumer.Stop()

	// 4. Serve
	return application.Run(ctx)
}
