package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/refset/desk-routing/internal/api"
	"github.com/refset/desk-routing/internal/app"
	"github.com/refset/desk-routing/internal/config"
	"github.com/refset/desk-routing/internal/kafka"
	"github.com/refset/desk-routing/internal/logging"
	"github.com/refset/desk-routing/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "routerd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	st, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	engine, err := app.NewEngine(ctx, cfg, st, logger)
	if err != nil {
		return err
	}

	logger.Info("starting desk router",
		zap.String("database", cfg.Database.Driver),
		zap.String("classifier", cfg.Classifier.Provider),
		zap.Float64("confidence_threshold", cfg.Classifier.ConfidenceThreshold),
		zap.Bool("audit_relay", cfg.RelayEnabled()))

	g, gctx := errgroup.WithContext(ctx)

	server := api.NewServer(engine, st, engine.Registry, logger.Named("http"))
	g.Go(func() error {
		return server.Run(gctx, cfg.HTTP.Addr)
	})

	if cfg.RelayEnabled() {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.DecisionsTopic, cfg.Kafka.TicketsTopic,
			logger.Named("kafka"))
		relay := pipeline.New(st, producer, cfg.Pipeline.PollInterval, cfg.Pipeline.BatchSize, logger.Named("relay"))
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	return g.Wait()
}
