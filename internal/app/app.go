// Package app assembles the routing engine from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/refset/desk-routing/internal/classifier"
	"github.com/refset/desk-routing/internal/config"
	"github.com/refset/desk-routing/internal/routing"
	"github.com/refset/desk-routing/internal/store"
	"github.com/refset/desk-routing/internal/store/postgres"
	"github.com/refset/desk-routing/internal/store/sqlite"
)

// Store is what the binaries need from a relational backend.
type Store interface {
	routing.Store
	AuditEventsAfter(ctx context.Context, afterID int64, limit int) ([]routing.AuditEvent, error)
	Migrate(ctx context.Context) error
	Seed(ctx context.Context, ds store.Dataset) error
	Close() error
}

type pgStore struct {
	*postgres.Store
}

func (s pgStore) Close() error {
	s.Store.Close()
	return nil
}

// OpenStore opens the configured backend and applies its schema.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pgStore{s}, nil
	default:
		return nil, fmt.Errorf("app: unknown database driver %q", cfg.Driver)
	}
}

// Engine bundles the engine with the collectors it reports to.
type Engine struct {
	*routing.Engine
	Metrics  *routing.Metrics
	Registry *prometheus.Registry
}

// NewEngine loads the rule table, builds the classifier gateway and checks the
// store against the rules.
func NewEngine(ctx context.Context, cfg *config.Config, st routing.Store, logger *zap.Logger) (*Engine, error) {
	rules, err := routing.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := routing.NewMetrics(reg)

	cls, err := classifier.New(ctx, classifier.Options{
		Provider:      cfg.Classifier.Provider,
		BaseURL:       cfg.Classifier.BaseURL,
		Username:      cfg.Classifier.Username,
		Password:      cfg.Classifier.Password,
		APIKey:        cfg.Classifier.APIKey,
		Model:         cfg.Classifier.Model,
		Timeout:       cfg.Classifier.Timeout,
		DefaultIntent: rules.DefaultIntent(),
		MaxConfidence: cfg.Classifier.HeuristicMaxConfidence,
		Logger:        logger.Named("classifier"),
		Metrics:       metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := cls.Ping(ctx); err != nil {
		logger.Warn("classifier unreachable, heuristic fallback will answer until it recovers", zap.Error(err))
	} else {
		logger.Info("classifier ready", zap.String("classifier", cls.RemoteName()))
	}

	engine := routing.NewEngine(st, rules, cls, routing.Options{
		ConfidenceThreshold: cfg.Classifier.ConfidenceThreshold,
		EscalationMarkers:   cfg.Classifier.EscalationMarkers,
		SenderEmail:         cfg.Service.SenderEmail,
		InboxEmail:          cfg.Service.InboxEmail,
		Logger:              logger.Named("engine"),
		Metrics:             metrics,
	})
	if err := engine.Validate(ctx); err != nil {
		return nil, fmt.Errorf("app: routing configuration: %w", err)
	}
	return &Engine{Engine: engine, Metrics: metrics, Registry: reg}, nil
}
