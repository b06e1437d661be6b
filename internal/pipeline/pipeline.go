// Package pipeline relays the routing audit trail to Kafka.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refset/desk-routing/internal/routing"
)

// eventNamespace scopes the deterministic event ids derived from trace ids.
var eventNamespace = uuid.MustParse("5f0c3c8e-2d0a-4b8e-9a55-7b1f1d6c0e21")

// Sink receives relayed records. *kafka.Producer implements it.
type Sink interface {
	SendDecision(ctx context.Context, key string, decision any) error
	SendTicket(ctx context.Context, key string, ticket any) error
	Close() error
}

// DecisionRecord is one routing trace step as published downstream.
type DecisionRecord struct {
	EventID   string            `json:"event_id"`
	TicketRef string            `json:"ticket_ref"`
	Step      routing.TraceStep `json:"step"`
}

// TicketRecord is a ticket snapshot taken when one of its steps was relayed.
type TicketRecord struct {
	EventID   string                `json:"event_id"`
	AsOfTrace int64                 `json:"as_of_trace_id"`
	Ticket    routing.TicketSummary `json:"ticket"`
}

// Pipeline orchestrates the flow from the routing trace to Kafka
type Pipeline struct {
	poller   *Poller
	sink     Sink
	interval time.Duration
	logger   *zap.Logger
}

// New creates a new pipeline
func New(source Source, sink Sink, interval time.Duration, batchSize int, logger *zap.Logger) *Pipeline {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		poller:   NewPoller(source, batchSize),
		sink:     sink,
		interval: interval,
		logger:   logger,
	}
}

// Poller exposes the pipeline's checkpointing poller.
func (p *Pipeline) Poller() *Poller {
	return p.poller
}

// Run relays until ctx is done. The whole trail is replayed on start; record
// keys and event ids let consumers drop duplicates.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("starting audit relay",
		zap.Duration("poll_interval", p.interval),
		zap.Int64("checkpoint", p.poller.Checkpoint()))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.poll(ctx); err != nil {
		p.logger.Warn("initial poll failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down audit relay", zap.Int64("checkpoint", p.poller.Checkpoint()))
			return p.sink.Close()
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				p.logger.Warn("poll failed", zap.Error(err))
			}
		}
	}
}

// poll drains every batch available now. Delivery stops at the first failed
// event so the next poll retries it.
func (p *Pipeline) poll(ctx context.Context) error {
	for {
		events, err := p.poller.Poll(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: read trail: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		p.logger.Debug("polled trace steps", zap.Int("count", len(events)))

		for _, ev := range events {
			if err := p.relay(ctx, ev); err != nil {
				return fmt.Errorf("pipeline: relay trace %d: %w", ev.Trace.ID, err)
			}
			p.poller.Ack(ev)
		}
		if len(events) < p.poller.batchSize {
			return nil
		}
	}
}

func (p *Pipeline) relay(ctx context.Context, ev routing.AuditEvent) error {
	key := ev.Ticket.Ref
	id := strconv.FormatInt(ev.Trace.ID, 10)

	if err := p.sink.SendDecision(ctx, key, DecisionRecord{
		EventID:   uuid.NewSHA1(eventNamespace, []byte("decision:"+id)).String(),
		TicketRef: key,
		Step:      ev.Trace,
	}); err != nil {
		return err
	}
	return p.sink.SendTicket(ctx, key, TicketRecord{
		EventID:   uuid.NewSHA1(eventNamespace, []byte("ticket:"+id)).String(),
		AsOfTrace: ev.Trace.ID,
		Ticket:    ev.Ticket,
	})
}
