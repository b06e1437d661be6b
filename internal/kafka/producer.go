package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer publishes routing decisions and ticket snapshots to Kafka.
// Both topics are keyed by ticket reference so a ticket's records stay in
// one partition, in order.
type Producer struct {
	decisionsWriter *kafka.Writer
	ticketsWriter   *kafka.Writer
	logger          *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, decisionsTopic, ticketsTopic string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		decisionsWriter: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        decisionsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		ticketsWriter: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        ticketsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

// SendDecision sends one routing trace step to the decisions topic.
func (p *Producer) SendDecision(ctx context.Context, key string, decision any) error {
	return p.send(ctx, p.decisionsWriter, key, decision)
}

// SendTicket sends a ticket snapshot to the tickets topic.
func (p *Producer) SendTicket(ctx context.Context, key string, ticket any) error {
	return p.send(ctx, p.ticketsWriter, key, ticket)
}

func (p *Producer) send(ctx context.Context, w *kafka.Writer, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: encode %s record: %w", w.Topic, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write to %s: %w", w.Topic, err)
	}

	p.logger.Debug("sent record to kafka", zap.String("topic", w.Topic), zap.String("key", key))
	return nil
}

// Close closes the Kafka writers
func (p *Producer) Close() error {
	if err := p.decisionsWriter.Close(); err != nil {
		return err
	}
	return p.ticketsWriter.Close()
}
