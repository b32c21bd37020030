package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
)

// Producer publishes interaction events to the bus. Events are keyed by user
// id so all interactions of one user land on the same partition and replay in
// order.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicInteractions,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxRetries,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}

	logger.Info("interaction producer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.TopicInteractions),
	)

	return &Producer{writer: w, logger: logger}
}

func (p *Producer) PublishInteraction(ctx context.Context, event *models.InteractionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling interaction event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.InteractionEventsTotal.WithLabelValues("publish", "error").Inc()
		return fmt.Errorf("publishing interaction event: %w", err)
	}

	observability.InteractionEventsTotal.WithLabelValues("publish", "success").Inc()
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
