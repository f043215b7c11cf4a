package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"smartengo-backend/internal/util"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams every locally originated event to a Kafka topic,
// keyed by record id so the events of one record stay ordered.
type KafkaPublisher struct {
	writer messageWriter
	hub    *Hub
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, hub *Hub) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	return &KafkaPublisher{writer: writer, hub: hub}
}

// Run writes events until ctx is cancelled, then closes the writer.
func (p *KafkaPublisher) Run(ctx context.Context) error {
	sub := p.hub.Subscribe(256)
	defer sub.Cancel()
	defer p.writer.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			if e.Origin != p.hub.ID() {
				continue
			}
			if err := p.PublishEvent(ctx, e); err != nil {
				util.GetLogger().Warn("Failed to publish event to kafka",
					zap.String("event_id", e.ID), zap.Error(err))
			}
		}
	}
}

// PublishEvent publishes an event to Kafka
func (p *KafkaPublisher) PublishEvent(ctx context.Context, e Event) error {
	eventBytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.RecordID),
		Value: eventBytes,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "table", Value: []byte(e.Table)},
			{Key: "type", Value: []byte(e.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	util.GetLogger().Debug("Published event",
		zap.String("table", e.Table), zap.String("type", e.Type), zap.String("record_id", e.RecordID))
	return nil
}
