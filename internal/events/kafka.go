package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/paymentsys/txnengine/internal/models"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

// KafkaPublisher emits transaction state-change events keyed by transaction
// id so events for one transaction stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event models.TransactionEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: value,
	})
	if err != nil {
		telemetry.Logger.Error("Failed to publish transaction event",
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
	}
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
