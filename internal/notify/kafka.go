package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaDelivery publishes delta events to a Kafka topic, keyed by
// subscriber so one subscriber's notifications stay ordered within a
// partition. The downstream delivery service (push, SMS, toast relay)
// consumes the topic.
type KafkaDelivery struct {
	writer *kafka.Writer
}

// NewKafkaDelivery creates a delivery publishing to topic on brokers.
func NewKafkaDelivery(brokers []string, topic string) *KafkaDelivery {
	return &KafkaDelivery{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Deliver publishes one event.
func (d *KafkaDelivery) Deliver(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SubscriberID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close releases the Kafka writer.
func (d *KafkaDelivery) Close() error {
	return d.writer.Close()
}
