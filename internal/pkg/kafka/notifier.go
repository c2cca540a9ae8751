package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/harborchat/harbor/internal/model"
)

// Notifier publishes notification records to a Kafka topic for the external
// delivery worker (email, digest). The chat core never waits on delivery.
type Notifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewNotifier(brokers []string, topic string) (*Notifier, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Notifier{producer: producer, topic: topic}, nil
}

func (n *Notifier) Notify(_ context.Context, notification *model.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		// Key by recipient so one user's notifications stay ordered.
		Key:   sarama.StringEncoder(notification.RecipientID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := n.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (n *Notifier) Close() error {
	return n.producer.Close()
}
