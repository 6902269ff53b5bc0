package repository

import (
	"context"
	"fmt"

	"FinGate/internal/domain/models"
	domrepo "FinGate/internal/domain/repository"
	pkgkafka "FinGate/pkg/kafka"
)

// KafkaPublisher mirrors gateway messages onto a Kafka topic keyed by
// request id, so every response of one request lands on one partition.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg models.GatewayMessage) error {
	trace := msg.Metadata["traceId"]
	if trace == "" {
		trace = msg.RequestID
	}
	err := p.producer.Publish(ctx, p.topic, pkgkafka.Message{
		Key:   []byte(msg.RequestID),
		Value: msg,
		Headers: map[string]string{
			pkgkafka.HeaderType:    string(msg.Type),
			pkgkafka.HeaderTraceID: trace,
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.Type, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
