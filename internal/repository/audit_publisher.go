package repository

import (
	"context"

	"ESStats/internal/domain/models"
	"ESStats/pkg/kafka"
)

// KafkaAuditPublisher emits one event per finalized import run, keyed by
// source name so runs for the same file land on one partition in order.
type KafkaAuditPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaAuditPublisher(producer *kafka.Producer, topic string) *KafkaAuditPublisher {
	return &KafkaAuditPublisher{producer: producer, topic: topic}
}

func (p *KafkaAuditPublisher) PublishImportRun(ctx context.Context, run *models.ImportRun) error {
	return p.producer.Publish(ctx, p.topic, []byte(run.SourceName), run)
}

func (p *KafkaAuditPublisher) Close() error {
	return p.producer.Close()
}

// NoopAuditPublisher is used when the audit topic is disabled.
type NoopAuditPublisher struct{}

func (NoopAuditPublisher) PublishImportRun(ctx context.Context, run *models.ImportRun) error {
	return nil
}

func (NoopAuditPublisher) Close() error { return nil }
