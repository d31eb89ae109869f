package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

const kafkaFlushTimeoutMs = 5000

// KafkaEventPublisher publishes task events to a Kafka topic keyed by task ID
type KafkaEventPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
}

// NewKafkaEventPublisher connects a producer to the given brokers
func NewKafkaEventPublisher(brokers, topic string, log *zap.Logger) (*KafkaEventPublisher, error) {
	if brokers == "" {
		return nil, errors.New("kafka brokers are empty")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is empty")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"enable.idempotence": true,
		"acks":               "all",
		"linger.ms":          5,
		// per-task ordering during retries
		"max.in.flight.requests.per.connection": 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	publisher := &KafkaEventPublisher{
		producer: p,
		topic:    topic,
		logger:   logger.OrNop(log),
	}
	go publisher.drain()

	return publisher, nil
}

// drain consumes delivery reports until the producer is closed
func (p *KafkaEventPublisher) drain() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Warn("Event delivery failed",
					zap.String("key", string(ev.Key)),
					zap.Error(ev.TopicPartition.Error))
			}
		case kafka.Error:
			p.logger.Error("Kafka producer error", zap.Error(ev))
		}
	}
}

// Publish enqueues the event; delivery is reported asynchronously
func (p *KafkaEventPublisher) Publish(ctx context.Context, event domain.TaskEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	msg, err := BuildEventMessage(p.topic, event)
	if err != nil {
		return err
	}
	if err := p.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}
	return nil
}

// Close flushes outstanding messages and closes the producer
func (p *KafkaEventPublisher) Close() {
	if remaining := p.producer.Flush(kafkaFlushTimeoutMs); remaining > 0 {
		p.logger.Warn("Unflushed task events dropped", zap.Int("count", remaining))
	}
	p.producer.Close()
}

// BuildEventMessage encodes a task event as a Kafka message
func BuildEventMessage(topic string, event domain.TaskEvent) (*kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.TaskID),
		Value:          payload,
		Headers:        []kafka.Header{{Key: "event-type", Value: []byte(event.Type)}},
	}, nil
}
