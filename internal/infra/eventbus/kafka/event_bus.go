// Package kafka provides a Kafka-based implementation of the event bus for
// asynchronous messaging.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanwarden/scanwarden/internal/domain/events"
	"github.com/scanwarden/scanwarden/internal/domain/notification"
	"github.com/scanwarden/scanwarden/internal/domain/scanning"
	"github.com/scanwarden/scanwarden/pkg/common/logger"
)

// BrokerMetrics defines metrics operations needed to monitor Kafka message
// publishing.
type BrokerMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// Config contains settings for connecting to and interacting with Kafka
// brokers. It defines the topics and client identifiers needed for message
// routing.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// ScanEventsTopic receives the scan job lifecycle events.
	ScanEventsTopic string
	// NotificationsTopic receives dispatch report events.
	NotificationsTopic string

	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements the EventBus interface using Kafka as the underlying
// message broker. Events are serialized as JSON envelopes and partitioned by
// the publish key, so all events for one scan job land on one partition.
type EventBus struct {
	producer sarama.SyncProducer

	// Maps domain event types to Kafka topic names.
	topics map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics BrokerMetrics
}

// NewEventBusFromConfig creates a new Kafka-based event bus from the provided
// configuration. Publishing waits for acknowledgement from all in-sync
// replicas so lifecycle events are not lost on broker failover.
func NewEventBusFromConfig(
	cfg *Config,
	logger *logger.Logger,
	metrics BrokerMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.ClientID = cfg.ClientID
	producerConfig.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return newEventBus(producer, cfg, logger, metrics, tracer), nil
}

func newEventBus(
	producer sarama.SyncProducer,
	cfg *Config,
	logger *logger.Logger,
	metrics BrokerMetrics,
	tracer trace.Tracer,
) *EventBus {
	// Map domain events to their corresponding Kafka topics to enable
	// type-safe event routing.
	topicsMap := map[events.EventType]string{
		scanning.EventTypeJobTriggered:          cfg.ScanEventsTopic,
		scanning.EventTypeJobStarted:            cfg.ScanEventsTopic,
		scanning.EventTypeJobCompleted:          cfg.ScanEventsTopic,
		scanning.EventTypeJobFailed:             cfg.ScanEventsTopic,
		scanning.EventTypeJobCancelled:          cfg.ScanEventsTopic,
		notification.EventTypeReportDispatched:  cfg.NotificationsTopic,
	}

	return &EventBus{
		producer: producer,
		topics:   topicsMap,
		logger:   logger.With("component", "kafka_event_bus"),
		tracer:   tracer,
		metrics:  metrics,
	}
}

// wireEnvelope is the JSON shape written to Kafka.
type wireEnvelope struct {
	Type      events.EventType  `json:"type"`
	Key       string            `json:"key,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload"`
}

// Publish sends a domain event to the appropriate Kafka topic. It handles
// serialization, routing based on event type, and includes observability
// instrumentation for tracing and metrics.
func (k *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := k.topics[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := k.tracer.Start(ctx, "kafka.produce",
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingOperationPublish,
		))
	defer span.End()

	var pParams events.PublishParams
	for _, opt := range opts {
		opt(&pParams)
	}
	if pParams.Key != "" {
		event.Key = pParams.Key
		span.SetAttributes(attribute.String("event.key", event.Key))
	}
	if len(pParams.Headers) > 0 {
		event.Headers = pParams.Headers
	}

	msgBytes, err := json.Marshal(wireEnvelope{
		Type:      event.Type,
		Key:       event.Key,
		Headers:   event.Headers,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialization failed")
		if k.metrics != nil {
			k.metrics.IncPublishError(ctx, topic)
		}
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.Key), // Used for partition routing.
		Value: sarama.ByteEncoder(msgBytes),
	}
	for name, value := range event.Headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{
			Key:   []byte(name),
			Value: []byte(value),
		})
	}

	partition, offset, sendErr := k.producer.SendMessage(kafkaMsg)
	if sendErr != nil {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "publish failed")
		if k.metrics != nil {
			k.metrics.IncPublishError(ctx, topic)
		}
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, sendErr)
	}

	if k.metrics != nil {
		k.metrics.IncMessagePublished(ctx, topic)
	}
	k.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"event_type", event.Type,
		"key", event.Key,
	)

	return nil
}

// Close shuts down the producer and releases its broker connections.
func (k *EventBus) Close() error {
	if err := k.producer.Close(); err != nil {
		return fmt.Errorf("closing kafka producer: %w", err)
	}
	return nil
}
