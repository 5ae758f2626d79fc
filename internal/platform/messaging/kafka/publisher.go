package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/shared/events"
)

// Publisher publishes notification events to Kafka. It satisfies
// events.Dispatcher: delivery failures are logged, never returned.
type Publisher struct {
	producer    sarama.AsyncProducer
	topicPrefix string
	log         logger.Logger
}

// Config holds Kafka publisher configuration
type Config struct {
	Brokers     []string
	TopicPrefix string
}

// NewPublisher creates a new Kafka event publisher
func NewPublisher(cfg Config, log logger.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Version = sarama.V3_3_1_0

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	p := &Publisher{
		producer:    producer,
		topicPrefix: cfg.TopicPrefix,
		log:         log,
	}

	go p.handleErrors()

	return p, nil
}

// Notify publishes an event, best-effort
func (p *Publisher) Notify(ctx context.Context, name string, payload interface{}, ownerID string) {
	event, err := events.NewEvent(name, ownerID, payload)
	if err != nil {
		p.log.Error("failed to build notification event", "event", name, "error", err)
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("failed to serialize notification event", "event", name, "error", err)
		return
	}

	message := &sarama.ProducerMessage{
		Topic: p.topicFor(name),
		Key:   sarama.StringEncoder(ownerID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("eventName"), Value: []byte(name)},
		},
	}

	select {
	case p.producer.Input() <- message:
	case <-ctx.Done():
		p.log.Warn("notification dropped, context cancelled", "event", name)
	}
}

// topicFor maps an event name like "workflow.rolled_back" to a topic
func (p *Publisher) topicFor(name string) string {
	parts := strings.SplitN(name, ".", 2)
	return p.topicPrefix + "." + parts[0] + "-events"
}

func (p *Publisher) handleErrors() {
	for err := range p.producer.Errors() {
		p.log.Error("kafka publish failed", "topic", err.Msg.Topic, "error", err.Err)
	}
}

// Close shuts down the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}

// NopDispatcher discards all notifications, used when Kafka is disabled
type NopDispatcher struct{}

// Notify implements events.Dispatcher
func (NopDispatcher) Notify(ctx context.Context, name string, payload interface{}, ownerID string) {}
