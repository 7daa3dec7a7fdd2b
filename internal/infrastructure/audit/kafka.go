package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultTopic receives rejection events.
const DefaultTopic = "security.rejections"

// KafkaConfig contains configuration for the Kafka sink
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	Compression  string        `mapstructure:"compression" yaml:"compression"`
	// MaxEventsPerSecond throttles the sink; zero disables throttling.
	MaxEventsPerSecond float64 `mapstructure:"max_events_per_second" yaml:"max_events_per_second"`
}

// DefaultKafkaConfig returns the sink defaults.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:            []string{"localhost:9092"},
		Topic:              DefaultTopic,
		BatchSize:          100,
		BatchTimeout:       50 * time.Millisecond,
		WriteTimeout:       time.Second,
		Compression:        "snappy",
		MaxEventsPerSecond: 200,
	}
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a topic, keyed by identity so one
// caller's events stay ordered on a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates an asynchronous publisher. Delivery failures are
// logged from the writer's completion callback.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("audit: kafka sink needs at least one broker")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				eventsDropped.WithLabelValues("kafka").Add(float64(len(messages)))
				logger.Error("Failed to publish security events", zap.Error(err), zap.Int("count", len(messages)))
			}
		},
	}

	switch cfg.Compression {
	case "gzip":
		writer.Compression = kafka.Gzip
	case "lz4":
		writer.Compression = kafka.Lz4
	case "zstd":
		writer.Compression = kafka.Zstd
	case "none":
	default:
		writer.Compression = kafka.Snappy
	}

	return newKafkaPublisher(writer, cfg.Topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.Identity),
		Value: data,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "code", Value: []byte(e.Code)},
			{Key: "stage", Value: []byte(e.Stage)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		eventsDropped.WithLabelValues("kafka").Inc()
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	eventsPublished.WithLabelValues("kafka").Inc()
	return nil
}

// Close flushes pending events and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
