// Package kafka publishes reporting items to a Kafka topic
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/sirosfoundation/go-peppol-ap/internal/reporting"
)

// Config holds Kafka producer settings
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Producer implements reporting.Backend with a synchronous sarama producer
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer connects to the Kafka brokers
func NewProducer(cfg *Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return NewProducerWith(p, cfg.Topic), nil
}

// NewProducerWith wraps an existing sync producer
func NewProducerWith(p sarama.SyncProducer, topic string) *Producer {
	if topic == "" {
		topic = "peppol-reporting"
	}
	return &Producer{producer: p, topic: topic}
}

func producerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Timeout = 10 * time.Second
	return cfg
}

// Store implements reporting.Backend. Items are keyed by their ID.
// sarama does not take a context, so ctx is only checked before sending.
func (p *Producer) Store(ctx context.Context, item reporting.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding reporting item: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(item.ID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("direction"), Value: []byte(item.Direction)},
		},
		Timestamp: item.ExchangeDateTime,
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publishing reporting item %s: %w", item.ID, err)
	}
	return nil
}

// Close closes the producer
func (p *Producer) Close(context.Context) error {
	return p.producer.Close()
}
