package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
)

// Config selects the brokers and client identity.
type Config struct {
	Brokers  []string
	ClientID string
	Timeout  time.Duration
}

// Producer is a synchronous sarama producer waiting for all replicas.
type Producer struct {
	conn sarama.SyncProducer
}

func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Idempotent = true
	conf.Net.MaxOpenRequests = 1
	conf.Version = sarama.V2_1_0_0
	if cfg.ClientID != "" {
		conf.ClientID = cfg.ClientID
	}
	if cfg.Timeout > 0 {
		conf.Producer.Timeout = cfg.Timeout
	}

	client, err := sarama.NewClient(cfg.Brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	conn, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Producer{conn: conn}, nil
}

// NewProducerFrom wraps an existing sync producer, such as a sarama mock.
func NewProducerFrom(conn sarama.SyncProducer) *Producer {
	return &Producer{conn: conn}
}

// Send publishes one message keyed for partition affinity.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := p.conn.SendMessage(toKafkaMessage(topic, key, value, headers))
	return err
}

func (p *Producer) Close() error {
	return p.conn.Close()
}

func toKafkaMessage(topic, key string, value []byte, headers map[string]string) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return msg
}
