package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// RedisSink publishes envelopes on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to addr and checks the connection.
func NewRedisSink(ctx context.Context, addr, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisSink{client: client, channel: channel}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, env Envelope, payload []byte) error {
	return s.client.Publish(ctx, s.channel, payload).Err()
}

func (s *RedisSink) Close() error { return s.client.Close() }

// KafkaSink writes envelopes to a topic keyed by mode, so each mode's
// events stay ordered on one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a writer for topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, env Envelope, payload []byte) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Mode),
		Value: payload,
		Time:  env.Time,
	})
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

// NATSSink publishes envelopes on "<prefix>.<mode>.<event type>".
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink connects to url, reconnecting indefinitely.
func NewNATSSink(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSSink{nc: nc, prefix: prefix}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject env is published on.
func (s *NATSSink) Subject(env Envelope) string {
	return Subject(s.prefix, env)
}

func (s *NATSSink) Send(ctx context.Context, env Envelope, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.nc.Publish(s.Subject(env), payload)
}

func (s *NATSSink) Close() error {
	return s.nc.Drain()
}

// Subject builds a NATS subject for env under prefix.
func Subject(prefix string, env Envelope) string {
	return fmt.Sprintf("%s.%s.%s", prefix, env.Mode, env.Type)
}
