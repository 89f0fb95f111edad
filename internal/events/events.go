// Package events announces committed changes so a push transport can tell
// subscribed clients to refetch. Delivery is best effort.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

type Event struct {
	Type        string    `json:"type"`
	WorkspaceID string    `json:"workspaceId"`
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Channel is the Redis pub/sub channel carrying a workspace's events.
func Channel(workspaceID string) string {
	return "huddle:workspace:" + workspaceID
}

// RedisPublisher fans events out over Redis pub/sub, one channel per workspace.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(event.WorkspaceID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher appends events to a topic keyed by workspace id so a
// workspace's events stay ordered within one partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.WorkspaceID),
		Value: payload,
		Time:  event.At,
	})
	if err != nil {
		return fmt.Errorf("write event to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Logged wraps a publisher and swallows its failures after logging them.
type Logged struct {
	Next Publisher
}

func (l Logged) Publish(ctx context.Context, event Event) error {
	if err := l.Next.Publish(ctx, event); err != nil {
		log.Printf("events: %s %s: %v", event.Type, event.ID, err)
	}
	return nil
}
