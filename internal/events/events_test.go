package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("down") }

func TestRedisPublisherDeliversToWorkspaceChannel(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, Channel("ws_1"))
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pub := NewRedisPublisher(client)
	if err := pub.Publish(ctx, Event{Type: "message.created", WorkspaceID: "ws_1", ID: "msg_1", At: at}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if got.Type != "message.created" || got.ID != "msg_1" || !got.At.Equal(at) {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestKafkaPublisherKeysByWorkspace(t *testing.T) {
	w := &fakeWriter{}
	pub := &KafkaPublisher{writer: w}
	if err := pub.Publish(context.Background(), Event{Type: "channel.deleted", WorkspaceID: "ws_9", ID: "chn_1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}
	if string(w.messages[0].Key) != "ws_9" {
		t.Fatalf("expected key ws_9, got %q", w.messages[0].Key)
	}
	var got Event
	if err := json.Unmarshal(w.messages[0].Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got.Type != "channel.deleted" {
		t.Fatalf("unexpected type %q", got.Type)
	}
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	pub := &KafkaPublisher{writer: &fakeWriter{err: errors.New("no brokers")}}
	if err := pub.Publish(context.Background(), Event{WorkspaceID: "ws"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoggedSwallowsFailures(t *testing.T) {
	if err := (Logged{Next: failingPublisher{}}).Publish(context.Background(), Event{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
