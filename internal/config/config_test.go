package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("HUDDLE_EVENTS_BACKEND", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("REDIS_URL", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr :8787, got %q", cfg.Addr)
	}
	if cfg.EventsBackend != "redis" {
		t.Fatalf("expected default events backend redis, got %q", cfg.EventsBackend)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("expected redis to be optional by default, got %q", cfg.RedisURL)
	}
	if cfg.PresignTTL != time.Hour {
		t.Fatalf("expected presign ttl 1h, got %s", cfg.PresignTTL)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HUDDLE_EVENTS_BACKEND", "KAFKA")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("HUDDLE_FEED_CONCURRENCY", "not-a-number")

	cfg := Load()
	if cfg.EventsBackend != "kafka" {
		t.Fatalf("expected kafka, got %q", cfg.EventsBackend)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if !cfg.S3UseSSL {
		t.Fatal("expected S3_USE_SSL to parse as true")
	}
	if cfg.FeedConcurrency != 8 {
		t.Fatalf("expected fallback concurrency 8, got %d", cfg.FeedConcurrency)
	}
}
