package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"huddle/api/internal/app"
	"huddle/api/internal/blob"
	"huddle/api/internal/cache"
	"huddle/api/internal/config"
	"huddle/api/internal/events"
	"huddle/api/internal/store"
)

func main() {
	cfg := config.Load()

	flags := pflag.NewFlagSet("huddle-api", pflag.ExitOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flags.StringVar(&cfg.MigrationsDir, "migrations-dir", cfg.MigrationsDir, "directory holding *.up.sql migrations")
	flags.StringVar(&cfg.EventsBackend, "events", cfg.EventsBackend, "change notification backend: redis, kafka or none")
	skipMigrations := flags.Bool("skip-migrations", false, "do not apply migrations on start")
	_ = flags.Parse(os.Args[1:])

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if !*skipMigrations {
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
	}

	blobStore, err := blob.New(blob.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
		URLTTL:    cfg.PresignTTL,
	})
	if err != nil {
		log.Fatalf("object storage setup failed: %v", err)
	}
	if err := blobStore.EnsureBucket(ctx); err != nil {
		log.Printf("WARNING: bucket check failed (uploads may fail): %v", err)
	}

	deps := app.Dependencies{
		Attachments: blobStore,
		Uploads:     blobStore,
		Checks:      map[string]app.Pinger{},
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for attachment URL caching")
		redisStore, err := cache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Attachments = cache.NewCachedURLs(blobStore, redisStore, cfg.URLCacheTTL)
		deps.Checks["redis"] = redisStore
		if cfg.EventsBackend == "redis" {
			deps.Events = events.NewRedisPublisher(redisStore.Client())
		}
	}

	switch cfg.EventsBackend {
	case "kafka":
		log.Printf("Publishing change events to Kafka topic %s", cfg.KafkaTopic)
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		deps.Events = publisher
	case "redis":
		if deps.Events == nil {
			log.Printf("WARNING: redis events backend selected without REDIS_URL; events disabled")
		}
	case "none", "":
	default:
		log.Fatalf("unknown events backend %q", cfg.EventsBackend)
	}

	service := app.New(cfg, store.NewPostgresStore(db), deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Huddle API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
