package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"straintype/internal/audit"
	"straintype/internal/mlst"
	"straintype/internal/platform/config"
	"straintype/internal/platform/httpserver"
	"straintype/internal/platform/logger"
	platformredis "straintype/internal/platform/redis"
	httptransport "straintype/internal/transport/http"
	"straintype/internal/typingdb"
	"straintype/internal/typingdb/bigsdb"
	"straintype/internal/typingdb/cache"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Typing logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	databases, err := typingdb.LoadRegistry(cfg.RegistryFile)
	if err != nil {
		log.Error("database registry is malformed", "error", err)
		os.Exit(1)
	}

	providers := typingdb.NewProviderRegistry()
	if err := providers.Register(bigsdb.New()); err != nil {
		log.Error("provider registration failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	tiers := []cache.Store{cache.NewMemoryStore(cfg.CacheTTL)}
	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		tiers = append(tiers, cache.NewRedisStore(redisClient.Client, cfg.CacheTTL))
	}
	if cfg.CachePath != "" {
		diskStore, err := cache.NewSQLiteStore(cfg.CachePath)
		if err != nil {
			log.Error("on-disk cache unavailable", "path", cfg.CachePath, "error", err)
			os.Exit(1)
		}
		tiers = append(tiers, diskStore)
	}
	store := cache.NewTiered(tiers...)
	defer func() { _ = store.Close() }()

	client, err := typingdb.NewClient(typingdb.ClientConfig{
		Databases:        databases,
		Providers:        providers,
		Cache:            store,
		FetchConcurrency: cfg.FetchConcurrency,
		MaxAttempts:      cfg.FetchAttempts,
		Logger:           log,
	})
	if err != nil {
		log.Error("typing database client failed to start", "error", err)
		os.Exit(1)
	}

	var sink audit.Sink = audit.NewMemorySink()
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka audit sink failed", "error", err)
			os.Exit(1)
		}
		sink = kafkaSink
	}
	auditor := audit.NewPublisher(sink, log, audit.WithAsyncBuffer(256))
	defer func() { _ = auditor.Close() }()

	svc := mlst.NewService(client, log, auditor)
	handler := httptransport.NewHandler(svc, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	log.Info("starting straintype", "addr", cfg.Addr, "databases", len(databases))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
