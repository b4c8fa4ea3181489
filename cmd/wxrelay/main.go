package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mxlin/wxrelay/internal/ai"
	"github.com/mxlin/wxrelay/internal/background"
	"github.com/mxlin/wxrelay/internal/config"
	"github.com/mxlin/wxrelay/internal/convo"
	"github.com/mxlin/wxrelay/internal/httpapi"
	"github.com/mxlin/wxrelay/internal/observability"
	"github.com/mxlin/wxrelay/internal/relay"
	"github.com/mxlin/wxrelay/internal/store"
	"github.com/mxlin/wxrelay/internal/tail"
	"github.com/mxlin/wxrelay/internal/wechat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	durable, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("durable store init failed: %v", err)
	}
	if durable != nil {
		defer durable.Close()
		log.Printf("durable store: postgres")
	} else {
		log.Printf("durable store: none (context is memory-only)")
	}

	runner := background.NewRunner()

	var cacheStore convo.Store
	if durable != nil {
		cacheStore = durable
	}
	cache := convo.New(cacheStore, runner, convo.Options{
		TTL:           cfg.ContextTTL,
		MaxMessages:   cfg.ContextMaxMessages,
		SyncThreshold: cfg.ContextSyncThreshold,
		Hooks: convo.Hooks{
			CacheEvent: func(event string) {
				metrics.CacheEvents.WithLabelValues(event).Inc()
			},
			SyncResult: func(ok bool) {
				outcome := "ok"
				if !ok {
					outcome = "error"
				}
				metrics.DurableSyncs.WithLabelValues(outcome).Inc()
			},
		},
	})

	provider, err := ai.NewProvider(ctx, ai.Config{
		Mode:          cfg.AIProvider,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiBaseURL: cfg.GeminiBaseURL,
		GeminiModel:   cfg.GeminiModel,
	})
	if err != nil {
		log.Fatalf("ai provider init failed: %v", err)
	}
	log.Printf("ai provider: %s", provider.Name())

	broadcaster := tail.NewBroadcaster(func() {
		metrics.TailDrops.Inc()
	})

	service := relay.NewService(cache, provider, cfg.SystemPrompt, metrics, broadcaster)
	dedupe := wechat.NewDeduper(cfg.DedupeWindow, nil)

	api := httpapi.New(cfg, service, dedupe, metrics, broadcaster)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	// Let in-flight durable syncs land before the process goes away.
	if err := runner.Drain(shutdownCtx); err != nil {
		log.Printf("background drain incomplete: %v (in flight: %d)", err, runner.InFlight())
	}

	log.Printf("shutdown complete")
}
