// cmd/extraction-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/IgnatG/langextract-api/internal/api"
	"github.com/IgnatG/langextract-api/internal/cache"
	"github.com/IgnatG/langextract-api/internal/common/config"
	"github.com/IgnatG/langextract-api/internal/common/database"
	"github.com/IgnatG/langextract-api/internal/common/logger"
	"github.com/IgnatG/langextract-api/internal/downloader"
	"github.com/IgnatG/langextract-api/internal/orchestrator"
	"github.com/IgnatG/langextract-api/internal/provider"
	"github.com/IgnatG/langextract-api/internal/security"
	"github.com/IgnatG/langextract-api/internal/task"
	"github.com/IgnatG/langextract-api/internal/webhook"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting extraction service",
		zap.String("environment", cfg.App.Environment),
		zap.String("addr", cfg.Server.Addr()),
	)

	// --- Redis with connection retry ---
	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		zapLog.Fatal("redis client init failed", zap.Error(err))
	}
	defer rdb.Close()

	err = retryWithBackoff(func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis unreachable", zap.Error(err))
	}

	// --- URL safety validator shared by downloader and webhooks ---
	validator := security.NewValidator(log,
		security.WithAllowedDomains(cfg.Security.AllowedDomains),
		security.WithMaxURLLength(cfg.Security.MaxURLLength),
		security.WithDNSTimeout(config.GetDuration(cfg.Security.DNSTimeout)),
	)

	fetcher := downloader.New(cfg.Downloader, validator, log)
	dispatcher := webhook.NewDispatcher(cfg.Webhook, validator, log)

	resultCache, err := cache.New(cfg.Cache, rdb)
	if err != nil {
		zapLog.Fatal("cache init failed", zap.Error(err))
	}
	zapLog.Info("result cache ready", zap.String("backend", resultCache.Backend()))

	// --- Provider registry, built once and injected ---
	registry := provider.NewRegistry()
	for _, model := range cfg.Providers.OpenAIModels(cfg.Extraction.DefaultModel) {
		registry.Register(provider.NewOpenAI(cfg.Providers, model, log))
	}
	zapLog.Info("providers registered", zap.Strings("models", registry.IDs()))

	store := task.NewStore(rdb, time.Duration(cfg.Extraction.ResultTTL)*time.Second)

	orch := orchestrator.New(store, resultCache, registry, fetcher, dispatcher,
		cfg.Extraction, cfg.Worker.QueueSize, log)

	poolCtx, poolStop := context.WithCancel(context.Background())
	orch.StartPool(poolCtx, cfg.Worker.PoolSize)
	zapLog.Info("worker pool started", zap.Int("workers", cfg.Worker.PoolSize))

	server := api.NewServer(orch, rdb, log)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	zapLog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Warn("http shutdown incomplete", zap.Error(err))
	}

	poolStop()
	orch.StopPool()
	zapLog.Info("extraction service stopped")
}
