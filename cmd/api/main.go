package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunohmelo/docpipe-back/internal/config"
	httpserver "github.com/brunohmelo/docpipe-back/internal/http"
	"github.com/brunohmelo/docpipe-back/internal/http/handlers"
	"github.com/brunohmelo/docpipe-back/internal/pipeline"
	"github.com/brunohmelo/docpipe-back/internal/registry"
	"github.com/brunohmelo/docpipe-back/internal/retry"
	"github.com/brunohmelo/docpipe-back/internal/stages"
	"github.com/brunohmelo/docpipe-back/internal/status"
)

func main() {
	logger := log.New(os.Stdout, "[docpipe] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, storeCloser := setupStatusStore(ctx, cfg, logger)
	defer storeCloser()

	jobRegistry := registry.New(logger)
	executor := retry.NewExecutor(retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BackoffMin:  time.Duration(cfg.RetryBackoffMinMS) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.RetryBackoffMaxMS) * time.Millisecond,
	}, logger)

	localStages := stages.NewLocal(cfg.ChunkSizeChars)
	coordinator := pipeline.NewCoordinator(pipeline.Config{
		Store:             store,
		Registry:          jobRegistry,
		Executor:          executor,
		Stages:            localStages.StageSet(),
		Logger:            logger,
		DisableRefinement: !cfg.RefinementEnabled,
	})
	if !cfg.RefinementEnabled {
		logger.Printf("background refinement disabled by configuration")
	}

	api := handlers.NewAPI(coordinator, localStages)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSec) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	jobRegistry.Shutdown(shutdownCtx)
}

func setupStatusStore(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (status.Store, func()) {
	ttl := time.Duration(cfg.StatusTTLSecs) * time.Second

	if cfg.RedisAddr != "" {
		redisStore, err := status.NewRedisStore(ctx, status.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.StatusKeyPrefix,
			TTL:       ttl,
		})
		if err == nil {
			logger.Printf("redis status store initialized")
			return redisStore, func() { _ = redisStore.Close() }
		}
		logger.Printf("failed to initialize redis status store, trying next backend: %v", err)
	}

	if cfg.DatabaseURL != "" {
		pgStore, err := status.NewPostgresStore(ctx, cfg.DatabaseURL, ttl)
		if err == nil {
			logger.Printf("postgres status store initialized")
			return pgStore, func() { pgStore.Close() }
		}
		logger.Printf("failed to initialize postgres status store, fallback to memory: %v", err)
	}

	logger.Printf("REDIS_ADDR and DATABASE_URL not configured, using in-memory status store")
	return status.NewMemoryStore(ttl), func() {}
}
