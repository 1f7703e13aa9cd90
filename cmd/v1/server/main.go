package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/driftroom/driftroom/internal/v1/cache"
	"github.com/driftroom/driftroom/internal/v1/config"
	"github.com/driftroom/driftroom/internal/v1/health"
	"github.com/driftroom/driftroom/internal/v1/logging"
	"github.com/driftroom/driftroom/internal/v1/ratelimit"
	"github.com/driftroom/driftroom/internal/v1/registry"
	"github.com/driftroom/driftroom/internal/v1/server"
	"github.com/driftroom/driftroom/internal/v1/store"
	"github.com/driftroom/driftroom/internal/v1/tracing"
)

const (
	bootTimeout   = 30 * time.Second
	shutdownGrace = 30 * time.Second
)

func main() {
	ctx := context.Background()

	// .env is a local development convenience; production deployments rely
	// on real environment variables.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			envLoaded = true
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Fatal(ctx, "environment validation failed", zap.Error(err))
	}

	logging.Initialize(cfg.Development())
	if envLoaded {
		logging.Info(ctx, "loaded environment from .env file")
	}
	cfg.LogValidated(ctx)

	if tracing.Enabled() {
		tp, err := tracing.Init(ctx, "driftroom", cfg.OTELEndpoint)
		if err != nil {
			logging.Fatal(ctx, "tracing init failed", zap.Error(err))
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(flushCtx)
		}()
	}

	cacheClient, err := cache.New(cfg.RedisURL)
	if err != nil {
		logging.Fatal(ctx, "cache connection failed", zap.Error(err))
	}

	bootCtx, cancelBoot := context.WithTimeout(ctx, bootTimeout)
	gateway, err := store.Connect(bootCtx, cfg.DatabaseURL)
	cancelBoot()
	if err != nil {
		logging.Fatal(ctx, "database connection failed", zap.Error(err))
	}

	srv := server.New(server.Options{
		Config:   cfg,
		Cache:    cacheClient,
		Store:    gateway,
		Registry: registry.New(),
		Limiter:  ratelimit.New(cacheClient),
		Health:   health.NewHandler(cacheClient, gateway),
	})

	httpServer := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: srv.Router(),
	}

	go func() {
		logging.Info(ctx, "server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("version", server.Version),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server stopped", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "forced shutdown", zap.Error(err))
	}

	gateway.Close()
	if err := cacheClient.Close(); err != nil {
		logging.Error(ctx, "cache close failed", zap.Error(err))
	}

	logging.Info(ctx, "server exited")
}
