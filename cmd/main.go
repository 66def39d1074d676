package main

import (
	"chatrelay/internal/app/registry"
	"chatrelay/internal/app/server"
	"chatrelay/internal/app/server/handlers"
	"chatrelay/internal/app/typing"
	"chatrelay/internal/config"
	"chatrelay/internal/core/contracts"
	"chatrelay/internal/core/domain"
	"chatrelay/internal/core/services"
	"chatrelay/internal/platform/logger"
	"chatrelay/internal/platform/telemetry"
	"chatrelay/internal/plugins/postgres"
	redisPlugin "chatrelay/internal/plugins/redis"
	"chatrelay/pkg/logging"
	"chatrelay/pkg/middleware"
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", logging.Err(err))
		os.Exit(1)
	}

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", logging.Err(err))
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", logging.Err(err))
		}
	}()

	// Infra
	var pdb *sql.DB
	if pdb, err = postgres.New(ctx, cfg.Postgres); err != nil {
		log.Error("postgres connection failed", logging.Err(err))
		return
	}
	defer pdb.Close()
	log.Info("postgres connected")

	var cache contracts.PresenceCache
	if cfg.Redis.Enabled {
		var rdb *redis.Client
		if rdb, err = redisPlugin.NewRedisClient(ctx, cfg.Redis); err != nil {
			log.Error("redis connection failed", "url", cfg.Redis.URL, logging.Err(err))
			return
		}
		defer rdb.Close()
		cache = redisPlugin.NewRedisPresenceStore(rdb, cfg.Redis.PresenceTTL)
		log.Info("redis connected")
	}

	// Adapters
	userRepo := postgres.NewUserRepository(pdb)
	convRepo := postgres.NewConversationRepo(pdb)
	msgRepo := postgres.NewMessageRepo(pdb)
	txManager := postgres.NewTxManager(pdb)

	// Core Services
	presenceSvc := services.NewPresenceService(log, userRepo, cache)
	hub := registry.NewRegistry(log, presenceSvc)
	tracker := typing.NewTracker(cfg.Typing.Timeout, func(ctx context.Context, receiverID string, ev domain.TypingEvent) {
		hub.Emit(ctx, receiverID, domain.EventUserTyping, ev)
	}, log)
	relaySvc := services.NewRelayService(log, hub, tracker, userRepo, convRepo, msgRepo, txManager)

	var tokens middleware.TokenValidator
	if tokenSvc := services.NewTokenService(cfg.SecretToken); tokenSvc.Enabled() {
		tokens = tokenSvc
	} else {
		log.Warn("JWT_SECRET not set, websocket connections are unauthenticated")
	}

	// Server
	srv := server.NewServer(log, cfg.Service.Name, cfg.Service.Add, tokens,
		handlers.NewWSHandler(hub, tracker, relaySvc),
		handlers.NewStatusHandler(hub, presenceSvc),
		handlers.NewHealthHandler(pdb, hub),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("server stopped", logging.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", logging.Err(err))
	}
	hub.Close(shutdownCtx)
	tracker.Close()
	log.Info("application stopped")
}
