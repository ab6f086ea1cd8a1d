package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prudhvinik1/eventsync/internal/config"
	"github.com/prudhvinik1/eventsync/internal/database"
	"github.com/prudhvinik1/eventsync/internal/handlers"
	"github.com/prudhvinik1/eventsync/internal/realtime"
	"github.com/prudhvinik1/eventsync/internal/repositories"
	"github.com/prudhvinik1/eventsync/internal/services"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, logger)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer postgresPool.Close()

	if err := database.Migrate(ctx, postgresPool); err != nil {
		return err
	}

	var (
		cache       repositories.EventCache
		presence    repositories.PresenceRepository
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer redisClient.Close()

		cache = repositories.NewRedisEventCache(redisClient, repositories.DefaultEventCacheTTL, logger)
		presence = repositories.NewRedisPresenceRepository(redisClient)
	} else {
		memCache := repositories.NewMemoryEventCache(repositories.DefaultEventCacheTTL)
		defer memCache.Stop()
		cache = memCache
		logger.Warn("REDIS_URL not set, running single instance without presence")
	}

	hub := realtime.NewHub(presence, logger)
	defer hub.Close()

	var relay *realtime.RedisRelay
	if redisClient != nil {
		relay = realtime.NewRedisRelay(redisClient, hub, logger)
		hub.SetPublisher(relay)
	}

	preference, err := services.ParseMergePreference(cfg.MergePreference)
	if err != nil {
		return err
	}

	// Repositories
	eventRepo := repositories.NewPostgresEventRepository(postgresPool)
	queueRepo := repositories.NewPostgresQueueRepository(postgresPool)
	deviceRepo := repositories.NewPostgresDeviceRepository(postgresPool)
	syncLogRepo := repositories.NewPostgresSyncLogRepository(postgresPool)

	// Services
	eventService := services.NewEventService(eventRepo, syncLogRepo, cache, hub, logger)
	processor := services.NewQueueProcessor(queueRepo, eventService, syncLogRepo, cfg.QueueClaimTimeout, logger)
	resolver := services.NewConflictResolver(preference, logger)
	syncService := services.NewSyncService(queueRepo, deviceRepo, syncLogRepo, eventRepo, eventService, processor, resolver, hub, logger)

	router := handlers.NewRouter(
		handlers.NewEventHandlers(eventService, logger),
		handlers.NewSyncHandlers(syncService, logger),
		hub,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
