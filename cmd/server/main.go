package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lobby-presence/internal/config"
	"github.com/lobby-presence/internal/directory"
	"github.com/lobby-presence/internal/domain"
	"github.com/lobby-presence/internal/handler"
	"github.com/lobby-presence/internal/join"
	"github.com/lobby-presence/internal/kafka"
	"github.com/lobby-presence/internal/postgres"
	"github.com/lobby-presence/internal/projector"
	"github.com/lobby-presence/internal/redis"
	"github.com/lobby-presence/internal/websocket"
	"github.com/lobby-presence/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}
	if cfg.Session.Username == "" {
		logger.Error("session.username must be configured")
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis presence mirror
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	presenceCache, err := redis.NewPresenceCache(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer presenceCache.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize the player directory
	localUsername := func() string { return cfg.Session.Username }
	dir := directory.New(postgresRepo, localUsername, logger)

	// Seed the persisted friend/foe lists; the remote snapshots replace
	// them once the feed delivers them.
	if friends, err := postgresRepo.LoadRelations(ctx, postgres.RelationFriend); err != nil {
		logger.Warn("failed to load persisted friend list", "error", err)
	} else {
		dir.ApplyFriendList(friends)
	}
	if foes, err := postgresRepo.LoadRelations(ctx, postgres.RelationFoe); err != nil {
		logger.Warn("failed to load persisted foe list", "error", err)
	} else {
		dir.ApplyFoeList(foes)
	}

	// Initialize WebSocket hub and push every roster change through it
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	dir.OnChange(wsHub.BroadcastPlayerUpdate)
	logger.Info("WebSocket hub initialized")

	// Initialize the game status projector fed by the ordered event stream
	proj := projector.New(dir, logger)
	gameEvents := make(chan domain.GameEvent, 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-gameEvents:
				if !ok {
					return
				}
				proj.Apply(event)
				wsHub.BroadcastGameUpdate(event.Kind.String(), event.Game)
			}
		}
	}()

	// Initialize the lobby feed consumer
	var feedConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing lobby feed consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.FeedTopic,
		)
		var err error
		feedConsumer, err = kafka.NewConsumer(&cfg.Kafka, dir, gameEvents, logger)
		if err != nil {
			logger.Warn("failed to create feed consumer, continuing without feed", "error", err)
		} else {
			if err := feedConsumer.Start(); err != nil {
				logger.Warn("failed to start feed consumer, continuing without feed", "error", err)
				feedConsumer = nil
			} else {
				logger.Info("lobby feed consumer started")
			}
		}
	}

	// Initialize the join flow
	joinProducer, err := kafka.NewJoinProducer(&cfg.Kafka, localUsername, logger)
	if err != nil {
		logger.Error("failed to create join producer", "error", err)
		os.Exit(1)
	}
	defer joinProducer.Close()

	gamePaths := join.NewGamePaths(cfg.Game.Path)
	promptBroker := join.NewPromptBroker(gamePaths, logger)
	orchestrator := join.NewOrchestrator(joinProducer, promptBroker, promptBroker, promptBroker, dir, logger)

	// Initialize sync worker
	syncWorker := worker.NewSyncWorker(dir, postgresRepo, presenceCache, &cfg.Sync, logger)
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(dir, proj, orchestrator, promptBroker, wsHub, presenceCache, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop feed consumer
	if feedConsumer != nil {
		if err := feedConsumer.Stop(); err != nil {
			logger.Error("failed to stop feed consumer", "error", err)
		}
	}

	// Stop sync worker
	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
