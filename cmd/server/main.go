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

	"github.com/banana-evolution/tapboard/internal/config"
	"github.com/banana-evolution/tapboard/internal/handler"
	"github.com/banana-evolution/tapboard/internal/kafka"
	"github.com/banana-evolution/tapboard/internal/postgres"
	"github.com/banana-evolution/tapboard/internal/redis"
	"github.com/banana-evolution/tapboard/internal/service"
	"github.com/banana-evolution/tapboard/internal/websocket"
	"github.com/banana-evolution/tapboard/internal/worker"
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

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL, the authoritative store
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

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize the game service
	gameService := service.NewGameService(
		postgresRepo,
		postgresRepo,
		&cfg.Board,
		logger,
	)
	gameService.SetHub(wsHub)

	// Initialize the Redis board mirror. The server runs without it; reads
	// then come straight from PostgreSQL.
	var boardMirror *redis.BoardMirror
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	boardMirror, err = redis.NewBoardMirror(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("failed to connect to Redis, serving reads from PostgreSQL", "error", err)
		boardMirror = nil
	} else {
		defer boardMirror.Close()
		gameService.SetMirror(boardMirror)
		logger.Info("connected to Redis")
	}

	// Initialize the mirror reconcile worker
	var reconcileWorker *worker.ReconcileWorker
	if boardMirror != nil {
		reconcileWorker = worker.NewReconcileWorker(
			boardMirror,
			postgresRepo,
			&cfg.Reconcile,
			logger,
		)

		// Warm the mirrors before the first read
		logger.Info("rebuilding board mirrors from database")
		reconcileWorker.RunOnce(ctx)

		if cfg.Reconcile.Enabled {
			if err := reconcileWorker.Start(ctx); err != nil {
				logger.Error("failed to start reconcile worker", "error", err)
				os.Exit(1)
			}
		}
	}

	// Initialize Kafka consumer for broker-fed tap batches
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, gameService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(gameService, wsHub, logger)

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

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop reconcile worker
	if reconcileWorker != nil {
		if err := reconcileWorker.Stop(); err != nil {
			logger.Error("failed to stop reconcile worker", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
