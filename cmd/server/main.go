package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay-service/internal/adapters/kafka"
	"relay-service/internal/api/routes"
	"relay-service/internal/config"
	"relay-service/internal/database"
	"relay-service/internal/relay"
	"relay-service/internal/repositories/postgres"
	"relay-service/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting relay server")

	db, err := database.NewPostgresConnection(cfg.DB.DSN())
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	messageRepo := postgres.NewMessageRepository(db)

	// Presence mirroring and the event feed are optional collaborators;
	// the relay runs without them.
	var presence *services.PresenceService
	if cfg.Redis.Addr != "" {
		redisClient, err := database.NewRedisConnection(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		presence = services.NewPresenceService(redisClient)
	}

	registry := relay.NewRegistry()
	relayRouter := relay.NewRouter(registry, messageRepo, presence, cfg.Relay.HistoryLimit)

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			slog.Error("Failed to connect to Kafka", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		relayRouter.SetEventProducer(producer, cfg.Kafka.Topic)
	}

	router := routes.NewRouter(relayRouter, registry, cfg.Relay.SendQueue)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
