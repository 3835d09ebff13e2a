package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/hub-server/internal/accumulator"
	"github.com/afroash/hub-server/internal/config"
	"github.com/afroash/hub-server/internal/ingest"
	"github.com/afroash/hub-server/internal/mqtt"
	"github.com/afroash/hub-server/internal/server"
	"github.com/afroash/hub-server/internal/storage"
)

const version = "v1.0.0"

func main() {
	configPath := flag.String("config", "configs/hubserver.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)

	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Msg("Starting hub server")

	// Ensure data directory exists
	dataDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := storage.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		log.Fatalf("Failed to create SQLite store: %v", err)
	}

	retentionCleaner := storage.NewRetentionCleaner(store, storage.RetentionCleanerConfig{
		RetentionDays: cfg.Database.RetentionDays,
		CleanupPeriod: cfg.Database.CleanupPeriod,
	}, logger)

	var pub ingest.Publisher = ingest.NopPublisher{}
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPub = mqtt.New(cfg.MQTT, logger)
		pub = mqttPub

		// Re-announce sensors already in the store so they survive
		// Home Assistant restarts without waiting for fresh packets.
		labels, err := store.Labels()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load labels for startup discovery")
		} else {
			mqttPub.PublishStartupDiscovery(labels)
		}
	} else {
		logger.Debug().Msg("MQTT disabled via config")
	}

	acc := accumulator.New(cfg.Accumulator.MaxGap)
	pipeline := ingest.New(store, acc, pub, logger)

	feed := server.NewLiveFeed(logger, cfg.Server.AllowedOrigins...)
	handler := server.NewHandler(pipeline, feed, logger)
	apiHandler := server.NewAPIHandler(store, logger)

	mux := server.NewMux(handler, apiHandler, feed, version)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	feed.Close()
	if mqttPub != nil {
		mqttPub.Stop()
		logger.Info().Msg("MQTT publisher stopped")
	}
	retentionCleaner.Stop()
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("Store close error")
	} else {
		logger.Info().Msg("SQLite store closed")
	}

	logger.Info().Msg("Server stopped")
}

// newLogger builds the process logger from config. Unknown levels fall back
// to info.
func newLogger(cfg config.LoggingSettings) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.Format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}
