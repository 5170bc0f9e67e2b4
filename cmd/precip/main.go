package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	httpadapter "github.com/couchcryptid/precip-station-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/precip-station-service/internal/adapter/kafka"
	"github.com/couchcryptid/precip-station-service/internal/adapter/mapbox"
	"github.com/couchcryptid/precip-station-service/internal/config"
	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/observability"
	"github.com/couchcryptid/precip-station-service/internal/pipeline"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to read .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Region geocoding is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var (
		publisher pipeline.Publisher
		writer    *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	loader := pipeline.NewLoader(pipeline.Options{
		Delimiter:         cfg.CSVDelimiter,
		DefaultCRS:        cfg.DefaultSourceCRS,
		MaxExtractedBytes: cfg.MaxExtractedBytes,
	}, geocoder, publisher, logger, metrics)
	session := pipeline.NewSession(loader, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, session, session, cfg.MaxUploadBytes, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Startup default dataset; /readyz reports not ready until it loads.
	if cfg.DataCSVPath != "" {
		session.ExpectInitialLoad()
		go loadDefault(ctx, session, cfg, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func loadDefault(ctx context.Context, session *pipeline.Session, cfg *config.Config, logger *slog.Logger) {
	up, err := pipeline.ReadUpload(cfg.DataCSVPath, cfg.DataArchivePath)
	if err != nil {
		logger.Error("startup dataset unavailable", "error", err)
		return
	}
	if _, err := session.Load(ctx, up); err != nil {
		logger.Error("startup dataset failed to load", "csv", cfg.DataCSVPath, "archive", cfg.DataArchivePath, "error", err)
	}
}
