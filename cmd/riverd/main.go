// Command riverd serves river-morphology forecasts over HTTP.
//
// The service loads a pre-fit artifact bundle (scalers, projection, network
// weights, seed window, historical record) at startup and then answers:
//   - Meander-migration forecasts through an autoregressive inference loop
//     with a write-once run cache (memory or redis)
//   - Per-step saliency attributions for already-computed forecast runs
//   - Flood-risk predictions from a seasonal-trend water-area model trained
//     on a historical series read through a file or http adapter
//   - Riverbank-erosion width forecasts and input-sensitivity matrices
//
// HTTP API:
//   - GET /meander_migration/params/?year=&quart= - Forecast or historical rows
//   - GET /meander_migration/params/explain_migration/?year=&quart=&idx= - Attribution
//   - GET /flood/predict?date=YYYY-MM-DD - Flood-risk payload
//   - GET /erosion/predict?year=&quart=&rainfall=&temperature= - Width forecast
//   - GET /erosion/sensitivity?year=&quart=&rainfall=&temperature= - Sensitivity matrix
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	riverd \
//	  -artifacts-dir=/var/lib/riverd/artifacts \
//	  -history-source=file \
//	  -listen=:8080
//
// Environment variables:
//
//	ARTIFACTS_DIR  - Artifact bundle directory (required)
//	LISTEN         - HTTP listen address (default: :8080)
//	STORAGE        - Run cache backend: memory or redis (default: memory)
//	REDIS_ADDR     - Redis server address (default: localhost:6379)
//	HISTORY_SOURCE - Flood history source: file or http
//	HISTORY_PATH   - CSV path for the file history source
//	DELTA_MODE     - Default delta mode: none, initial, previous
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverinsight/riverd/cmd/riverd/config"
	"github.com/riverinsight/riverd/cmd/riverd/logger"
	"github.com/riverinsight/riverd/cmd/riverd/metrics"
	"github.com/riverinsight/riverd/cmd/riverd/router"
	"github.com/riverinsight/riverd/pkg/adapters"
	"github.com/riverinsight/riverd/pkg/artifacts"
	"github.com/riverinsight/riverd/pkg/erosion"
	"github.com/riverinsight/riverd/pkg/flood"
	"github.com/riverinsight/riverd/pkg/httpx"
	"github.com/riverinsight/riverd/pkg/meander"
	"github.com/riverinsight/riverd/pkg/storage"
	"github.com/riverinsight/riverd/pkg/timeindex"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting riverd",
		"version", version,
		"artifacts_dir", cfg.ArtifactsDir,
		"storage", cfg.Storage,
	)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	bundle, err := artifacts.Load(cfg.ArtifactsDir)
	if err != nil {
		log.Error("failed to load artifact bundle", "error", err)
		os.Exit(1)
	}

	epoch, err := timeindex.New(cfg.EpochYear, cfg.EpochQuarter)
	if err != nil {
		log.Error("invalid epoch", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	var model meander.Model
	if cfg.ModelURL != "" {
		model = meander.NewRemoteModel(cfg.ModelURL)
		log.Info("using remote model service", "url", cfg.ModelURL)
	} else {
		model, err = meander.NewNetworkModel(bundle.MeanderNetwork)
		if err != nil {
			log.Error("failed to build migration model", "error", err)
			os.Exit(1)
		}
	}

	driver, err := meander.NewDriver(model, bundle.Projection, bundle.Seed, bundle.YearScaler, m)
	if err != nil {
		log.Error("failed to build forecast driver", "error", err)
		os.Exit(1)
	}

	conv, err := meander.NewConverter(bundle.TargetScaler, cfg.PixelsPerUnit, cfg.GroundSampleDistance)
	if err != nil {
		log.Error("failed to build unit converter", "error", err)
		os.Exit(1)
	}

	store := newRunStore(cfg, log)
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error("failed to close run store", "error", err)
			}
		}()
	}

	deltaMode, err := meander.ParseDeltaMode(cfg.DeltaMode)
	if err != nil {
		log.Error("invalid delta mode", "error", err)
		os.Exit(1)
	}

	svc, err := meander.NewService(meander.ServiceConfig{
		Driver:     driver,
		Store:      store,
		Converter:  conv,
		Epoch:      epoch,
		Historical: bundle.Historical,
		Baseline:   bundle.Baseline,
		Observer:   m,
		Logger:     log,
	})
	if err != nil {
		log.Error("failed to build meander service", "error", err)
		os.Exit(1)
	}

	erosionPredictor, err := erosion.NewPredictor(bundle.ErosionNetwork, bundle.ErosionScalers, bundle.ErosionTargetScaler)
	if err != nil {
		log.Error("failed to build erosion predictor", "error", err)
		os.Exit(1)
	}

	floodForecaster := trainFloodModel(cfg, log)

	mux := router.SetupRoutes(router.Options{
		Meander:   svc,
		Flood:     floodForecaster,
		Erosion:   erosionPredictor,
		DeltaMode: deltaMode,
		Origins:   cfg.CORSOrigins,
		Logger:    log,
	})
	httpServer := httpx.NewServer(cfg.Listen, mux, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
	}

	clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Clear(clearCtx); err != nil {
		log.Error("failed to clear run cache", "error", err)
	}

	log.Info("shutdown complete")
}

// newRunStore builds the configured run cache backend. A redis failure at
// startup is fatal rather than silently degraded.
func newRunStore(cfg *config.Config, log *slog.Logger) meander.RunStore {
	if cfg.Storage != "redis" {
		return storage.NewMemoryRunStore()
	}

	store, err := storage.NewRedisRunStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
	if err != nil {
		log.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	log.Info("using redis run store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return store
}

// trainFloodModel reads the historical hydrological series through the
// configured adapter and trains the flood forecaster. With no history
// source configured the flood endpoint answers 503.
func trainFloodModel(cfg *config.Config, log *slog.Logger) *flood.Forecaster {
	if cfg.HistorySource == "" {
		log.Warn("no history source configured, flood forecasting disabled")
		return nil
	}

	source, err := adapters.New(cfg.HistorySource, cfg.HistoryConfig)
	if err != nil {
		log.Error("failed to build history source", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	history, err := source.Collect(ctx)
	if err != nil {
		log.Error("failed to collect flood history", "source", source.Name(), "error", err)
		os.Exit(1)
	}

	f := flood.New(cfg.FloodThreshold)
	if err := f.Train(history); err != nil {
		log.Error("failed to train flood model", "observations", len(history), "error", err)
		os.Exit(1)
	}

	log.Info("flood model trained",
		"source", source.Name(),
		"observations", len(history),
		"threshold_km2", f.Threshold(),
	)
	return f
}
