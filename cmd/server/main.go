package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/febrile-severity-server/internal/api"
	"github.com/febrile-severity-server/internal/audit"
	"github.com/febrile-severity-server/internal/auth"
	"github.com/febrile-severity-server/internal/config"
	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/logging"
	"github.com/febrile-severity-server/internal/metrics"
	"github.com/febrile-severity-server/internal/pipeline"
	"github.com/febrile-severity-server/internal/service"
	"github.com/febrile-severity-server/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration
	var opts []config.Option
	if path := os.Getenv("FEBRILE_CONFIG_FILE"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	configManager, err := config.NewManager(opts...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"version":     version,
		"environment": cfg.Environment,
		"addr":        cfg.Server.Host,
		"port":        cfg.Server.Port,
	}).Info("Starting febrile severity server")

	tp, err := telemetry.Init(ctx, cfg.Tracing, version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Tracer shutdown failed")
		}
	}()

	var m *metrics.Collector
	if cfg.Metrics.Enabled {
		m = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	artifacts, err := loadArtifacts(ctx, cfg.Artifacts, logger)
	if err != nil {
		return err
	}

	verifier, closeKeys, err := buildVerifier(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer closeKeys()

	deps := api.Dependencies{
		Verifier:  verifier,
		Predictor: service.NewInferenceService(artifacts, logger, m),
		Logger:    logger,
		Metrics:   m,
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(ctx, cfg.Audit, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		recorder := audit.NewRecorder(store, cfg.Audit.BufferSize, logger, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := recorder.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Audit trail did not drain")
			}
		}()
		deps.Recorder = recorder
	} else {
		deps.AccessLog = logger.Out
	}

	server, err := api.NewServer(cfg, deps)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

// loadArtifacts loads the fitted pipeline. When artifacts are not required
// the server starts without a model and answers 503 on prediction.
func loadArtifacts(ctx context.Context, cfg domain.ArtifactsConfig, logger *logrus.Logger) (*pipeline.Artifacts, error) {
	start := time.Now()
	artifacts, err := pipeline.LoadFromConfig(ctx, cfg)
	if err != nil {
		if cfg.Required {
			return nil, err
		}
		logger.WithError(err).Error("Model artifacts not loaded; predictions are unavailable")
		return nil, nil
	}

	meta := artifacts.Metadata()
	logger.WithFields(logrus.Fields{
		"source":   cfg.Source,
		"version":  meta.Version,
		"model":    meta.ModelName,
		"features": len(artifacts.FeatureNames()),
		"elapsed":  time.Since(start).Round(time.Millisecond).String(),
	}).Info("Model artifacts loaded")
	return artifacts, nil
}

// buildVerifier wires the key cache, with its optional shared Redis tier, into
// the token verifier. The returned func releases the Redis client.
func buildVerifier(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, m *metrics.Collector) (*auth.Verifier, func(), error) {
	closer := func() {}
	if auth.JWKSURL(cfg.Auth) == "" {
		return auth.NewVerifier(cfg.Auth, nil, logger, m), closer, nil
	}

	var opts []auth.KeyCacheOption
	if cfg.Cache.RedisURL != "" {
		store, err := auth.NewRedisStore(ctx, cfg.Cache)
		if err != nil {
			// the in-process tier still works without redis
			logger.WithError(err).Warn("Shared key set cache unavailable")
		} else {
			opts = append(opts, auth.WithStore(store))
			closer = func() { closeQuietly(store, logger) }
		}
	}

	keys, err := auth.NewKeyCache(auth.KeyCacheConfig{
		Size:            cfg.Cache.KeySetSize,
		Timeout:         cfg.Auth.JWKSTimeout,
		RefreshInterval: cfg.Auth.RefreshInterval,
		APIKey:          cfg.Auth.APIKey,
	}, logger, m, opts...)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return auth.NewVerifier(cfg.Auth, keys, logger, m), closer, nil
}

func closeQuietly(c io.Closer, logger *logrus.Logger) {
	if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("Close failed")
	}
}
