package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sentivec/embedd/internal/admin"
	"github.com/sentivec/embedd/internal/config"
	"github.com/sentivec/embedd/internal/engine"
	"github.com/sentivec/embedd/internal/modelcache"
	"github.com/sentivec/embedd/internal/server"
)

// Models may need a first-time download; keep the startup budget generous
// but bounded.
const loadTimeout = 15 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the models and serve the embedding RPCs",
	Long: `Load the configured embedding (and optional reranking) model, then
serve GenerateEmbeddings, RerankPassages and HealthCheck until a termination
signal drains the server.

Configuration comes from the environment (a .env file is honored). A model
load failure aborts startup with a non-zero exit; a signal-driven shutdown
exits 0 whether or not the grace deadline was reached.`,
	RunE:         runServe,
	SilenceUsage: true,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	loadCtx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	// Pre-download phase: optional S3 artifacts first, then the engine's own
	// model pull. Both are fatal on failure - the server must never accept
	// connections with a partially loaded model.
	cache, err := modelcache.New(cfg.CacheDir, logger)
	if err != nil {
		return err
	}
	logger.Info("model cache ready", zap.String("dir", cache.Dir()))

	if cfg.ModelBucket != "" {
		src := modelcache.S3Source{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Bucket:    cfg.ModelBucket,
		}
		if err := cache.Ensure(loadCtx, src, cfg.Model); err != nil {
			return fmt.Errorf("failed to fetch model artifact: %w", err)
		}
		if cfg.RerankerModel != "" {
			if err := cache.Ensure(loadCtx, src, cfg.RerankerModel); err != nil {
				return fmt.Errorf("failed to fetch reranker artifact: %w", err)
			}
		}
	}

	eng, err := engine.NewOllama(cfg.Model, engine.OllamaOptions{
		Host:          cfg.OllamaHost,
		RerankerModel: cfg.RerankerModel,
		RateLimit:     cfg.RateLimit,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := eng.Load(loadCtx); err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer func() { _ = eng.Close() }()

	srv, err := server.New(cfg, eng, logger)
	if err != nil {
		return err
	}

	lis, err := srv.Listen()
	if err != nil {
		return err
	}

	if cfg.AdminPort > 0 {
		app := admin.New(srv.State, admin.Info{
			Model:    cfg.Model,
			Reranker: cfg.RerankerModel,
			Version:  version,
			TLS:      cfg.TLSEnabled(),
		})
		admin.Start(app, cfg.AdminPort, logger)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	return srv.Run(lis, signals)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build(zap.AddStacktrace(zap.ErrorLevel))
}
