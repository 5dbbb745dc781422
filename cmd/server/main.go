package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/lmittmann/tint"

	"github.com/skillhub/registry/pkg/registry"
	"github.com/skillhub/registry/pkg/registry/api"
	"github.com/skillhub/registry/pkg/registry/config"
	s3storage "github.com/skillhub/registry/pkg/registry/storage/s3"
)

// Config is the environment configuration of the registry server
type Config struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`

	DatabaseURL  string `env:"DATABASE_URL" env-default:""`
	DatabaseType string `env:"DATABASE_TYPE" env-default:"memory"`

	StorageType string `env:"STORAGE_TYPE" env-default:"memory"`
	S3Region    string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	S3Bucket    string `env:"AWS_S3_BUCKET" env-default:""`
	S3AccessKey string `env:"AWS_ACCESS_KEY_ID" env-default:""`
	S3SecretKey string `env:"AWS_SECRET_ACCESS_KEY" env-default:""`
	S3Endpoint  string `env:"AWS_S3_ENDPOINT" env-default:""`
	S3PathStyle bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	S3Presign   int    `env:"AWS_S3_PRESIGN_DURATION" env-default:"3600"`
	S3CreateBkt bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`

	EmbedAPIKey     string `env:"EMBED_API_KEY" env-default:""`
	EmbedBaseURL    string `env:"EMBED_BASE_URL" env-default:""`
	EmbedModel      string `env:"EMBED_MODEL" env-default:"text-embedding-3-small"`
	EmbedDimensions int    `env:"EMBED_DIMENSIONS" env-default:"1536"`

	JWTSecret       string `env:"JWT_SECRET" env-default:"dev-secret"`
	ReportThreshold int64  `env:"REPORT_THRESHOLD" env-default:"4"`

	// Run the stats aggregator and embed worker inside the server
	// process; disable when running cmd/aggregator separately
	RunWorkers bool `env:"RUN_WORKERS" env-default:"true"`
}

func main() {
	var envCfg Config
	if err := cleanenv.ReadEnv(&envCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(envCfg.Environment)
	slog.SetDefault(logger)

	cfg, err := config.Load(func(c *config.ServerConfig) error {
		c.Port = envCfg.Port
		c.Environment = envCfg.Environment
		c.DatabaseURL = envCfg.DatabaseURL
		c.DatabaseType = envCfg.DatabaseType
		c.StorageType = envCfg.StorageType
		c.S3 = s3storage.Config{
			Region:                 envCfg.S3Region,
			Bucket:                 envCfg.S3Bucket,
			AccessKeyID:            envCfg.S3AccessKey,
			SecretAccessKey:        envCfg.S3SecretKey,
			Endpoint:               envCfg.S3Endpoint,
			UsePathStyle:           envCfg.S3PathStyle,
			PresignDuration:        envCfg.S3Presign,
			CreateBucketIfNotExist: envCfg.S3CreateBkt,
		}
		c.EmbedAPIKey = envCfg.EmbedAPIKey
		c.EmbedBaseURL = envCfg.EmbedBaseURL
		c.EmbedModel = envCfg.EmbedModel
		c.EmbedDimensions = envCfg.EmbedDimensions
		c.ReportThreshold = envCfg.ReportThreshold
		c.Logger = logger
		return nil
	})
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := cfg.MigrateDatabase(); err != nil {
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	}

	store, err := cfg.BuildStore()
	if err != nil {
		logger.Error("failed to build store", "err", err)
		os.Exit(1)
	}
	blobStore, err := cfg.BuildBlobStore()
	if err != nil {
		logger.Error("failed to build blob store", "err", err)
		os.Exit(1)
	}
	embedder, err := cfg.BuildEmbedder()
	if err != nil {
		logger.Error("failed to build embedder", "err", err)
		os.Exit(1)
	}

	options := []registry.Option{
		registry.WithStore(store),
		registry.WithBlobStore(blobStore),
		registry.WithLogger(logger),
		registry.WithReportThreshold(cfg.ReportThreshold),
	}
	if embedder != nil {
		options = append(options, registry.WithEmbedder(embedder))
	}
	svc, err := registry.New(options...)
	if err != nil {
		logger.Error("failed to build service", "err", err)
		os.Exit(1)
	}

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if envCfg.RunWorkers {
		agg := registry.NewAggregator(store, logger, registry.AggregatorOptions{})
		go func() { _ = agg.Run(workersCtx) }()
		if embedder != nil {
			worker := registry.NewEmbedWorker(store, embedder, logger, registry.EmbedWorkerOptions{})
			go func() { _ = worker.Run(workersCtx) }()
		}
	}

	auth := api.NewAuth(envCfg.JWTSecret)
	server := api.NewServer(svc, auth, cfg.Environment)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: server.Routes(),
	}

	go func() {
		logger.Info("registry server starting",
			"port", cfg.Port, "env", cfg.Environment,
			"database", cfg.DatabaseType, "storage", cfg.StorageType,
			"semantic_search", embedder != nil)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	stopWorkers()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "err", err)
	}
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug}))
}
