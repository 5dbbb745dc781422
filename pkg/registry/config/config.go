package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/skillhub/registry/pkg/registry"
	"github.com/skillhub/registry/pkg/registry/embed"
	"github.com/skillhub/registry/pkg/registry/repo/memory"
	repopg "github.com/skillhub/registry/pkg/registry/repo/postgres"
	"github.com/skillhub/registry/pkg/registry/repo/postgres/migrations"
	memorystorage "github.com/skillhub/registry/pkg/registry/storage/memory"
	s3storage "github.com/skillhub/registry/pkg/registry/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:            "8080",
		Environment:     "development",
		DatabaseType:    "memory",
		StorageType:     "memory",
		ReportThreshold: 4,
	}
}

// ServerConfig represents server configuration for the registry service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Storage configuration
	StorageType string // "memory", "s3"
	S3          s3storage.Config

	// Embedding provider configuration; empty APIKey disables semantic
	// search and the registry degrades to lexical-only discovery
	EmbedAPIKey     string
	EmbedBaseURL    string
	EmbedModel      string
	EmbedDimensions int

	// Number of distinct reporters that auto-hides an item
	ReportThreshold int64

	Logger *slog.Logger
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}
	if c.StorageType != "memory" && c.StorageType != "s3" {
		return errors.New("storage_type must be 'memory' or 's3'")
	}
	if c.StorageType == "s3" && c.S3.Bucket == "" {
		return errors.New("s3 bucket is required when using s3 storage")
	}
	if c.ReportThreshold < 1 {
		return errors.New("report_threshold must be at least 1")
	}
	return nil
}

// BuildStore creates a Store instance based on the configuration
func (c *ServerConfig) BuildStore() (registry.Store, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// BuildBlobStore creates a BlobStore instance based on the configuration
func (c *ServerConfig) BuildBlobStore() (registry.BlobStore, error) {
	switch c.StorageType {
	case "memory":
		return memorystorage.New(), nil
	case "s3":
		return s3storage.New(c.S3)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.StorageType)
	}
}

// BuildEmbedder creates an Embedder, or nil when no provider is configured.
func (c *ServerConfig) BuildEmbedder() (registry.Embedder, error) {
	if c.EmbedAPIKey == "" {
		return nil, nil
	}
	return embed.New(embed.Config{
		BaseURL:    c.EmbedBaseURL,
		APIKey:     c.EmbedAPIKey,
		Model:      c.EmbedModel,
		Dimensions: c.EmbedDimensions,
	})
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService() (registry.Service, error) {
	store, err := c.BuildStore()
	if err != nil {
		return nil, fmt.Errorf("failed to build store: %w", err)
	}

	blobStore, err := c.BuildBlobStore()
	if err != nil {
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	options := []registry.Option{
		registry.WithStore(store),
		registry.WithBlobStore(blobStore),
		registry.WithReportThreshold(c.ReportThreshold),
	}

	embedder, err := c.BuildEmbedder()
	if err != nil {
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}
	if embedder != nil {
		options = append(options, registry.WithEmbedder(embedder))
	}
	if c.Logger != nil {
		options = append(options, registry.WithLogger(c.Logger))
	}

	return registry.New(options...)
}

// MigrateDatabase runs schema migrations when using postgres. It is a
// no-op for the memory store.
func (c *ServerConfig) MigrateDatabase() error {
	if c.DatabaseType != "postgres" {
		return nil
	}
	db, err := sql.Open("pgx", c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return migrations.MigrateUp(db)
}

// PingPostgres verifies connectivity to Postgres.
func PingPostgres(databaseURL string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
