package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/lmittmann/tint"

	"github.com/skillhub/registry/pkg/registry"
	"github.com/skillhub/registry/pkg/registry/config"
)

// Config is the environment configuration of the aggregator process
type Config struct {
	Environment  string `env:"ENVIRONMENT" env-default:"development"`
	DatabaseURL  string `env:"DATABASE_URL" env-default:""`
	DatabaseType string `env:"DATABASE_TYPE" env-default:"postgres"`

	CursorKey     string `env:"AGG_CURSOR_KEY" env-default:"live"`
	BatchSize     int    `env:"AGG_BATCH_SIZE" env-default:"100"`
	PollSeconds   int    `env:"AGG_POLL_SECONDS" env-default:"5"`
	PoisonRetries int    `env:"AGG_POISON_RETRIES" env-default:"3"`

	// Mode selects the work: "run" (drain loop with rollups),
	// "rollup" (one day, then exit), "backfill" (recompute counters,
	// then exit), or "check" (verify one item's counters)
	Mode        string `env:"AGG_MODE" env-default:"run"`
	RollupDay   int    `env:"AGG_ROLLUP_DAY" env-default:"0"`
	BackfillKey string `env:"AGG_BACKFILL_KEY" env-default:"backfill"`
	CheckItemID string `env:"AGG_CHECK_ITEM_ID" env-default:""`
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
		c.DatabaseURL = envCfg.DatabaseURL
		c.DatabaseType = envCfg.DatabaseType
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

	agg := registry.NewAggregator(store, logger, registry.AggregatorOptions{
		CursorKey:     envCfg.CursorKey,
		BatchSize:     envCfg.BatchSize,
		PollInterval:  time.Duration(envCfg.PollSeconds) * time.Second,
		PoisonRetries: envCfg.PoisonRetries,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch envCfg.Mode {
	case "run":
		logger.Info("aggregator starting", "cursor", envCfg.CursorKey, "batch", envCfg.BatchSize)
		if err := agg.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("aggregator stopped", "err", err)
			os.Exit(1)
		}
	case "rollup":
		day := envCfg.RollupDay
		if day == 0 {
			day = registry.DayOf(time.Now().UTC().AddDate(0, 0, -1))
		}
		if err := agg.RollupDay(ctx, day); err != nil {
			logger.Error("rollup failed", "day", day, "err", err)
			os.Exit(1)
		}
		logger.Info("rollup done", "day", day)
	case "backfill":
		if err := agg.Backfill(ctx, envCfg.BackfillKey); err != nil {
			logger.Error("backfill failed", "key", envCfg.BackfillKey, "err", err)
			os.Exit(1)
		}
		logger.Info("backfill done", "key", envCfg.BackfillKey)
	case "check":
		itemID, err := uuid.Parse(envCfg.CheckItemID)
		if err != nil {
			logger.Error("AGG_CHECK_ITEM_ID must be a uuid", "err", err)
			os.Exit(1)
		}
		if err := agg.CheckConsistency(ctx, itemID); err != nil {
			logger.Error("consistency check failed", "item", itemID, "err", err)
			os.Exit(1)
		}
		logger.Info("counters consistent", "item", itemID)
	default:
		logger.Error("unknown mode", "mode", envCfg.Mode)
		os.Exit(1)
	}
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug}))
}
