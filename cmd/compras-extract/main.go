// Command compras-extract runs one extraction of the procurement open-data
// API: a quarter-stratified contract sample for the configured year, its
// cleaned copy and the units, bodies and suppliers it references.
//
// All settings come from the environment (see internal/config).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/compras-etl/internal/config"
	"github.com/Sternrassler/compras-etl/internal/pipeline"
	"github.com/Sternrassler/compras-etl/pkg/logging"
	"github.com/Sternrassler/compras-etl/pkg/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		return fmt.Errorf("load config: %w", err)
	}

	runID := uuid.NewString()
	logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
		RunID:  runID,
	})
	logger := logging.NewLogger("main")

	var rdb *redis.Client
	if cfg.Cache.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Page cache enabled")
	}

	p, err := pipeline.Wire(cfg, rdb)
	if err != nil {
		return err
	}

	sum, runErr := p.Run(ctx)
	sum.Log(logger)

	if cfg.Output.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			logger.Error().Err(err).Msg("Failed to write metrics")
		}
	}

	return runErr
}
