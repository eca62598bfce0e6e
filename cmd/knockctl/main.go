package main

import (
	"context"
	"database/sql"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/open-builders/knock-backend/internal/common/logger"
	"github.com/open-builders/knock-backend/internal/config"
	"github.com/open-builders/knock-backend/internal/platform/db"
	redisplatform "github.com/open-builders/knock-backend/internal/platform/redis"
)

const programName = "knockctl"

var globalFlags = struct {
	debug bool
}{}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load")
	}
	if globalFlags.debug {
		cfg.Debug = true
	}
	logger.Init(programName, cfg.Debug)
	return cfg
}

func openPostgres(ctx context.Context, cfg *config.Config) *sql.DB {
	pg, err := db.Open(ctx, cfg.Postgres.DSN, db.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	return pg
}

func openRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	rdb, err := redisplatform.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis open")
	}
	return rdb
}

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Operator tooling for the knock contest backend",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(
		migrateCommand(),
		commandsCommand(),
		prizeCommand(),
		dlqCommand(),
		winnersCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
