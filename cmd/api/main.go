package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"

	"github.com/open-builders/knock-backend/internal/common/logger"
	"github.com/open-builders/knock-backend/internal/config"
	apphttp "github.com/open-builders/knock-backend/internal/http"
	"github.com/open-builders/knock-backend/internal/metrics"
	"github.com/open-builders/knock-backend/internal/platform/db"
	redisplatform "github.com/open-builders/knock-backend/internal/platform/redis"
	"github.com/open-builders/knock-backend/internal/queue"
	"github.com/open-builders/knock-backend/internal/service/discord"
	"github.com/open-builders/knock-backend/internal/workers"
)

func main() {
	// Create cancellable root context for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.Init("knock-api", cfg.Debug)

	publicKey, err := discord.ParsePublicKey(cfg.Discord.PublicKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid DISCORD_PUBLIC_KEY")
	}

	pg, err := db.Open(ctx, cfg.Postgres.DSN, db.PoolOptions{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer pg.Close()

	if cfg.Postgres.AutoMigrate {
		n, err := db.Migrate(ctx, pg, logger.For("migrate"))
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")
	}

	rdb, err := redisplatform.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis open")
	}
	defer rdb.Close()

	reg := newRegistry()
	m := metrics.New(reg)

	producer := queue.NewProducer(rdb, cfg.Queue.CommandPrefix, cfg.Queue.DedupWindow, m)
	relay := workers.NewCommandRelay(producer, cfg.Server.RelayCapacity, cfg.Server.SettleDelay, logger.For("relay"), m)
	relayCtx, stopRelay := context.WithCancel(context.Background())
	go relay.Run(relayCtx)

	app := apphttp.NewFiberApp(apphttp.Deps{
		PublicKey: publicKey,
		Relay:     relay,
		Checks:    readiness(pg, rdb),
		Gatherer:  reg,
		Log:       logger.For("http"),
		Metrics:   m,
	})
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server (Fiber) listening")
		if err := app.Listen(cfg.Server.Addr); err != nil {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	stop()

	// Stop accepting interactions before flushing what the relay still holds.
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	stopRelay()
	<-relay.Done()
	logger.Info().Msg("server stopped")
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func readiness(pg *sql.DB, rdb *goredis.Client) []apphttp.ReadinessCheck {
	return []apphttp.ReadinessCheck{
		{Name: "postgres", Check: pg.PingContext},
		{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
}
