package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	rcache "github.com/open-builders/knock-backend/internal/cache/redis"
	"github.com/open-builders/knock-backend/internal/common/logger"
	"github.com/open-builders/knock-backend/internal/config"
	apphttp "github.com/open-builders/knock-backend/internal/http"
	"github.com/open-builders/knock-backend/internal/metrics"
	"github.com/open-builders/knock-backend/internal/platform/db"
	redisplatform "github.com/open-builders/knock-backend/internal/platform/redis"
	"github.com/open-builders/knock-backend/internal/queue"
	pgrepo "github.com/open-builders/knock-backend/internal/repository/postgres"
	"github.com/open-builders/knock-backend/internal/service/admin"
	"github.com/open-builders/knock-backend/internal/service/command"
	"github.com/open-builders/knock-backend/internal/service/discord"
	"github.com/open-builders/knock-backend/internal/service/fulfillment"
	"github.com/open-builders/knock-backend/internal/service/knock"
	"github.com/open-builders/knock-backend/internal/service/notifications"
	"github.com/open-builders/knock-backend/internal/service/quota"
	"github.com/open-builders/knock-backend/internal/utils/random"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.Init("knock-worker", cfg.Debug)

	pg, err := db.Open(ctx, cfg.Postgres.DSN, db.PoolOptions{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer pg.Close()

	rdb, err := redisplatform.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis open")
	}
	defer rdb.Close()

	client, err := discord.NewClient(cfg.Discord.BotToken, cfg.Discord.ApplicationID)
	if err != nil {
		logger.Fatal().Err(err).Msg("discord client")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	loc := cfg.Location()
	store := pgrepo.NewStore(pg, logger.For("store"))
	ledger := quota.NewLedger(loc)
	rng := random.Crypto{}
	notifier := notifications.NewNotifier(client, logger.For("notifications"))

	fulfillments := queue.NewProducer(rdb, cfg.Queue.FulfillmentPrefix, cfg.Queue.DedupWindow, m)
	knocks := knock.NewService(store, ledger, rng, fulfillment.NewDispatcher(fulfillments, logger.For("dispatcher")), logger.For("knock"), m)
	admins := admin.NewService(store, loc, logger.For("admin"))
	marker := rcache.NewInteractionCache(rdb, cfg.Queue.MarkerTTL)
	router := command.NewRouter(knocks, admins, notifier, marker, cfg.Discord.ErrorChannelID, logger.For("router"), m)
	fulfiller := fulfillment.NewHandler(
		fulfillment.NewAllocator(store, ledger, rng, logger.For("allocator")),
		notifier, loc, logger.For("fulfillment"), m,
	)

	options := func(prefix string) queue.Options {
		return queue.Options{
			Prefix:        prefix,
			Group:         cfg.Queue.Group,
			Consumer:      cfg.Queue.Consumer,
			Visibility:    cfg.Queue.Visibility,
			MaxDeliveries: cfg.Queue.MaxDeliveries,
			PollInterval:  cfg.Queue.PollInterval,
			MaxConcurrent: cfg.Queue.MaxConcurrent,
		}
	}
	commandConsumer := queue.NewConsumer(rdb, options(cfg.Queue.CommandPrefix), router.Handle, logger.For("commands"), m)
	fulfillmentConsumer := queue.NewConsumer(rdb, options(cfg.Queue.FulfillmentPrefix), fulfiller.Handle, logger.For("fulfillment"), m)

	ops := apphttp.NewFiberApp(apphttp.Deps{
		Checks: []apphttp.ReadinessCheck{
			{Name: "postgres", Check: pg.PingContext},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		Gatherer: reg,
		Log:      logger.For("ops"),
		Metrics:  m,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return commandConsumer.Run(gctx) })
	g.Go(func() error { return fulfillmentConsumer.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Worker.OpsAddr).Msg("ops server listening")
		return ops.Listen(cfg.Worker.OpsAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return ops.ShutdownWithTimeout(5 * time.Second)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker stopped")
}
