// Command ancestorii runs the billing and entitlement service: hosted
// checkout session creation, the Stripe webhook reconciler, and the
// entitlement gate backing the product API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ancestorii/ancestorii/internal/auth"
	"github.com/ancestorii/ancestorii/internal/billing"
	"github.com/ancestorii/ancestorii/internal/httpapi"
	"github.com/ancestorii/ancestorii/internal/storage/postgres"
	"github.com/ancestorii/ancestorii/internal/storage/rediscache"
	"github.com/ancestorii/ancestorii/pkg/config"
	"github.com/ancestorii/ancestorii/pkg/httpserver"
	"github.com/ancestorii/ancestorii/pkg/logger"
	"github.com/ancestorii/ancestorii/pkg/pg"
	"github.com/ancestorii/ancestorii/pkg/redis"
	"github.com/ancestorii/ancestorii/pkg/requestid"
)

type appConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

func main() {
	var (
		appCfg    appConfig
		pgCfg     pg.Config
		redisCfg  redis.Config
		serverCfg httpserver.Config
		priceCfg  billing.PriceConfig
		stripeCfg billing.StripeConfig
		authCfg   auth.Config
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&redisCfg)
	config.MustLoad(&serverCfg)
	config.MustLoad(&priceCfg)
	config.MustLoad(&stripeCfg)
	config.MustLoad(&authCfg)

	log := logger.New(
		logger.WithEnvironment(appCfg.Environment, "ancestorii"),
		logger.WithContextExtractors(requestid.LogExtractor()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, pgCfg, redisCfg, serverCfg, priceCfg, stripeCfg, authCfg); err != nil {
		log.ErrorContext(ctx, "service exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	log *slog.Logger,
	pgCfg pg.Config,
	redisCfg redis.Config,
	serverCfg httpserver.Config,
	priceCfg billing.PriceConfig,
	stripeCfg billing.StripeConfig,
	authCfg auth.Config,
) error {
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, postgres.Migrations(), pgCfg.MigrationsTable, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	catalog, err := billing.NewCatalog(priceCfg)
	if err != nil {
		return err
	}

	gateway, err := billing.NewStripeGateway(stripeCfg)
	if err != nil {
		return err
	}

	store := rediscache.New(
		postgres.NewSubscriptionStore(pool),
		rdb,
		rediscache.WithLogger(log.With(logger.Component("rediscache"))),
	)

	svc := billing.NewService(catalog, gateway, store,
		billing.WithLogger(log.With(logger.Component("billing"))),
	)

	verifier, err := auth.NewVerifier(authCfg)
	if err != nil {
		return err
	}

	handler := httpapi.NewRouter(svc, auth.Middleware(verifier), map[string]func(context.Context) error{
		"postgres": pg.Healthcheck(pool),
		"redis":    redis.Healthcheck(rdb),
	}, log.With(logger.Component("httpapi")))

	log.InfoContext(ctx, "starting server", "addr", serverCfg.Addr)

	return httpserver.NewFromConfig(serverCfg, httpserver.WithLogger(log)).Run(ctx, handler)
}
