// Command billingd runs the subscription lifecycle engine: the
// webhook ingress gateway plus the periodic reconciliation sweeper.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/priceradar/billingkit/pkg/billing"
	"github.com/priceradar/billingkit/pkg/config"
	"github.com/priceradar/billingkit/pkg/httpserver"
	"github.com/priceradar/billingkit/pkg/idempotency"
	"github.com/priceradar/billingkit/pkg/logger"
	"github.com/priceradar/billingkit/pkg/pg"
	"github.com/priceradar/billingkit/pkg/plans"
	"github.com/priceradar/billingkit/pkg/ratelimit"
	redisconn "github.com/priceradar/billingkit/pkg/redis"
	"github.com/priceradar/billingkit/svc/webhook"
)

type appConfig struct {
	Logger    logger.Config
	HTTP      httpserver.Config
	PG        pg.Config
	Redis     redisconn.Config
	Webhook   webhook.Config
	RateLimit ratelimit.Config

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	StarterProductID  string `env:"PLAN_STARTER_PRODUCT_ID" envDefault:"PID_STARTER"`
	ProProductID      string `env:"PLAN_PRO_PRODUCT_ID" envDefault:"PID_PRO"`
	BusinessProductID string `env:"PLAN_BUSINESS_PRODUCT_ID" envDefault:"PID_BUSINESS"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.NewFromConfig(cfg.Logger)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "service exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	redisClient, err := redisconn.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	catalog, err := plans.NewCatalog(ctx, plans.NewStaticSource(
		plans.Plan{ProductID: cfg.StarterProductID, Tier: plans.TierStarter, Name: "Starter", DurationMonths: 1},
		plans.Plan{ProductID: cfg.ProProductID, Tier: plans.TierPro, Name: "Pro", DurationMonths: 1},
		plans.Plan{ProductID: cfg.BusinessProductID, Tier: plans.TierBusiness, Name: "Business", DurationMonths: 1},
	))
	if err != nil {
		return err
	}

	store := billing.NewPGStore(pool)
	deadLetters := billing.NewMemoryDeadLetterStore()

	svc := billing.NewService(store, catalog, billing.WithLogger(log))

	// Shared Redis stores keep dedup and rate limiting correct when
	// the ingress runs on more than one node.
	guard := idempotency.NewGuard(
		idempotency.NewRedisStore(redisClient, "billing:idem:"),
		cfg.Webhook.IdempotencyWindow,
	)
	limiter, err := ratelimit.New(
		ratelimit.NewRedisStore(redisClient, "billing:ratelimit:"),
		cfg.RateLimit,
	)
	if err != nil {
		return err
	}

	gateway := webhook.NewGateway(cfg.Webhook, svc, guard,
		webhook.WithLogger(log),
		webhook.WithDeadLetterStore(deadLetters),
	)

	sweeper := billing.NewSweeper(store, cfg.SweepInterval, billing.WithSweeperLogger(log))
	go sweeper.Run(ctx)

	r := chi.NewRouter()
	r.Mount("/", gateway.Router(limiter))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthHandler(
		pg.Healthcheck(pool),
		redisconn.Healthcheck(redisClient),
	))

	return httpserver.New(cfg.HTTP, log).Run(ctx, r)
}

func healthHandler(probes ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, probe := range probes {
			if err := probe(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
