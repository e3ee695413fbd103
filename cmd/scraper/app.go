package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/adapter/artifact"
	"github.com/ecscrape/scraper-service/internal/adapter/fetcher"
	"github.com/ecscrape/scraper-service/internal/adapter/postgres"
	redisadapter "github.com/ecscrape/scraper-service/internal/adapter/redis"
	"github.com/ecscrape/scraper-service/internal/auth"
	"github.com/ecscrape/scraper-service/internal/changedetect"
	"github.com/ecscrape/scraper-service/internal/crawler"
	"github.com/ecscrape/scraper-service/internal/delivery/http/handler"
	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/keylock"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
	"github.com/ecscrape/scraper-service/internal/usecase"
	"github.com/ecscrape/scraper-service/pkg/config"
	"github.com/ecscrape/scraper-service/pkg/metrics"
	"github.com/ecscrape/scraper-service/pkg/proxy"
)

// core is what every command needs: outbound sessions and raw page storage.
type core struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	artifacts *artifact.FSStore
	sessions  *traffic.Manager
	browser   *fetcher.BrowserFetcher
}

func newCore(cfg *config.Config, logger *zap.Logger) (*core, error) {
	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Artifacts ---
	artifacts, err := artifact.NewFSStore(cfg.ArtifactDir, logger)
	if err != nil {
		return nil, err
	}

	// --- Traffic ---
	httpFetcher := fetcher.NewHTTPFetcher(cfg.FetchTimeout, logger)
	sessions := traffic.NewManager(httpFetcher, proxy.NewManager(cfg.Proxies, cfg.UserAgents), traffic.Options{
		MinInterval: cfg.MinInterval,
		Jitter:      cfg.Jitter,
	}, m, logger)

	c := &core{cfg: cfg, logger: logger, registry: reg, metrics: m, artifacts: artifacts, sessions: sessions}
	if len(cfg.BrowserSites) > 0 {
		c.browser = fetcher.NewBrowserFetcher(httpFetcher, cfg.Workers, cfg.FetchTimeout, logger)
		for _, site := range cfg.BrowserSites {
			sessions.UseFetcher(site, c.browser)
		}
		logger.Info("headless browser enabled", zap.Strings("sites", cfg.BrowserSites))
	}
	return c, nil
}

func (c *core) crawlerOptions() crawler.Options {
	return crawler.Options{MaxPages: c.cfg.MaxPages, DryRunPages: c.cfg.DryRunPages}
}

func (c *core) crawlers(configs repository.ConfigRepository) *crawler.Registry {
	return crawler.NewRegistry(configs, c.artifacts, c.crawlerOptions(), c.logger,
		crawler.NewAmazon(c.cfg.AmazonURL, c.artifacts, c.crawlerOptions(), c.logger),
		crawler.NewYahoo(c.cfg.YahooURL, c.artifacts, c.crawlerOptions(), c.logger),
	)
}

func (c *core) Close() {
	if c.browser != nil {
		c.browser.Close()
	}
	_ = c.logger.Sync()
}

// app is the fully wired service backed by PostgreSQL and, optionally, Redis.
type app struct {
	*core
	pool  *pgxpool.Pool
	redis *redis.Client

	orchestrator usecase.Orchestrator
	configs      usecase.ConfigService
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	c, err := newCore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{core: c}

	// --- Database Connections ---
	a.pool, err = postgres.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := postgres.Migrate(ctx, a.pool); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("PostgreSQL connection pool established")

	var locker repository.Locker
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("unable to connect to redis: %w", err)
		}
		locker = redisadapter.NewLockRepo(a.redis, logger)
		logger.Info("Redis connection established, locks are shared across processes")
	}

	// --- Repositories ---
	configRepo := postgres.NewConfigRepo(a.pool)

	// --- Use Cases ---
	crawlers := c.crawlers(configRepo)
	a.orchestrator = usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Accounts: postgres.NewAccountRepo(a.pool),
		Records:  postgres.NewRecordRepo(a.pool),
		Traffic:  postgres.NewTrafficRepo(a.pool),
		Targets:  configTargets{cfg},
		Sessions: c.sessions,
		Auth: auth.NewRegistry(configRepo, logger,
			auth.NewFormProvider(auth.Amazon(cfg.AmazonURL), logger),
			auth.NewFormProvider(auth.Yahoo(cfg.YahooLoginURL, cfg.YahooURL), logger),
		),
		Crawlers: crawlers,
		Changes:  changedetect.NewStore(postgres.NewSnapshotRepo(a.pool), locker, cfg.LockTTL, logger),
		Locks:    keylock.New(locker, cfg.LockTTL),
	}, usecase.OrchestratorOptions{
		Workers:      cfg.Workers,
		BatchTimeout: cfg.BatchTimeout,
	}, c.metrics, logger)

	previewer := usecase.NewPreviewer(c.sessions, crawlers, logger)
	a.configs = usecase.NewConfigService(configRepo, c.artifacts, previewer, logger)
	return a, nil
}

func (a *app) healthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{"postgres": a.pool.Ping}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	a.core.Close()
}

// configTargets serves the monitored sites and keys from the configuration
// file.
type configTargets struct {
	cfg *config.Config
}

func (t configTargets) Sites(kind entity.ResourceKind) []string {
	return t.cfg.TargetSites(kind.String())
}

func (t configTargets) Targets(site string, kind entity.ResourceKind) []string {
	return t.cfg.TargetsFor(site, kind.String())
}
