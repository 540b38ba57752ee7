// Package app initializes and holds long-lived application services, acting as
// a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/api"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/config"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/dedup"
	dedupmemory "github.com/JakeFAU/realtime-jobs-crawler/internal/dedup/memory"
	dedupredis "github.com/JakeFAU/realtime-jobs-crawler/internal/dedup/redis"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/extractor"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/extractor/fiveonejob"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/fetcher/archive"
	collyfetcher "github.com/JakeFAU/realtime-jobs-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/gateway"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/identity"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/normalize"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/orchestrator"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/realtime-jobs-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/realtime-jobs-crawler/internal/publisher/pubsub"
	gcsblob "github.com/JakeFAU/realtime-jobs-crawler/internal/storage/gcs"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/storage/local"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/storage/memory"
	"github.com/JakeFAU/realtime-jobs-crawler/internal/storage/postgres"
)

// App holds the shared, long-lived services. It is built once at startup and
// closed when the command exits.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	checker      *dedup.Checker
	pool         *identity.ProxyPool
	orchestrator *orchestrator.Orchestrator
	checks       []api.HealthCheck
	closers      []func() error
}

// New builds every service named by cfg. It fails fast when a configured
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	logger.Info("initializing application services")

	dedupStore, err := a.openDedup(ctx)
	if err != nil {
		return a, err
	}
	a.checker = dedup.NewChecker(dedupStore, cfg.Dedup.TTL)

	if cfg.Identity.ProxyEnabled {
		a.pool = a.buildProxyPool()
	}
	var leaser identity.ProxyLeaser
	if a.pool != nil {
		leaser = a.pool
	}
	rotator := identity.NewRotator(identity.UserAgents(cfg.Identity.UserAgents), leaser, logger)

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.HostRPS,
		DefaultBurst: cfg.Crawler.HostBurst,
	})
	var fetcher crawler.Fetcher = collyfetcher.New(collyfetcher.Config{
		Timeout: cfg.Crawler.RequestTimeout,
		Delay:   cfg.Crawler.RequestDelay,
		Jitter:  cfg.Crawler.RequestJitter,
		Retry:   cfg.RetryPolicy(),
	}, rotator, logger, collyfetcher.WithPacer(limiter))

	blobs, err := a.openArchive(ctx)
	if err != nil {
		return a, err
	}
	if blobs != nil {
		fetcher = archive.New(fetcher, blobs, cfg.Archive.Prefix, crawler.SystemClock, logger)
	}

	saver, err := a.buildGateway(ctx)
	if err != nil {
		return a, err
	}

	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return a, err
	}

	a.orchestrator = orchestrator.New(orchestrator.Config{
		MaxConcurrent: cfg.Crawler.MaxConcurrent,
		Interval:      cfg.Crawler.Interval,
		LastRunKey:    cfg.Dedup.LastRunKey,
	}, orchestrator.Deps{
		Cleaner:   normalize.New(logger, normalize.WithLocation(cfg.Location())),
		Dedup:     a.checker,
		Saver:     saver,
		Publisher: publisher,
		Logger:    logger,
	})

	if cfg.Sources.FiveOneJob.Enabled {
		src := cfg.Sources.FiveOneJob
		ex := fiveonejob.New(fiveonejob.Config{
			ListURL:        src.ListURL,
			DetailBaseURL:  src.DetailURL,
			MaxPages:       src.MaxPages,
			DefaultKeyword: src.DefaultKeyword,
		}, extractor.NewBase(fiveonejob.Name, fetcher, a.checker, logger), crawler.SystemClock)
		if err := a.orchestrator.Register(ex); err != nil {
			return a, fmt.Errorf("register %s: %w", fiveonejob.Name, err)
		}
	}

	logger.Info("application services initialized",
		zap.Strings("extractors", a.orchestrator.Extractors()),
		zap.Bool("proxies", a.pool != nil))
	return a, nil
}

func (a *App) openDedup(ctx context.Context) (crawler.DedupStore, error) {
	switch a.cfg.Dedup.Driver {
	case "memory":
		a.logger.Info("using in-memory dedup store; keys do not survive restarts")
		store := dedupmemory.New(crawler.SystemClock)
		a.addCheck("dedup", store.Health)
		return store, nil
	case "redis", "":
		store, err := dedupredis.Open(ctx, a.cfg.Dedup.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open dedup store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.addCheck("dedup", store.Health)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown dedup driver: %s", a.cfg.Dedup.Driver)
	}
}

func (a *App) buildProxyPool() *identity.ProxyPool {
	idc := a.cfg.Identity
	sources := identity.MultiSource{identity.StaticSource(idc.Static)}
	if len(idc.Sources) > 0 {
		sources = append(sources, identity.NewHTTPSource(idc.Sources, idc.ProbeTimeout, a.logger))
	}
	return identity.NewProxyPool(identity.PoolConfig{
		MaxProxies:    idc.MaxProxies,
		CheckInterval: idc.CheckInterval,
		Workers:       idc.ProbeWorkers,
	}, sources, identity.NewHTTPProber(idc.ProbeURL, idc.ProbeTimeout), crawler.SystemClock, a.logger)
}

func (a *App) openArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewBlobStore(), nil
	case "local":
		store, err := local.New(a.cfg.Archive.Dir)
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcsblob.New(client, a.cfg.Archive.Bucket)
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver: %s", a.cfg.Archive.Driver)
	}
}

func (a *App) buildGateway(ctx context.Context) (*gateway.Gateway, error) {
	var ingest crawler.IngestClient
	if a.cfg.Ingest.URL != "" {
		client, err := gateway.NewHTTPIngestClient(a.cfg.Ingest.URL, a.cfg.Ingest.Timeout)
		if err != nil {
			return nil, err
		}
		ingest = client
	}

	var store crawler.RecordStore
	switch a.cfg.Storage.Driver {
	case "memory":
		store = memory.NewJobStore()
	case "postgres", "":
		pg, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
			DSN:      a.cfg.Storage.DSN,
			Table:    a.cfg.Storage.Table,
			MaxConns: a.cfg.Storage.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open job store: %w", err)
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		a.addCheck("storage", pg.Health)
		store = pg
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", a.cfg.Storage.Driver)
	}

	return gateway.New(ingest, store, a.checker, a.logger), nil
}

func (a *App) openPublisher(ctx context.Context) (crawler.Publisher, error) {
	ps := a.cfg.PubSub
	switch {
	case ps.ProjectID != "" && ps.TopicID != "":
		pub, err := pubsubpublisher.New(ctx, ps.ProjectID, ps.TopicID)
		if err != nil {
			return nil, fmt.Errorf("open pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	case ps.TopicID != "":
		return pubmemory.New(ps.TopicID), nil
	default:
		return nil, nil
	}
}

func (a *App) addCheck(name string, check func(context.Context) error) {
	a.checks = append(a.checks, api.HealthCheck{Name: name, Check: check})
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Orchestrator returns the crawl orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// ProxyPool returns the proxy pool, or nil when proxies are disabled.
func (a *App) ProxyPool() *identity.ProxyPool { return a.pool }

// Handler builds the ops HTTP handler. Passes triggered over HTTP run under ctx.
func (a *App) Handler(ctx context.Context) http.Handler {
	var reporter api.IdentityReporter
	if a.pool != nil {
		reporter = a.pool
	}
	return api.NewServer(a.orchestrator, reporter, api.Options{
		BaseContext:    ctx,
		DefaultKeyword: a.cfg.Keyword(),
		APIKey:         a.cfg.Server.APIKey,
		Checks:         a.checks,
		LastRun: func(ctx context.Context) (time.Time, bool, error) {
			return a.checker.LastRun(ctx, a.cfg.Dedup.LastRunKey)
		},
	}, a.logger).Handler()
}

// Close releases every opened backend in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
