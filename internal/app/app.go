// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/api"
	"github.com/JakeFAU/pricecompare-crawler/internal/clock/system"
	"github.com/JakeFAU/pricecompare-crawler/internal/config"
	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/discovery"
	"github.com/JakeFAU/pricecompare-crawler/internal/dispatcher"
	"github.com/JakeFAU/pricecompare-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/pricecompare-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/pricecompare-crawler/internal/hash/sha256"
	"github.com/JakeFAU/pricecompare-crawler/internal/id/uuid"
	"github.com/JakeFAU/pricecompare-crawler/internal/identity"
	"github.com/JakeFAU/pricecompare-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/pricecompare-crawler/internal/product"
	pubmemory "github.com/JakeFAU/pricecompare-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/pricecompare-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/pricecompare-crawler/internal/queue/memory"
	redisqueue "github.com/JakeFAU/pricecompare-crawler/internal/queue/redis"
	"github.com/JakeFAU/pricecompare-crawler/internal/review"
	"github.com/JakeFAU/pricecompare-crawler/internal/schedule"
	"github.com/JakeFAU/pricecompare-crawler/internal/storage/gcs"
	"github.com/JakeFAU/pricecompare-crawler/internal/storage/local"
	storagememory "github.com/JakeFAU/pricecompare-crawler/internal/storage/memory"
	mongostore "github.com/JakeFAU/pricecompare-crawler/internal/storage/mongo"
	"github.com/JakeFAU/pricecompare-crawler/internal/storage/postgres"
	"github.com/JakeFAU/pricecompare-crawler/internal/telemetry"
)

// siteZone is the offset the site renders its timestamps in.
var siteZone = time.FixedZone("KST", 9*60*60)

type closer struct {
	name string
	fn   func(context.Context) error
}

// App holds the shared, long-lived services for the application. It is built
// once at startup from Config and hands fully wired components to commands.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	ids       crawler.IDGenerator
	hasher    crawler.Hasher
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	store     crawler.DocumentStore
	keywords  crawler.KeywordSource
	fetch     crawler.Lane
	review    crawler.Lane
	archive   crawler.BlobStore
	publisher crawler.Publisher
	closers   []closer
}

// New creates and initializes an App. It fails fast when any configured
// backend cannot be reached, releasing whatever was opened so far.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:       cfg,
		logger:    logger,
		clock:     system.New(),
		ids:       uuid.New(),
		hasher:    sha256.New(),
		extractor: extract.New(siteZone),
	}
	logger.Info("initializing application services")

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"tracing", a.initTracing},
		{"fetcher", a.initFetcher},
		{"store", a.initStore},
		{"lanes", a.initLanes},
		{"archive", a.initArchive},
		{"notify", a.initNotify},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			a.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("init %s: %w", step.name, err)
		}
	}
	logger.Info("application services initialized",
		zap.String("queue", cfg.Queue.Provider),
		zap.String("store", cfg.Store.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("notify", cfg.Notify.Provider),
	)
	return a, nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) initTracing(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, "pricecrawler")
	if err != nil {
		return err
	}
	a.onClose("tracing", tp.Shutdown)
	return nil
}

func (a *App) initFetcher(ctx context.Context) error {
	ident, err := identity.New(ctx, identity.Config{
		Proxies:       a.cfg.HTTP.Proxies,
		ProxyAPIURL:   a.cfg.HTTP.ProxyAPIURL,
		ProxyAPIToken: a.cfg.HTTP.ProxyAPIToken,
		ProxyType:     a.cfg.HTTP.ProxyType,
		UserAgents:    a.cfg.HTTP.UserAgents,
		Timeout:       a.cfg.HTTP.Timeout,
	}, nil, a.logger.Named("identity"))
	if err != nil {
		return err
	}
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.HTTP.MaxRPS,
		Burst: a.cfg.HTTP.Burst,
	})
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		Timeout:     a.cfg.HTTP.Timeout,
		MaxBodySize: a.cfg.HTTP.MaxBodySize,
	}, ident, limiter, a.logger.Named("fetcher"))
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case config.ProviderMongo:
		m := a.cfg.Store.Mongo
		store, err := mongostore.Connect(ctx, mongostore.Config{
			URI:      m.URI,
			Database: m.Database,
			Products: m.Products,
			Reviews:  m.Reviews,
			Keywords: m.Keywords,
			Timeout:  m.Timeout,
		})
		if err != nil {
			return err
		}
		a.onClose("mongo", store.Close)
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
		a.store = store
	case config.ProviderPostgres:
		p := a.cfg.Store.Postgres
		store, err := postgres.New(ctx, postgres.Config{
			DSN:           p.DSN,
			ProductsTable: p.ProductsTable,
			ReviewsTable:  p.ReviewsTable,
			KeywordsTable: p.KeywordsTable,
			MaxConns:      p.MaxConns,
		})
		if err != nil {
			return err
		}
		a.onClose("postgres", store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.store = store
	default:
		a.logger.Warn("using in-memory document store; documents are lost on exit")
		a.store = storagememory.NewDocumentStore(a.cfg.Keywords.Static...)
	}

	if a.cfg.Keywords.Source == config.KeywordsFromStatic {
		a.keywords = crawler.StaticKeywords(a.cfg.Keywords.Static)
	} else {
		a.keywords = a.store
	}
	return nil
}

func (a *App) initLanes(ctx context.Context) error {
	q := a.cfg.Queue
	if q.Provider == config.ProviderRedis {
		rdb, err := redisqueue.NewClient(ctx, redisqueue.Config{
			Address:  q.RedisAddr,
			Password: q.RedisPassword,
			DB:       q.RedisDB,
		})
		if err != nil {
			return err
		}
		a.onClose("redis", func(context.Context) error { return rdb.Close() })
		laneCfg := redisqueue.LaneConfig{Prefix: q.KeyPrefix, PollInterval: q.PollInterval, ClaimGrace: q.ClaimGrace}
		a.fetch = redisqueue.NewLane(rdb, crawler.FetchLane, a.ids, a.clock, laneCfg)
		a.review = redisqueue.NewLane(rdb, crawler.ReviewLane, a.ids, a.clock, laneCfg)
		return nil
	}
	a.logger.Warn("using in-memory lanes; queued work is lost on exit")
	fetchLane := queuememory.NewLane(crawler.FetchLane, q.Capacity, a.ids, a.clock)
	reviewLane := queuememory.NewLane(crawler.ReviewLane, q.Capacity, a.ids, a.clock)
	a.onClose("lanes", func(context.Context) error {
		fetchLane.Close()
		reviewLane.Close()
		return nil
	})
	a.fetch, a.review = fetchLane, reviewLane
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	c := a.cfg.Archive
	switch c.Provider {
	case config.ProviderGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: c.Bucket, Prefix: c.Prefix}, a.logger.Named("gcs"))
		if err != nil {
			return err
		}
		a.onClose("gcs", func(context.Context) error { return store.Close() })
		a.archive = store
	case config.ProviderLocal:
		store, err := local.New(local.Config{BaseDir: filepath.Join(c.BaseDir, c.Prefix)})
		if err != nil {
			return err
		}
		a.archive = store
	case config.ProviderMemory:
		a.archive = storagememory.NewBlobStore()
	}
	return nil
}

func (a *App) initNotify(ctx context.Context) error {
	c := a.cfg.Notify
	switch c.Provider {
	case config.ProviderPubSub:
		client, err := pubsub.NewClient(ctx, c.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.onClose("pubsub", func(context.Context) error {
			pub.Stop()
			return client.Close()
		})
		a.publisher = pub
	case config.ProviderMemory:
		a.publisher = pubmemory.New()
	}
	return nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Lanes returns the fetch and review lanes in that order.
func (a *App) Lanes() []crawler.Lane { return []crawler.Lane{a.fetch, a.review} }

// Lane looks a lane up by name.
func (a *App) Lane(name string) (crawler.Lane, error) {
	switch crawler.LaneName(name) {
	case crawler.FetchLane:
		return a.fetch, nil
	case crawler.ReviewLane:
		return a.review, nil
	default:
		return nil, fmt.Errorf("unknown lane %q", name)
	}
}

// DiscoveryRunner wires a keyword fan-out runner that feeds the fetch lane.
func (a *App) DiscoveryRunner() *discovery.Runner {
	controller := discovery.NewController(
		a.fetcher,
		a.extractor,
		crawler.TimerPauser{},
		a.cfg.Site,
		a.cfg.Politeness.SearchPage,
		a.logger.Named("discovery"),
	)
	return discovery.NewRunner(controller, a.keywords, a.fetch, a.clock, discovery.RunnerConfig{
		Parallelism: a.cfg.Discovery.Parallelism,
		Jobs:        a.cfg.Queue.JobOptions(),
	}, a.logger.Named("discovery-runner"))
}

// Scheduler wraps the discovery runner in the configured cron schedule.
func (a *App) Scheduler() *schedule.Scheduler {
	return schedule.New(a.DiscoveryRunner(), a.cfg.Discovery.Schedule, a.logger.Named("scheduler"))
}

// Dispatcher wires the product and review handlers to their lanes.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	products := product.New(product.Config{
		Site:       a.cfg.Site,
		Delay:      a.cfg.Politeness.Detail,
		ReviewJobs: a.cfg.Queue.JobOptions(),
	}, product.Deps{
		Fetcher:   a.fetcher,
		Extractor: a.extractor,
		Store:     a.store,
		Reviews:   a.review,
		Pauser:    crawler.TimerPauser{},
		Clock:     a.clock,
		Hasher:    a.hasher,
		Archive:   a.archive,
	}, a.logger.Named("fetch-worker"))
	reviews := review.New(review.Config{
		Site:  a.cfg.Site,
		Delay: a.cfg.Politeness.ReviewPage,
	}, review.Deps{
		Fetcher:   a.fetcher,
		Extractor: a.extractor,
		Store:     a.store,
		Pauser:    crawler.TimerPauser{},
		Clock:     a.clock,
		Hasher:    a.hasher,
	}, a.logger.Named("review-worker"))

	notifyTopic := ""
	if a.publisher != nil {
		notifyTopic = a.cfg.Notify.Topic
	}
	return dispatcher.New(dispatcher.Config{
		ReapInterval: a.cfg.Queue.ReapInterval,
		NotifyTopic:  notifyTopic,
	}, []dispatcher.Pool{
		{Lane: a.fetch, Handler: products, Workers: a.cfg.Queue.FetchWorkers},
		{Lane: a.review, Handler: reviews, Workers: a.cfg.Queue.ReviewWorkers},
	}, a.publisher, a.clock, a.logger.Named("dispatcher"))
}

// OpsServer builds the operator HTTP server on the configured address.
func (a *App) OpsServer() *http.Server {
	srv := api.NewServer(a.Lanes(), api.Config{APIKey: a.cfg.Ops.APIKey}, a.logger.Named("api"))
	return &http.Server{
		Addr:              a.cfg.Ops.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close shuts services down in reverse order of initialization.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close service failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
