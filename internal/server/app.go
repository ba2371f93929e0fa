// Package server builds the catalog service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/api"
	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/clock/system"
	"github.com/JakeFAU/repack-catalog/internal/config"
	"github.com/JakeFAU/repack-catalog/internal/extract"
	"github.com/JakeFAU/repack-catalog/internal/fetcher/archive"
	collyfetcher "github.com/JakeFAU/repack-catalog/internal/fetcher/colly"
	"github.com/JakeFAU/repack-catalog/internal/hash/sha256"
	"github.com/JakeFAU/repack-catalog/internal/id/uuid"
	"github.com/JakeFAU/repack-catalog/internal/logging"
	"github.com/JakeFAU/repack-catalog/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/repack-catalog/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/repack-catalog/internal/publisher/pubsub"
	"github.com/JakeFAU/repack-catalog/internal/purge"
	"github.com/JakeFAU/repack-catalog/internal/source"
	gcsstorage "github.com/JakeFAU/repack-catalog/internal/storage/gcs"
	localstorage "github.com/JakeFAU/repack-catalog/internal/storage/local"
	memorystorage "github.com/JakeFAU/repack-catalog/internal/storage/memory"
	pgstore "github.com/JakeFAU/repack-catalog/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/repack-catalog/internal/storage/sqlite"
	"github.com/JakeFAU/repack-catalog/internal/syncer"
	"github.com/JakeFAU/repack-catalog/internal/taxonomy"
	"github.com/JakeFAU/repack-catalog/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     catalog.Store
	syncer    *syncer.Syncer
	purger    purge.Invalidator
	tagPurger purge.Invalidator
	apiServer *api.Server
	ready     func(context.Context) error
	closers   []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger *zap.Logger
}

// WithLogger uses logger instead of building one from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	logger := bo.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.String("store", a.cfg.Store.Driver),
		zap.String("source", a.cfg.Source.BaseURL),
	)

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.Config{
		Enabled:     a.cfg.Telemetry.Enabled,
		Exporter:    a.cfg.Telemetry.Exporter,
		Endpoint:    a.cfg.Telemetry.Endpoint,
		Insecure:    a.cfg.Telemetry.Insecure,
		ServiceName: a.cfg.Telemetry.ServiceName,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.addCloser("tracing", shutdownTracing)

	if err := a.setupStore(ctx); err != nil {
		return err
	}

	fetcher := a.setupFetcher()
	detailFetcher, err := a.setupArchive(ctx, fetcher)
	if err != nil {
		return err
	}

	listing, err := source.NewListing(fetcher, a.cfg.Source.BaseURL, a.cfg.Source.ListingPath)
	if err != nil {
		return fmt.Errorf("listing source init failed: %w", err)
	}
	feed, err := source.NewFeed(fetcher, a.cfg.FeedURL(), a.cfg.Source.ReleaseCategory)
	if err != nil {
		return fmt.Errorf("feed source init failed: %w", err)
	}
	extractor := extract.New(detailFetcher, extract.Config{
		PinkPawToken:     a.cfg.Extract.PinkPawToken,
		DescriptionTitle: a.cfg.Extract.DescriptionTitle,
	}, a.logger)

	table, err := taxonomy.LoadAliasTable(a.cfg.Taxonomy.AliasesPath)
	if err != nil {
		return fmt.Errorf("alias table load failed: %w", err)
	}
	a.logger.Info("alias table loaded", zap.Int("groups", table.Len()), zap.String("path", a.cfg.Taxonomy.AliasesPath))

	a.syncer, err = syncer.New(syncer.Deps{
		Store:         a.store,
		Listing:       listing,
		Feed:          feed,
		Extractor:     extractor,
		Canonicalizer: taxonomy.New(a.store, table, a.logger),
		IDs:           uuid.New(),
		Clock:         system.New(),
		Logger:        a.logger,
	}, syncer.Config{MaxListingPages: a.cfg.Sync.MaxListingPages})
	if err != nil {
		return fmt.Errorf("syncer init failed: %w", err)
	}

	if err := a.setupPurger(ctx); err != nil {
		return err
	}

	a.apiServer = api.NewServer(api.Deps{
		Runner:    a.syncer,
		Lister:    a.store,
		Purger:    a.purger,
		TagPurger: a.tagPurger,
		Ready:     a.ready,
	}, api.Options{
		APIKey:           a.apiKey(),
		IndexTag:         a.cfg.Purge.IndexTag,
		ListMaxAge:       time.Duration(a.cfg.Server.ListMaxAgeSeconds) * time.Second,
		ListSharedMaxAge: time.Duration(a.cfg.Server.ListSharedMaxAgeSeconds) * time.Second,
		RunTimeout:       a.cfg.RunTimeout(),
	}, a.logger)
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		store, err := pgstore.NewCatalogStore(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
			ApplySchema:     a.cfg.DB.ApplySchema,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
		a.ready = store.Ping
		a.addCloser("postgres", func(context.Context) error {
			store.Close()
			return nil
		})
		a.logger.Info("using postgres catalog store")
	case config.StoreSQLite:
		store, err := sqlitestore.Open(ctx, a.cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = store
		a.ready = store.Ping
		a.addCloser("sqlite", func(context.Context) error { return store.Close() })
		a.logger.Info("using sqlite catalog store", zap.String("path", a.cfg.SQLite.Path))
	default:
		a.store = memorystorage.NewCatalogStore()
		a.logger.Warn("using in-memory catalog store; data is lost on exit")
	}
	return nil
}

func (a *App) setupFetcher() *collyfetcher.Fetcher {
	headers := http.Header{}
	headers.Set("Accept", "text/html")
	headers.Set("Referer", strings.TrimRight(a.cfg.Source.BaseURL, "/")+"/"+strings.TrimLeft(a.cfg.Source.ListingPath, "/"))
	for k, v := range a.cfg.HTTP.Headers {
		headers.Set(k, v)
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.HTTP.RequestsPerSecond,
		DefaultBurst: a.cfg.HTTP.Burst,
	})
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.HTTP.UserAgent),
		zap.Float64("requests_per_second", a.cfg.HTTP.RequestsPerSecond),
		zap.Bool("respect_robots", a.cfg.HTTP.RespectRobots),
	)
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.HTTP.UserAgent,
		Headers:       headers,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		Limiter:       limiter,
	})
}

func (a *App) setupArchive(ctx context.Context, next catalog.Fetcher) (catalog.Fetcher, error) {
	if !a.cfg.Archive.Enabled {
		return next, nil
	}
	var blobs catalog.BlobStore
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return store.Close() })
		blobs = store
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		blobs = store
	default:
		blobs = memorystorage.NewBlobStore()
	}
	a.logger.Info("page archive enabled",
		zap.String("backend", a.cfg.Archive.Backend),
		zap.String("prefix", a.cfg.Archive.Prefix),
	)
	return archive.New(next, blobs, sha256.New(), a.cfg.Archive.Prefix, a.logger), nil
}

func (a *App) setupPurger(ctx context.Context) error {
	if !a.cfg.Purge.Enabled {
		a.purger = purge.Noop{}
		a.tagPurger = purge.Noop{}
		a.logger.Info("cache purging disabled")
		return nil
	}
	var publisher catalog.Publisher
	switch a.cfg.Purge.Backend {
	case config.BackendPubSub:
		pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
		publisher = pub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	default:
		publisher = memorypublisher.New()
		a.logger.Warn("using in-memory purge publisher")
	}
	p, err := purge.New(publisher, purge.Config{Topic: a.cfg.PubSub.TopicName}, a.logger)
	if err != nil {
		return fmt.Errorf("purger init failed: %w", err)
	}
	a.purger = p
	a.tagPurger = p.WithPerTag()
	return nil
}

func (a *App) apiKey() string {
	if !a.cfg.Auth.Enabled {
		return ""
	}
	return a.cfg.Auth.APIKey
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Sync runs one sync with strategy and purges the cache when releases were added.
func (a *App) Sync(ctx context.Context, strategy string) (syncer.Result, error) {
	if timeout := a.cfg.RunTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var (
		res syncer.Result
		err error
	)
	switch strategy {
	case syncer.StrategyFull:
		res, err = a.syncer.SyncAll(ctx)
	case syncer.StrategyFeed:
		res, err = a.syncer.SyncFeed(ctx)
	default:
		return syncer.Result{}, fmt.Errorf("unknown sync strategy %q", strategy)
	}
	if len(res.Added) > 0 {
		pctx, cancel := purge.Detach(ctx)
		perr := a.purger.Purge(pctx, purge.Tags(a.cfg.Purge.IndexTag, res.Added))
		cancel()
		if perr != nil {
			a.logger.Warn("cache purge failed", zap.Error(perr))
		}
	}
	return res, err
}

// Run serves HTTP until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(a.cfg.Server.ReadTimeoutSeconds) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
