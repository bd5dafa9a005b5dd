package app

import (
	"context"
	"sync"

	"recording-relay/internal/circuitbreaker"
	commonhttp "recording-relay/internal/common/http"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/common/ratelimit"
	"recording-relay/internal/common/utils"
	"recording-relay/internal/config"
	"recording-relay/internal/credential"
	"recording-relay/internal/fetcher"
	"recording-relay/internal/ledger"
	"recording-relay/internal/pipeline"
	"recording-relay/internal/poller"
	"recording-relay/internal/relay"
	"recording-relay/internal/routing"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Ledger      ledger.Ledger
	Credentials *credential.Store
	TokenLoader *credential.Loader
	Router      *routing.Router
	Breaker     *circuitbreaker.GoBreakerAdapter
	Limiter     ratelimit.Limiter
	Fetcher     *fetcher.Fetcher
	Processor   *pipeline.Processor
	Poller      *poller.Poller
	Uploaders   []*relay.Uploader
	Logger      logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new application instance with all dependencies. Nothing runs
// until Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config:      cfg,
		Credentials: credential.NewStore(),
		Logger:      logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	router, err := routing.LoadRules(cfg.RoutesFile)
	if err != nil {
		return nil, err
	}
	app.Router = router
	for _, dest := range router.Destinations() {
		app.Logger.Info("Destination configured",
			logging.String("destination", dest.Name),
			logging.String("dir", dest.Dir),
			logging.Bool("relay", dest.RelayTarget != ""),
		)
	}

	publishers, err := app.initializeRelays()
	if err != nil {
		return nil, err
	}

	app.TokenLoader = credential.NewLoader(cfg.TokenFile, app.Credentials, nil)
	if err := app.TokenLoader.LoadOnce(); err != nil {
		// Cycles are skipped until the file appears
		app.Logger.Warn("Token not loaded at startup", logging.Err(err))
	}

	app.Limiter, err = ratelimit.NewLocalLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.FetchRateLimit,
		BurstSize:         cfg.FetchBurst,
		MaxKeys:           ratelimit.DefaultConfig().MaxKeys,
		CleanupPeriod:     ratelimit.DefaultConfig().CleanupPeriod,
	})
	if err != nil {
		return nil, err
	}

	// A download is claimed before it starts, so its timeout must fit the longest recording
	downloadClient := commonhttp.NewHTTPClient(
		commonhttp.WithTimeout(cfg.DownloadTimeout),
		commonhttp.WithMaxIdleConnsPerHost(cfg.FetchConcurrency),
	)
	app.Fetcher = fetcher.New(downloadClient, app.Credentials, app.Limiter, cfg.RecordingExtension, nil)

	app.Breaker = circuitbreaker.NewGoBreaker("listing", circuitbreaker.ListingConfig, nil)
	listingClient := commonhttp.NewHTTPClient(commonhttp.WithTimeout(cfg.HTTPTimeout))
	lister, err := poller.NewListingClient(cfg.ListingURL, cfg.ListingQuery, listingClient, app.Breaker)
	if err != nil {
		return nil, err
	}

	// The ledger is opened last so earlier failures leave nothing to close
	app.Ledger, err = ledger.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app.Processor = pipeline.New(app.Ledger, app.Router, app.Fetcher, publishers, cfg.FetchConcurrency, nil)
	app.Poller = poller.New(poller.Config{
		Interval:     cfg.PollInterval,
		InitialDelay: cfg.PollInitialDelay,
	}, app.Credentials, lister, app.Processor.Process, nil)

	app.Logger.Info("Application initialized",
		logging.String("listing_url", lister.URL()),
		logging.String("ledger", cfg.LedgerType),
		logging.Int("rules", len(router.Rules())),
		logging.Int("relays", len(app.Uploaders)),
	)
	return app, nil
}

// initializeRelays builds one uploader per destination with a relay target
func (app *App) initializeRelays() (map[string]pipeline.Publisher, error) {
	publishers := make(map[string]pipeline.Publisher)

	for _, dest := range app.Router.Destinations() {
		if dest.RelayTarget == "" {
			continue
		}

		target, err := relay.ParseTarget(dest.RelayTarget)
		if err != nil {
			return nil, err
		}
		transferer, err := relay.NewSFTPTransferer(relay.SFTPConfig{
			Target:         target,
			Password:       app.Config.RelayPassword,
			KnownHostsFile: app.Config.RelayKnownHosts,
			Retry:          utils.DefaultRetryConfig(),
		}, nil)
		if err != nil {
			return nil, err
		}

		uploaderConfig := relay.DefaultConfig()
		uploaderConfig.ScanInterval = app.Config.RelayScanInterval
		uploader := relay.NewUploader(dest, transferer, uploaderConfig, nil)

		app.Uploaders = append(app.Uploaders, uploader)
		publishers[dest.Name] = uploader
	}

	return publishers, nil
}

// Start launches the token watcher, the relay uploaders and the poll schedule
func (app *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.TokenLoader.Watch(runCtx); err != nil {
			app.Logger.Error("Token watcher stopped", err)
		}
	}()

	for _, uploader := range app.Uploaders {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := uploader.Run(runCtx); err != nil {
				app.Logger.Error("Relay uploader stopped", err,
					logging.String("destination", uploader.Destination().Name))
			}
		}()
	}

	return app.Poller.Start(runCtx)
}

// RunOnce performs a single poll cycle without scheduling, then relays what
// is staged and returns.
func (app *App) RunOnce(ctx context.Context) (*poller.CycleResult, error) {
	result, err := app.Poller.Trigger(ctx)

	for _, uploader := range app.Uploaders {
		if n := uploader.Scan(); n > 0 {
			app.Logger.Info("Relaying staged files",
				logging.String("destination", uploader.Destination().Name),
				logging.Int("files", n))
		}
		uploader.Drain(ctx)
	}
	return result, err
}

// Shutdown stops the schedule, waits for the in-flight cycle and the
// background workers, then closes the ledger.
func (app *App) Shutdown(ctx context.Context) error {
	if app.Poller != nil {
		if err := app.Poller.Stop(); err != nil && err != poller.ErrNotRunning {
			app.Logger.Warn("Error stopping poller", logging.Err(err))
		}
	}
	if app.cancel != nil {
		app.cancel()
	}

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		app.Logger.Warn("Timed out waiting for background workers")
	}

	return app.Cleanup()
}

// Cleanup releases the ledger
func (app *App) Cleanup() error {
	if app.Ledger == nil {
		return nil
	}
	err := app.Ledger.Close()
	app.Ledger = nil
	return err
}
