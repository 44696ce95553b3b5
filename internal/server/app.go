// Package server builds the gateway and scrape service from configuration and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/api"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/clock/system"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/config"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/dispatcher"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/extract"
	collyfetcher "github.com/JakeFAU/fandom-scrape-gateway/internal/fetcher/colly"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/fetcher/headless"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/gateway"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/hash/sha256"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/id/uuid"
	memorypublisher "github.com/JakeFAU/fandom-scrape-gateway/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/fandom-scrape-gateway/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/fandom-scrape-gateway/internal/queue/memory"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/runner"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/scrape"
	gcsstorage "github.com/JakeFAU/fandom-scrape-gateway/internal/storage/gcs"
	localstorage "github.com/JakeFAU/fandom-scrape-gateway/internal/storage/local"
	memoryStorage "github.com/JakeFAU/fandom-scrape-gateway/internal/storage/memory"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/watch"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/worker"
)

// Mode selects which listeners a process runs.
type Mode string

// Supported run modes.
const (
	ModeAll     Mode = "all"
	ModeGateway Mode = "gateway"
	ModeScrap   Mode = "scrap"
)

// ParseMode validates a mode flag value.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(raw); m {
	case ModeAll, ModeGateway, ModeScrap:
		return m, nil
	case "":
		return ModeAll, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want all, gateway, or scrap)", raw)
	}
}

func (m Mode) runsGateway() bool { return m == ModeAll || m == ModeGateway }
func (m Mode) runsScrap() bool   { return m == ModeAll || m == ModeScrap }

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	mode   Mode
	logger *zap.Logger

	gateway   *gateway.Gateway
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue
	jobs      *memoryStorage.JobStore
	watcher   *watch.Watcher

	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	renderer        *headless.Renderer
}

// Build creates the dependencies for mode.
func Build(ctx context.Context, cfg config.Config, mode Mode, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, mode: mode, logger: logger}
	logger.Info("building application",
		zap.String("mode", string(mode)),
		zap.Int("gateway_port", cfg.Gateway.Port),
		zap.Int("scrap_port", cfg.Scrap.Port),
	)

	if mode.runsGateway() {
		routes, err := gateway.ParseRoutes(cfg.Gateway.Services)
		if err != nil {
			return nil, fmt.Errorf("gateway routes: %w", err)
		}
		app.gateway = gateway.New(routes, logger.Named("gateway"))
		logger.Info("gateway routes", zap.Strings("services", app.gateway.Services()))
	}

	if mode.runsScrap() {
		if err := app.buildScrap(ctx); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}
	return app, nil
}

func (a *App) buildScrap(ctx context.Context) error {
	cfg := a.cfg
	run, err := runner.New(runner.Config{
		ProjectDir:     cfg.Crawler.ProjectDir,
		Executable:     cfg.Crawler.Executable,
		Spider:         cfg.Crawler.Spider,
		URLParam:       cfg.Crawler.URLParam,
		Timeout:        cfg.Crawler.Timeout,
		TolerateStderr: cfg.Crawler.TolerateStderr,
	}, a.logger.Named("runner"))
	if err != nil {
		return fmt.Errorf("crawler runner init failed: %w", err)
	}

	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	jobStore := memoryStorage.NewBoundedJobStore(cfg.Scrap.MaxJobRecords)
	a.jobs = jobStore
	history := scrape.NewHistory(cfg.Scrap.ResultsDir, cfg.Scrap.HistoryCacheTTL, a.logger.Named("history"))
	clock := system.New()

	a.queue = queueMemory.NewQueue(cfg.Scrap.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Scrap.MaxConcurrentJobs)
	for i := 0; i < cfg.Scrap.MaxConcurrentJobs; i++ {
		workers = append(workers, worker.New(
			a.queue,
			jobStore,
			run,
			blobStore,
			publisher,
			sha256.New(),
			clock,
			history,
			worker.Config{
				ContentType: cfg.Storage.ContentType,
				BlobPrefix:  cfg.Storage.Prefix,
				Topic:       cfg.PubSub.TopicName,
			},
			a.logger.Named("worker").With(zap.Int("worker", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers)

	svc := scrape.NewService(jobStore, a.dispatch, uuid.New(), clock, history, scrape.Config{
		JobsDir:        cfg.Scrap.JobsDir,
		OutputFile:     cfg.Crawler.OutputFile,
		EnqueueTimeout: cfg.Scrap.EnqueueTimeout,
	}, a.logger.Named("scrape"))

	extractor := a.setupExtractor()
	var apiExtractor api.Extractor
	if extractor != nil {
		apiExtractor = extractor
	}
	a.apiServer = api.NewServer(svc, history, apiExtractor, api.Options{
		RequestTimeout: cfg.Scrap.RequestTimeout,
		ReadyChecks: map[string]api.ReadyCheck{
			"results_dir": dirCheck(cfg.Scrap.ResultsDir),
			"crawler":     dirCheck(cfg.Crawler.ProjectDir),
		},
	}, a.logger.Named("api"))

	if cfg.Watch.Enabled {
		if extractor == nil {
			a.logger.Warn("watcher enabled but extraction is not configured; watcher disabled")
			return nil
		}
		a.watcher, err = watch.New(watch.Config{
			File:       cfg.Watch.File,
			OutputFile: cfg.Watch.OutputFile,
			Debounce:   cfg.Watch.Debounce,
		}, extractor, a.logger.Named("watch"))
		if err != nil {
			return fmt.Errorf("watcher init failed: %w", err)
		}
	}
	return nil
}

func dirCheck(dir string) api.ReadyCheck {
	return func(context.Context) error {
		if dir == "" {
			return nil
		}
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}

func (a *App) setupStorage(ctx context.Context) (scrape.BlobStore, error) {
	var err error
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS artifact mirror", zap.String("bucket", a.cfg.Storage.Bucket))
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		a.logger.Info("using local artifact mirror", zap.String("path", a.cfg.Storage.LocalDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	case "memory":
		a.logger.Info("using in-memory artifact mirror")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("artifact mirroring disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (scrape.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = a.pubsubClient.Publisher(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubPublisher), nil
}

// setupExtractor returns nil when no completion backend is configured.
func (a *App) setupExtractor() *extract.Service {
	client, err := extract.New(extract.Config{
		APIKey:        a.cfg.Extract.APIKey,
		BaseURL:       a.cfg.Extract.BaseURL,
		Model:         a.cfg.Extract.Model,
		MaxTokens:     a.cfg.Extract.MaxTokens,
		Temperature:   a.cfg.Extract.Temperature,
		MaxInputBytes: a.cfg.Extract.MaxInputBytes,
		Timeout:       a.cfg.Extract.Timeout,
	}, a.logger.Named("extract"))
	if err != nil {
		a.logger.Warn("text extraction disabled", zap.Error(err))
		return nil
	}
	fetcher, err := a.setupFetcher()
	if err != nil {
		a.logger.Warn("URL extraction disabled", zap.Error(err))
		return extract.NewService(client, nil)
	}
	a.logger.Info("text extraction enabled",
		zap.String("model", a.cfg.Extract.Model),
		zap.String("fetcher", a.cfg.Fetcher.Engine),
		zap.String("user_agent", a.cfg.Fetcher.UserAgent),
	)
	return extract.NewService(client, fetcher)
}

func (a *App) setupFetcher() (scrape.Fetcher, error) {
	if a.cfg.Fetcher.Engine != "headless" {
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Fetcher.UserAgent,
			RespectRobots: a.cfg.Fetcher.RespectRobots,
			Timeout:       a.cfg.Fetcher.Timeout,
		}), nil
	}
	fetcher, err := headless.New(headless.Config{
		MaxParallel:  a.cfg.Fetcher.MaxParallel,
		UserAgent:    a.cfg.Fetcher.UserAgent,
		Timeout:      a.cfg.Fetcher.Timeout,
		WaitSelector: a.cfg.Fetcher.WaitSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.renderer = fetcher
	return fetcher, nil
}

// Run starts every configured listener and blocks until ctx is canceled or a
// listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var servers []*http.Server
	errCh := make(chan error, 2)
	serve := func(name, addr string, handler http.Handler) {
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		servers = append(servers, srv)
		go func() {
			a.logger.Info("http server started", zap.String("server", name), zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	// Workers outlive the listeners so handlers waiting on queued jobs can
	// still be answered while the servers drain.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()
	dispatchDone := make(chan struct{})
	if a.dispatch != nil {
		go func() {
			defer close(dispatchDone)
			a.logger.Info("dispatcher started", zap.Int("queue_depth", a.cfg.Scrap.QueueDepth))
			a.dispatch.Run(workCtx)
		}()
	} else {
		close(dispatchDone)
	}
	if a.watcher != nil {
		go func() {
			if err := a.watcher.Run(ctx); err != nil {
				a.logger.Error("watcher stopped", zap.Error(err))
			}
		}()
	}
	if a.apiServer != nil {
		serve("scrap", a.cfg.ScrapAddr(), a.apiServer.Handler())
	}
	if a.gateway != nil {
		serve("gateway", a.cfg.GatewayAddr(), a.gateway.Handler())
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case runErr = <-errCh:
		a.logger.Error("listener failed, shutting down", zap.Error(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	cancel()
	stopWork()
	<-dispatchDone
	a.Close()
	return runErr
}

// Close releases queues and cloud clients. Jobs still waiting in the queue
// are failed so their callers return immediately.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
		a.failPending()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) failPending() {
	pending := a.queue.Drain()
	if len(pending) == 0 {
		return
	}
	a.logger.Warn("failing queued jobs at shutdown", zap.Int("count", len(pending)))
	for _, item := range pending {
		if a.jobs != nil {
			if err := a.jobs.UpdateJobStatus(context.Background(), item.JobID, scrape.JobStatusFailed, scrape.ErrQueueClosed.Error()); err != nil {
				a.logger.Warn("fail queued job status update", zap.String("job_id", item.JobID), zap.Error(err))
			}
		}
		if item.Done == nil {
			continue
		}
		select {
		case item.Done <- scrape.Outcome{JobID: item.JobID, Status: scrape.JobStatusFailed, Err: scrape.ErrQueueClosed}:
		default:
		}
	}
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.renderer != nil {
		a.renderer.Close()
		a.renderer = nil
	}
}
