package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pangshuai227/ai-stocklink/internal/api"
	"github.com/pangshuai227/ai-stocklink/internal/config"
	"github.com/pangshuai227/ai-stocklink/internal/extraction"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/apiclient"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/llm"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/news"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/ocr"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/scheduler"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/storage"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/wechat"
	"github.com/pangshuai227/ai-stocklink/internal/logging"
	"github.com/pangshuai227/ai-stocklink/internal/source"
	"github.com/pangshuai227/ai-stocklink/internal/staging"
	"github.com/pangshuai227/ai-stocklink/internal/usecase"
)

const sweepInterval = time.Minute

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	repo      *storage.Repository
	pending   *staging.Store
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	server    *api.Server
}

// Services are the external adapters that need no database.
type Services struct {
	Extractor *extraction.Extractor
	Analyzer  *llm.DeepSeekClient
}

// NewServices builds the recognition and extraction adapters.
func NewServices(cfg config.Config, logger *slog.Logger) Services {
	if logger == nil {
		logger = logging.Discard()
	}
	client := newAPIClient(cfg, logger)
	deepseek := llm.NewDeepSeekClient(cfg.DeepSeek, client)
	recognizer := ocr.NewClient(cfg.OCR, client)
	return Services{
		Extractor: extraction.NewExtractor(recognizer, deepseek, logger.With("component", "extraction")),
		Analyzer:  deepseek,
	}
}

// New opens storage and wires every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	}

	repo, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	client := newAPIClient(cfg, baseLogger)
	loc := cfg.Scheduler.Location()

	registry := source.NewRegistry()
	if err := registry.Register(news.NewEastMoney(cfg.News, loc, client, baseLogger.With("component", "source.eastmoney"))); err != nil {
		_ = repo.Close()
		return nil, err
	}
	contentSource, err := registry.Resolve(cfg.News.Source)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	services := NewServices(cfg, baseLogger)
	pending := staging.New(cfg.Staging.MaxAge)
	importer := usecase.NewImporter(services.Extractor, pending, repo, cfg.Staging.MaxCandidates, baseLogger.With("component", "importer"))

	ingestor := usecase.NewIngestor(contentSource, repo, cfg.Ingest.Workers, baseLogger.With("component", "ingest"))
	fanOut := usecase.NewFanOut(repo, repo, wechat.NewSender(cfg.WeChat, client), usecase.FanOutConfig{
		TemplateID:   cfg.WeChat.TemplateID,
		Headline:     cfg.Notify.Headline,
		PreviewRunes: cfg.Notify.PreviewRunes,
		Workers:      cfg.Notify.Workers,
		Location:     loc,
	}, baseLogger.With("component", "fanout"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Watchlist:       repo,
		Ingestor:        ingestor,
		FanOut:          fanOut,
		FreshnessWindow: cfg.Notify.FreshnessWindow,
		MaxPerUser:      cfg.Notify.MaxPerUser,
		Logger:          baseLogger.With("component", "pipeline"),
	})

	driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.LockFile, baseLogger.With("component", "scheduler"))

	server := api.NewServer(cfg.API.Bind, api.Deps{
		Users:     repo,
		Watchlist: repo,
		Importer:  importer,
		News:      repo,
		Analyzer:  services.Analyzer,
		Location:  loc,
		Logger:    baseLogger.With("component", "api"),
	})

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		repo:      repo,
		pending:   pending,
		pipeline:  pipeline,
		scheduler: usecase.NewScheduler(driver, pipeline, baseLogger.With("component", "scheduler")),
		server:    server,
	}, nil
}

// Repository exposes the storage layer for administrative commands.
func (a *Application) Repository() *storage.Repository {
	return a.repo
}

// RunBatch performs one ingest-and-notify cycle.
func (a *Application) RunBatch(ctx context.Context) (usecase.RunReport, error) {
	return a.pipeline.RunBatch(ctx)
}

// Serve starts the scheduler, the API server and the staging sweeper, and
// blocks until ctx is cancelled and both have drained, so Close never races
// an in-flight request or batch.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.server.Start(ctx); err != nil {
		return err
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if removed := a.pending.Sweep(now); removed > 0 {
				a.logger.Debug("expired pending extractions dropped", "count", removed)
			}
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := a.scheduler.Stop(stopCtx); err != nil {
				a.logger.Warn("scheduler did not stop cleanly", "error", err)
			}
			select {
			case <-a.server.Done():
			case <-stopCtx.Done():
				a.logger.Warn("api server did not stop in time", "error", stopCtx.Err())
			}
			return nil
		}
	}
}

// Close releases the database.
func (a *Application) Close() error {
	return a.repo.Close()
}

func newAPIClient(cfg config.Config, logger *slog.Logger) *apiclient.Client {
	return apiclient.New(apiclient.Config{
		MaxRetries: cfg.HTTP.MaxRetries,
		Cooldown:   cfg.HTTP.Cooldown,
		Timeout:    cfg.HTTP.Timeout,
	}, apiclient.WithLogger(logger.With("component", "apiclient")))
}
