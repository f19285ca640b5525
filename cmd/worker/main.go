package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"omnishot/internal/adapter/repo"
	"omnishot/internal/cache"
	"omnishot/internal/domain"
	"omnishot/internal/executor"
	"omnishot/internal/infra"
	"omnishot/internal/ledger"
	"omnishot/internal/orchestrator"
	"omnishot/internal/progress"
	"omnishot/internal/providers/image"
	"omnishot/internal/storage"
	"omnishot/internal/strategy"
)

type jobWorker struct {
	ctx          context.Context
	service      *orchestrator.Service
	jobs         domain.JobRepository
	tracker      *progress.Tracker
	logger       zerolog.Logger
	pollInterval time.Duration
	retention    time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	rdb, err := cache.Dial(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer rdb.Close()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	progressRepo := repo.NewProgressRepository(runner)
	usageRepo := repo.NewUsageRepository(runner)
	jobRepo := repo.NewJobRepository(runner)

	tracker := progress.NewTracker(progress.Options{
		Repo:      progressRepo,
		Cache:     cache.NewProgressCache(rdb, cfg.ProgressRetention),
		Realtime:  cache.NewPublisher(rdb),
		Logger:    logger,
		Retention: cfg.ProgressRetention,
	})

	led := ledger.New(ledger.Options{Repo: usageRepo, Logger: logger})
	if err := led.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("worker: ledger seed from history failed")
	}

	exec := executor.New(executor.Options{
		Registry:       buildRegistry(cfg, fileStore, logger),
		Logger:         logger,
		MaxConcurrency: cfg.MaxConcurrency,
	})

	svc := orchestrator.New(orchestrator.Options{
		Selector: strategy.NewSelector(led, logger),
		Executor: exec,
		Tracker:  tracker,
		Ledger:   led,
		Jobs:     jobRepo,
		Prep:     image.BestEffortPrep{Inner: storage.Prep{Store: fileStore}, Logger: logger},
		Logger:   logger,
	})

	worker := &jobWorker{
		ctx:          ctx,
		service:      svc,
		jobs:         jobRepo,
		tracker:      tracker,
		logger:       logger,
		pollInterval: cfg.WorkerPollInterval,
		retention:    cfg.ProgressRetention,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	svc.Wait()
	logger.Info().Msg("worker: stopped")
}

func buildRegistry(cfg *infra.Config, store *storage.FileStore, logger zerolog.Logger) *image.Registry {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("worker: gemini api key missing, using synthetic outputs")
	}
	return &image.Registry{
		Gemini: image.NewGemini(image.GeminiOptions{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			HTTPClient: httpClient,
			Logger:     logger,
		}),
		Replicate: image.NewReplicate(image.ReplicateOptions{
			APIToken:   cfg.ReplicateAPIKey,
			BaseURL:    cfg.ReplicateBaseURL,
			HTTPClient: httpClient,
			Logger:     logger,
		}),
		Stability: image.NewStability(image.StabilityOptions{
			APIKey:     cfg.StabilityAPIKey,
			BaseURL:    cfg.StabilityBaseURL,
			HTTPClient: httpClient,
			Logger:     logger,
		}),
		Local: image.NewLocal(store, logger),
	}
}

func (w *jobWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	evictEvery := time.NewTicker(w.retention / 2)
	defer evictEvery.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		case <-evictEvery.C:
			w.tracker.Evict(w.ctx)
		default:
		}

		job, err := w.jobs.ClaimNext(w.ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				w.logger.Error().Err(err).Msg("worker: failed to claim job")
			}
			select {
			case <-w.ctx.Done():
				return w.ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.logger.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("worker: picked job")
		w.service.Run(w.ctx, job, nil)
	}
}
