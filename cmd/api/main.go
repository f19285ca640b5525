package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"omnishot/internal/adapter/repo"
	"omnishot/internal/cache"
	"omnishot/internal/http/handlers"
	httpapi "omnishot/internal/http/httpapi"
	"omnishot/internal/infra"
	"omnishot/internal/ledger"
	"omnishot/internal/orchestrator"
	"omnishot/internal/progress"
	"omnishot/internal/providers/image"
	"omnishot/internal/strategy"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	rdb, err := cache.Dial(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	progressRepo := repo.NewProgressRepository(runner)
	usageRepo := repo.NewUsageRepository(runner)
	jobRepo := repo.NewJobRepository(runner)

	tracker := progress.NewTracker(progress.Options{
		Repo:      progressRepo,
		Cache:     cache.NewProgressCache(rdb, cfg.ProgressRetention),
		Realtime:  cache.NewPublisher(rdb),
		Feed:      cache.NewFeed(rdb),
		Logger:    logger,
		Retention: cfg.ProgressRetention,
	})

	led := ledger.New(ledger.Options{Repo: usageRepo, Logger: logger})
	if err := led.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("ledger seed from history failed")
	}

	// The API only accepts and reports; the worker binary claims and runs.
	svc := orchestrator.New(orchestrator.Options{
		Selector: strategy.NewSelector(led, logger),
		Tracker:  tracker,
		Ledger:   led,
		Jobs:     jobRepo,
		Prep:     image.NoopPrep{},
		Enqueue:  true,
		Logger:   logger,
	})

	app := handlers.NewApp(svc, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:  strings.Split(getenv("CORS_ORIGINS", "*"), ","),
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       cfg.StoragePath,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
