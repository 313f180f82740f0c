package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"log/slog"

	"github.com/sna-ai/sna/internal/api"
	"github.com/sna-ai/sna/internal/auth"
	"github.com/sna-ai/sna/internal/config"
	"github.com/sna-ai/sna/internal/database"
	"github.com/sna-ai/sna/internal/dedup"
	"github.com/sna-ai/sna/internal/logging"
	"github.com/sna-ai/sna/internal/metrics"
	"github.com/sna-ai/sna/internal/pipeline"
	"github.com/sna-ai/sna/internal/scheduler"
	"github.com/sna-ai/sna/internal/scraper"
	"github.com/sna-ai/sna/internal/server"
	"github.com/sna-ai/sna/internal/summarizer"
	"github.com/sna-ai/sna/internal/taskregistry"
)

func main() {
	// Missing .env is fine; deployed environments inject real variables.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting sna")

	if cfg.Auth.JWTSecret == "dev-secret-change-me" {
		logger.Warn("JWT_SECRET_KEY not set, using the development default; issued tokens are forgeable")
	}
	if cfg.Scraper.APIKey == "" {
		logger.Warn("TWITTER_API_KEY not set, scrape runs will fail upstream authentication")
	}

	ctx := context.Background()

	dbURL, err := database.BuildDatabaseURL()
	if err != nil {
		logger.Error("failed to build database URL", "error", err)
		os.Exit(1)
	}
	logger.Info("connecting to database", "url", database.RedactedURL(dbURL))

	dbCfg := database.DefaultConfig()
	dbCfg.URL = dbURL
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	// Run pending migrations (non-fatal so a replica racing another instance
	// for the migration lock can still come up against a current schema)
	if err := database.RunMigrations(db, logger); err != nil {
		logger.Warn("failed to run migrations, continuing anyway", "error", err)
	}

	// Create repositories
	tweetRepo := database.NewTweetRepository(db)
	summaryRepo := database.NewSummaryRepository(db)
	dedupRepo := database.NewDedupRepository(db)
	followRepo := database.NewFollowRepository(db)
	filterRepo := database.NewFilterRepository(db)
	userRepo := database.NewUserRepository(db)
	runRepo := database.NewRunRepository(db)
	scheduleRepo := database.NewScheduleRepository(db)
	statsRepo := database.NewStatsRepository(db)

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	tasks := taskregistry.New()
	tasks.Start()

	fetcher := scraper.NewClient(scraper.ClientConfig{
		BaseURL:           cfg.Scraper.BaseURL,
		APIKey:            cfg.Scraper.APIKey,
		Timeout:           cfg.Scraper.RequestTimeout,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		Retry:             scraper.DefaultRetryPolicy(),
	}, logger)

	limits := scraper.DefaultLimitConfig()
	if cfg.Scraper.DefaultLimit > 0 {
		limits.DefaultLimit = cfg.Scraper.DefaultLimit
	}
	coordinator := scraper.NewCoordinator(fetcher, tweetRepo, statsRepo, runRepo, scraper.CoordinatorConfig{
		MaxConcurrentScrapes: cfg.Scraper.MaxConcurrentScrapes,
		RunTimeout:           cfg.Scraper.RunTimeout,
		Limits:               limits,
	}, logger)
	coordinator.SetMetrics(collector)

	engine := dedup.NewEngine(tweetRepo, dedupRepo, logger)
	engine.SetMetrics(collector)

	providers := summarizer.NewProviders(cfg.Summarizer.Providers)
	if len(providers) == 0 {
		logger.Warn("no LLM providers configured, summarisation requests will fail")
	} else {
		logger.Info("LLM providers configured", "count", len(providers))
	}
	llmRouter := summarizer.NewRouter(providers, cfg.Summarizer.ProviderTimeout, cfg.Summarizer.RetryDelay, logger)
	summarySvc := summarizer.NewSummarizer(tweetRepo, dedupRepo, summaryRepo, llmRouter, summarizer.NewCache(), cfg.Summarizer.MaxConcurrentRequests, logger)
	summarySvc.SetMetrics(collector)

	if cfg.Pipeline.Enabled {
		post := pipeline.New(tasks, engine, summarySvc, pipeline.Config{BatchSize: cfg.Pipeline.BatchSize}, logger)
		coordinator.SetPostProcessor(post)
		logger.Info("auto summarisation pipeline enabled", "batch_size", cfg.Pipeline.BatchSize)
	}

	sched := scheduler.NewScraperScheduler(coordinator, followRepo, scheduleRepo, cfg.Scheduler.IntervalSeconds, logger)
	if cfg.Scheduler.Enabled {
		// SCRAPER_ENABLED only bootstraps a fresh install; once a schedule
		// row exists the admin API owns it.
		existing, err := scheduleRepo.Get(ctx)
		if err != nil {
			logger.Warn("failed to read schedule config", "error", err)
		} else if existing == nil {
			if _, err := sched.Enable(ctx, "startup"); err != nil {
				logger.Warn("failed to enable scheduler from environment", "error", err)
			} else {
				logger.Info("scheduler enabled from environment", "interval_seconds", cfg.Scheduler.IntervalSeconds)
			}
		}
	}
	schedCtx, schedCancel := context.WithCancel(ctx)
	go sched.Start(schedCtx)

	authSvc := auth.NewService(userRepo, auth.Config{
		JWTSecret:     cfg.Auth.JWTSecret,
		TokenDuration: cfg.Auth.TokenDuration,
		AdminAPIKey:   cfg.Auth.AdminAPIKey,
	}, logger)

	// Setup HTTP routes
	mux := http.NewServeMux()

	logger.Info("setting up REST API")
	api.SetupRoutes(mux, db, tweetRepo, summaryRepo, dedupRepo, followRepo, filterRepo, userRepo, runRepo, tasks, coordinator, engine, summarySvc, sched, collector, authSvc, logger)

	handler := collector.InstrumentHandler(api.CORS(cfg.CORS.AllowedOrigins)(mux))

	// Start server
	srv := server.New(cfg.Server, logger, handler)

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("sna started successfully")
	logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s", cfg.Server.Port))

	waitForSignal(logger)

	logger.Info("shutting down")
	schedCancel()
	sched.Stop()
	tasks.Stop()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
	close(c)
}
