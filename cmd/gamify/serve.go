package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedbackhub/gamification/internal/infrastructure/metrics"
	"github.com/feedbackhub/gamification/internal/infrastructure/scheduler"
	"github.com/feedbackhub/gamification/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/feedbackhub/gamification/internal/interface/http"
	"github.com/feedbackhub/gamification/internal/interface/http/handlers"
	"github.com/feedbackhub/gamification/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the event bus and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, log, err := opts.bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting gamification service",
		logger.String("version", cfg.App.Version),
		logger.String("storage", cfg.Database.Driver),
		logger.Bool("redis", cfg.Redis.Enabled),
		logger.Bool("auto_evaluate", cfg.Gamification.AutoEvaluate),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. APPLICATION GRAPH
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New()

	a, err := newApp(ctx, cfg, log, appOptions{
		asyncEvents: true,
		migrate:     cfg.Database.AutoMigrate,
		metrics:     m,
	})
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections...")
		a.Close()
	}()

	if conn := a.store.conn; conn != nil {
		m.RegisterGauge("db_pool_acquired", "Connections currently acquired from the pool.", func() float64 {
			return float64(conn.Stats().AcquiredConns)
		})
		m.RegisterGauge("db_pool_idle", "Idle connections in the pool.", func() float64 {
			return float64(conn.Stats().IdleConns)
		})
	}

	if cb := a.breaker; cb != nil {
		m.RegisterGauge("redis_breaker_open", "1 while Redis calls are short-circuited.", func() float64 {
			if cb.IsOpen() {
				return 1
			}
			return 0
		})
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck(cfg.Database.Driver, handlers.NewPingCheck(a.store.Pinger))
	if a.redis != nil {
		health.AddCheck("redis", handlers.NewPingCheck(a.redis))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. BACKGROUND JOBS
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled && a.ranking != nil {
		sched = scheduler.New(scheduler.Config{
			TickInterval: cfg.Scheduler.TickInterval,
			RunOnStart:   true,
		}, log)
		sched.OnJobComplete(func(r scheduler.JobResult) {
			m.ObserveJob(r.JobName, r.Error)
		})

		rebuild := jobs.NewRebuildLeaderboardJob(a.store.Profiles, a.ranking, jobs.RebuildLeaderboardConfig{
			Size:    cfg.Scheduler.LeaderboardSize,
			Timeout: cfg.Scheduler.JobTimeout,
		}, log)
		if err := sched.Register(rebuild, scheduler.Every(cfg.Scheduler.RebuildLeaderboardInterval)); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Info("leaderboard rebuild scheduled", logger.Duration("interval", cfg.Scheduler.RebuildLeaderboardInterval))
	} else if cfg.Scheduler.Enabled {
		log.Info("scheduler skipped, leaderboard ranking needs Redis")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.EnableCORS = len(cfg.HTTP.AllowedOrigins) > 0
	httpCfg.EnableMetrics = cfg.HTTP.EnableMetrics
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute

	server := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		CreateProfile:  a.createProfile,
		SyncPoints:     a.syncPoints,
		Evaluate:       a.evaluate,
		Activity:       a.activity,
		ProfileSummary: a.profileSummary,
		Leaderboard:    a.leaderboard,
		Achievements:   a.achievements,
		ActivityStats:  a.activityStats,
		HealthChecker:  health,
		Metrics:        m,
		Logger:         log,
		Version:        cfg.App.Version,
	})
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. WAIT FOR SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Err(err))
	}
	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	}
	log.Info("shutdown complete", logger.Latency(time.Since(start)))
	return runErr
}
