package main

import (
	"context"
	"fmt"

	"github.com/feedbackhub/gamification/config"
	"github.com/feedbackhub/gamification/internal/application/command"
	"github.com/feedbackhub/gamification/internal/application/query"
	"github.com/feedbackhub/gamification/internal/application/saga"
	"github.com/feedbackhub/gamification/internal/domain/achievement"
	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/infrastructure/messaging"
	"github.com/feedbackhub/gamification/internal/infrastructure/metrics"
	"github.com/feedbackhub/gamification/internal/infrastructure/persistence/memory"
	"github.com/feedbackhub/gamification/internal/infrastructure/persistence/postgres"
	"github.com/feedbackhub/gamification/internal/infrastructure/persistence/redis"
	"github.com/feedbackhub/gamification/internal/infrastructure/service"
	"github.com/feedbackhub/gamification/internal/interface/http/handlers"
	"github.com/feedbackhub/gamification/pkg/circuitbreaker"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// storage groups the repositories of the selected driver.
type storage struct {
	Profiles    profile.Repository
	Provisioner profile.Provisioner
	Ledger      ledger.Repository
	Catalog  achievement.Catalog
	Earned   achievement.EarnedRepository
	Recorder achievement.AwardRecorder
	Pinger   handlers.Pinger

	// conn is nil for the memory driver.
	conn *postgres.Connection
}

func (s *storage) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func postgresConfig(cfg *config.Config) postgres.Config {
	pg := postgres.DefaultConfig()
	pg.URL = cfg.Database.URL
	pg.MaxConns = cfg.Database.MaxConns
	pg.MinConns = cfg.Database.MinConns
	pg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pg.ConnectAttempts = cfg.Database.ConnectAttempts
	return pg
}

// openStorage connects the configured driver. migrate applies pending
// PostgreSQL migrations before the repositories are handed out.
func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) (*storage, error) {
	if cfg.UsesMemoryStorage() {
		log.Warn("using in-memory storage, state is lost on exit")
		store := memory.NewStore()
		return &storage{
			Profiles:    store,
			Provisioner: store,
			Ledger:      store,
			Catalog:     store,
			Earned:      store,
			Recorder:    store,
			Pinger:      store,
		}, nil
	}

	log.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, postgresConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	if migrate {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", logger.Int("applied", applied))
	}

	achievements := postgres.NewAchievementRepository(conn)
	profiles := postgres.NewProfileRepository(conn)
	return &storage{
		Profiles:    profiles,
		Provisioner: profiles,
		Ledger:      postgres.NewLedgerRepository(conn),
		Catalog:     achievements,
		Earned:      achievements,
		Recorder:    achievements,
		Pinger:      conn,
		conn:        conn,
	}, nil
}

// seedCatalog upserts every definition from the YAML file.
func seedCatalog(ctx context.Context, catalog achievement.Catalog, path string) (int, error) {
	defs, err := achievement.LoadCatalogFile(path)
	if err != nil {
		return 0, err
	}
	for _, a := range defs {
		if err := catalog.UpsertAchievement(ctx, a); err != nil {
			return 0, fmt.Errorf("upsert %q: %w", a.ID, err)
		}
	}
	return len(defs), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION GRAPH
// ══════════════════════════════════════════════════════════════════════════════

type appOptions struct {
	// asyncEvents runs read-model handlers on the bus worker pool. One-shot
	// commands keep them inline so they finish before the process exits.
	asyncEvents bool

	// migrate applies pending PostgreSQL migrations on connect.
	migrate bool

	metrics *metrics.Metrics
}

// app is the wired application: storage, caches, the event bus and every
// command and query handler.
type app struct {
	cfg *config.Config
	log *logger.Logger

	store   *storage
	redis   *redis.Cache
	breaker *circuitbreaker.CircuitBreaker

	// Read-side collaborators; nil when Redis is disabled.
	ranking      *redis.LeaderboardCache
	profileCache *redis.ProfileCache

	bus     *messaging.InMemoryEventBus
	metrics *metrics.Metrics

	createProfile *command.CreateProfileHandler
	syncPoints    *command.SyncPointsHandler
	evaluate      *saga.AchievementFlowSaga
	activity      *saga.ActivityFlow

	profileSummary *query.GetProfileSummaryHandler
	leaderboard    *query.GetLeaderboardHandler
	achievements   *query.ListAchievementsHandler
	activityStats  *query.GetActivityStatsHandler
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, opts appOptions) (*app, error) {
	store, err := openStorage(ctx, cfg, log, opts.migrate)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: store, metrics: opts.metrics}

	if cfg.Redis.Enabled {
		if err := a.connectRedis(ctx); err != nil {
			// Caches are an optimization; the ledger stays authoritative.
			log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		}
	}

	if cfg.Gamification.CatalogFile != "" {
		n, err := seedCatalog(ctx, store.Catalog, cfg.Gamification.CatalogFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to seed achievement catalog: %w", err)
		}
		log.Info("achievement catalog seeded", logger.Int("achievements", n))
	}

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.AsyncMode = opts.asyncEvents
	busCfg.Logger = log
	if opts.metrics != nil {
		busCfg.Observer = opts.metrics
	}
	a.bus = messaging.NewInMemoryEventBus(busCfg)

	if err := messaging.Wire(a.bus, a.readModelWiring()); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to wire event subscribers: %w", err)
	}

	a.buildHandlers()
	return a, nil
}

func (a *app) connectRedis(ctx context.Context) error {
	rc := redis.DefaultConfig()
	rc.URL = a.cfg.Redis.URL
	rc.Host = a.cfg.Redis.Host
	rc.Port = a.cfg.Redis.Port
	rc.Password = a.cfg.Redis.Password
	rc.DB = a.cfg.Redis.DB
	rc.PoolSize = a.cfg.Redis.PoolSize
	rc.MinIdleConns = a.cfg.Redis.MinIdleConns
	rc.DialTimeout = a.cfg.Redis.DialTimeout
	rc.ReadTimeout = a.cfg.Redis.ReadTimeout
	rc.WriteTimeout = a.cfg.Redis.WriteTimeout

	cache, err := redis.NewCache(ctx, rc)
	if err != nil {
		return err
	}
	a.breaker = circuitbreaker.CacheBreaker(redis.IsFailure, func(name string, from, to circuitbreaker.State) {
		a.log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	a.redis = cache.WithBreaker(a.breaker)
	a.ranking = redis.NewLeaderboardCache(cache)
	a.profileCache = redis.NewProfileCache(cache)
	a.log.Info("Redis connection established")
	return nil
}

// readModelWiring only sets interface fields for collaborators that exist,
// so Wire never sees a typed nil.
func (a *app) readModelWiring() messaging.ReadModelWiring {
	var w messaging.ReadModelWiring
	if a.ranking != nil {
		w.Leaderboard = a.ranking
		w.Profiles = a.store.Profiles
	}
	if a.profileCache != nil {
		w.Cache = a.profileCache
	}
	forward := a.cfg.Redis.ForwardEvents || a.cfg.Features.IsEnabled(config.FeatureEventForwarding, "")
	if a.redis != nil && forward {
		w.Publisher = a.redis
		w.Channel = redis.EventChannel
	}
	if a.metrics != nil {
		w.Observer = a.metrics
	}
	return w
}

func (a *app) buildHandlers() {
	cfg := a.cfg
	ids := service.NewIDGenerator()
	s := a.store

	a.createProfile = command.NewCreateProfileHandler(s.Profiles, s.Provisioner, a.log)

	syncCfg := command.DefaultSyncPointsHandlerConfig()
	syncCfg.RecordLevelUps = cfg.Gamification.RecordLevelUps &&
		cfg.Features.IsEnabled(config.FeatureLevelUpAudit, "")
	a.syncPoints = command.NewSyncPointsHandler(s.Ledger, s.Profiles, a.bus, ids, a.log, syncCfg)

	flowCfg := saga.DefaultAchievementFlowConfig()
	flowCfg.EarlyAdopterCutoff = cfg.Gamification.EarlyAdopterCutoff
	a.evaluate = saga.NewAchievementFlowSaga(saga.AchievementFlowDeps{
		Profiles:    s.Profiles,
		Ledger:      s.Ledger,
		Catalog:     s.Catalog,
		Earned:      s.Earned,
		Recorder:    s.Recorder,
		Syncer:      a.syncPoints,
		EventBus:    a.bus,
		IDGenerator: ids,
		Logger:      a.log,
	}, flowCfg)

	loginCfg := command.DefaultRecordLoginHandlerConfig()
	loginCfg.Location = cfg.Gamification.Location
	loginCfg.DailyLoginPoints = cfg.Gamification.DailyLoginPoints

	record := command.NewRecordActivityHandler(s.Ledger, s.Profiles, a.bus, ids, nil, a.log)
	login := command.NewRecordLoginHandler(s.Ledger, s.Profiles, a.bus, ids, a.log, loginCfg)
	a.activity = saga.NewActivityFlow(record, login, a.syncPoints, a.evaluate, cfg.Gamification.AutoEvaluate, a.log).
		WithAutoEvaluateGate(cfg.Features.Gate(config.FeatureAutoEvaluate))

	var cache profile.Cache
	if a.profileCache != nil {
		cache = a.profileCache
	}
	var board profile.Leaderboard
	if a.ranking != nil {
		board = a.ranking
	}
	a.profileSummary = query.NewGetProfileSummaryHandler(s.Profiles, s.Earned, cache, cfg.Gamification.ProfileCacheTTL, a.log)
	a.leaderboard = query.NewGetLeaderboardHandler(s.Profiles, board, a.log)
	a.achievements = query.NewListAchievementsHandler(s.Catalog, s.Earned)
	a.activityStats = query.NewGetActivityStatsHandler(s.Ledger)
}

// Close releases everything in reverse order of construction.
func (a *app) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn("failed to close event bus", logger.Err(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close Redis", logger.Err(err))
		}
	}
	a.store.Close()
}
