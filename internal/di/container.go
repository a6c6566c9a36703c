// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mhalvorsen/lookout/internal/clock"
	"github.com/mhalvorsen/lookout/internal/config"
	"github.com/mhalvorsen/lookout/internal/database"
	"github.com/mhalvorsen/lookout/internal/events"
	"github.com/mhalvorsen/lookout/internal/modules/audit"
	"github.com/mhalvorsen/lookout/internal/modules/cache"
	"github.com/mhalvorsen/lookout/internal/modules/runs"
	"github.com/mhalvorsen/lookout/internal/modules/schedules"
	"github.com/mhalvorsen/lookout/internal/modules/settings"
	"github.com/mhalvorsen/lookout/internal/modules/status"
	"github.com/mhalvorsen/lookout/internal/modules/watchlist"
	"github.com/mhalvorsen/lookout/internal/pipeline"
	"github.com/mhalvorsen/lookout/internal/reasoning"
	"github.com/mhalvorsen/lookout/internal/retrieval"
	"github.com/mhalvorsen/lookout/internal/scheduler"
	"github.com/mhalvorsen/lookout/internal/server"
	"github.com/mhalvorsen/lookout/internal/service"
)

// Container holds all initialized dependencies.
type Container struct {
	DB *database.DB

	// Repositories
	AuditRepo     *audit.Repository
	SettingsRepo  *settings.Repository
	WatchlistRepo *watchlist.Repository
	ScheduleRepo  *schedules.Repository
	RunRepo       *runs.Repository
	StatusRepo    *status.Repository
	CacheRepo     *cache.Repository

	// Services
	Bus         *events.Bus
	Calendar    *clock.Calendar
	Watchlist   *watchlist.Manager
	Invoker     *reasoning.Invoker
	Builder     *retrieval.Builder
	Ingester    *pipeline.Ingester
	Engine      *pipeline.Engine
	Scheduler   *scheduler.Scheduler
	Maintenance *service.Maintenance
	Service     *service.Service
	Server      *server.Server
}

// Wire initializes all dependencies and returns a fully configured
// container. Order of operations: database, repositories, retrieval
// stores, pipeline, scheduler, service loop, admin server.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := database.New(database.Config{Path: cfg.DBPath, Name: "lookout"})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	c := &Container{DB: db, Bus: events.NewBus()}

	conn := db.Conn()
	c.AuditRepo = audit.NewRepository(conn, log)
	c.SettingsRepo = settings.NewRepository(conn, c.AuditRepo, log)
	c.WatchlistRepo = watchlist.NewRepository(conn, log)
	c.ScheduleRepo = schedules.NewRepository(conn, log)
	c.RunRepo = runs.NewRepository(conn, log)
	c.StatusRepo = status.NewRepository(conn, log)
	c.CacheRepo = cache.NewRepository(conn, log)

	if err := cfg.UpdateFromSettings(c.SettingsRepo); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply settings overrides: %w", err)
	}

	c.Calendar, err = clock.NewCalendar(cfg.Timezone)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load trading calendar: %w", err)
	}
	if cfg.HolidaysPath != "" {
		if err := c.Calendar.LoadHolidays(cfg.HolidaysPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load holidays: %w", err)
		}
	}

	c.Watchlist = watchlist.NewManager(c.WatchlistRepo, c.AuditRepo, log)

	// Retrieval stores sit behind circuit breakers so sidecar outages
	// degrade analyses instead of failing them.
	vector := retrieval.NewBreakerVectorStore(retrieval.NewHTTPVectorStore(cfg.VectorStoreURL), log)
	graph := retrieval.NewBreakerGraphStore(retrieval.NewHTTPGraphStore(cfg.GraphStoreURL), log)
	c.Builder = retrieval.NewBuilder(vector, graph, c.RunRepo, c.CacheRepo, log)
	c.Ingester = pipeline.NewIngester(vector, graph, log)

	c.Invoker = reasoning.NewInvoker(cfg.ReasoningBinary, cfg.ReasoningDir, c.SettingsRepo, log)

	sysClock := clock.SystemClock{}
	c.Engine = pipeline.NewEngine(pipeline.Deps{
		Runs:         c.RunRepo,
		Schedules:    c.ScheduleRepo,
		Watchlist:    c.WatchlistRepo,
		Status:       c.StatusRepo,
		Settings:     c.SettingsRepo,
		Invoker:      c.Invoker,
		Builder:      c.Builder,
		Ingester:     c.Ingester,
		Bus:          c.Bus,
		Clock:        sysClock,
		AnalysesDir:  cfg.AnalysesDir,
		Capabilities: cfg.ReasoningCapabilities,
	}, log)

	c.Scheduler = scheduler.New(scheduler.Deps{
		Schedules: c.ScheduleRepo,
		Watchlist: c.WatchlistRepo,
		Runs:      c.RunRepo,
		Status:    c.StatusRepo,
		Settings:  c.SettingsRepo,
		Engine:    c.Engine,
		Calendar:  c.Calendar,
		Clock:     sysClock,
		Bus:       c.Bus,
	}, log)

	c.Maintenance = service.NewMaintenance(db, c.Watchlist, c.AuditRepo, c.CacheRepo,
		cfg.DataDir, cfg.BackupDir, log)

	c.Service = service.New(service.Deps{
		Scheduler:   c.Scheduler,
		Status:      c.StatusRepo,
		Settings:    c.SettingsRepo,
		Maintenance: c.Maintenance,
		Bus:         c.Bus,
		Clock:       sysClock,
	}, log)

	c.Server = server.New(server.Config{
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Log:       log,
		DB:        db,
		Status:    c.StatusRepo,
		Watchlist: c.Watchlist,
		Stocks:    c.WatchlistRepo,
		Schedules: c.ScheduleRepo,
		Runs:      c.RunRepo,
		Settings:  c.SettingsRepo,
		Audit:     c.AuditRepo,
		Engine:    c.Engine,
		Bus:       c.Bus,
	})

	log.Info().Msg("Dependency injection wiring completed")
	return c, nil
}

// Close releases container resources.
func (c *Container) Close() error {
	return c.DB.Close()
}
