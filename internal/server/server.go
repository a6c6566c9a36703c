// Package server exposes the admin HTTP API: status, watchlist,
// schedules, runs, settings, ad-hoc analysis, and an SSE event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/mhalvorsen/lookout/internal/database"
	"github.com/mhalvorsen/lookout/internal/events"
	"github.com/mhalvorsen/lookout/internal/modules/audit"
	"github.com/mhalvorsen/lookout/internal/modules/runs"
	"github.com/mhalvorsen/lookout/internal/modules/schedules"
	"github.com/mhalvorsen/lookout/internal/modules/settings"
	"github.com/mhalvorsen/lookout/internal/modules/status"
	"github.com/mhalvorsen/lookout/internal/modules/watchlist"
	"github.com/mhalvorsen/lookout/internal/pipeline"
)

// Config holds server configuration.
type Config struct {
	Port      int
	DevMode   bool
	Log       zerolog.Logger
	DB        *database.DB
	Status    *status.Repository
	Watchlist *watchlist.Manager
	Stocks    *watchlist.Repository
	Schedules *schedules.Repository
	Runs      *runs.Repository
	Settings  *settings.Repository
	Audit     *audit.Repository
	Engine    *pipeline.Engine
	Bus       *events.Bus
}

// Server is the admin HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	db        *database.DB
	status    *status.Repository
	watchlist *watchlist.Manager
	stocks    *watchlist.Repository
	schedules *schedules.Repository
	runs      *runs.Repository
	settings  *settings.Repository
	audit     *audit.Repository
	engine    *pipeline.Engine
	stream    *EventsStreamHandler
}

// New creates the admin server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		db:        cfg.DB,
		status:    cfg.Status,
		watchlist: cfg.Watchlist,
		stocks:    cfg.Stocks,
		schedules: cfg.Schedules,
		runs:      cfg.Runs,
		settings:  cfg.Settings,
		audit:     cfg.Audit,
		engine:    cfg.Engine,
		stream:    NewEventsStreamHandler(cfg.Bus, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(5 * time.Minute))

	if devMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/", s.handleListWatchlist)
			r.Post("/", s.handleAddStock)
			r.Delete("/{ticker}", s.handleRemoveStock)
			r.Put("/{ticker}/state", s.handleSetStockState)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Get("/{id}", s.handleGetSchedule)
			r.Put("/{id}/enabled", s.handleSetScheduleEnabled)
			r.Post("/{id}/reset", s.handleResetBreaker)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleRecentRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/result", s.handleGetRunResult)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Put("/{key}", s.handleSetSetting)
		})

		r.Post("/analyze", s.handleAnalyze)
		r.Get("/audit", s.handleRecentAudit)
		r.Get("/events/stream", s.stream.ServeHTTP)
	})
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("admin server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
