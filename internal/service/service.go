// Package service runs the long-lived tick loop: counter rollover, a
// scheduler pass, heartbeats, and periodic maintenance, until a
// shutdown signal cancels it.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhalvorsen/lookout/internal/events"
	"github.com/mhalvorsen/lookout/internal/modules/settings"
	"github.com/mhalvorsen/lookout/internal/modules/status"
	"github.com/mhalvorsen/lookout/internal/scheduler"
)

// Clock abstracts time for the loop.
type Clock interface {
	Now() time.Time
}

// Service is the top-level loop.
type Service struct {
	scheduler   *scheduler.Scheduler
	status      *status.Repository
	settings    settings.Reader
	maintenance *Maintenance
	bus         *events.Bus
	clock       Clock
	log         zerolog.Logger
}

// Deps bundles the service's collaborators. Maintenance may be nil.
type Deps struct {
	Scheduler   *scheduler.Scheduler
	Status      *status.Repository
	Settings    settings.Reader
	Maintenance *Maintenance
	Bus         *events.Bus
	Clock       Clock
}

func New(d Deps, log zerolog.Logger) *Service {
	return &Service{
		scheduler:   d.Scheduler,
		status:      d.Status,
		settings:    d.Settings,
		maintenance: d.Maintenance,
		bus:         d.Bus,
		clock:       d.Clock,
		log:         log.With().Str("component", "service").Logger(),
	}
}

// Run claims the single-instance lock and ticks until ctx is canceled.
// On shutdown the heartbeat is flushed with state "stopped".
func (s *Service) Run(ctx context.Context) error {
	interval := s.tickInterval()
	if err := s.status.Claim(interval); err != nil {
		return fmt.Errorf("failed to claim service instance: %w", err)
	}
	s.log.Info().Dur("tick_interval", interval).Msg("service started")

	for {
		s.tick(ctx)

		// Re-read each cycle so setting changes apply without restart.
		interval = s.tickInterval()
		select {
		case <-ctx.Done():
			if err := s.status.Heartbeat("stopped", "", 0); err != nil {
				s.log.Warn().Err(err).Msg("failed to flush stopped heartbeat")
			}
			s.log.Info().Msg("service stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	start := s.clock.Now()

	if err := s.status.Heartbeat("busy", "scheduler pass", 0); err != nil {
		s.log.Warn().Err(err).Msg("heartbeat failed")
	}

	if rolled, err := s.status.RolloverIfNewDay(start); err != nil {
		s.log.Warn().Err(err).Msg("counter rollover failed")
	} else if rolled {
		s.log.Info().Msg("daily counters rolled over")
	}

	if err := s.scheduler.Pass(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("scheduler pass failed")
	}

	if s.maintenance != nil {
		s.maintenance.MaybeRun(ctx, start)
	}

	elapsed := time.Since(start)
	if err := s.status.Heartbeat("idle", "", elapsed); err != nil {
		s.log.Warn().Err(err).Msg("heartbeat failed")
	}
	s.bus.Publish(events.TypeServiceTick, map[string]any{"duration_ms": elapsed.Milliseconds()})
}

func (s *Service) tickInterval() time.Duration {
	secs, _ := s.settings.GetInt(settings.KeyTickIntervalSeconds, settings.DefaultTickIntervalSecs)
	if secs < 1 {
		secs = settings.DefaultTickIntervalSecs
	}
	return time.Duration(secs) * time.Second
}
