// Package scheduler selects due schedules each tick, gates them on the
// trading calendar and daily budgets, and dispatches work into the
// pipeline. One schedule's failure never aborts a pass.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/mhalvorsen/lookout/internal/clock"
	"github.com/mhalvorsen/lookout/internal/events"
	"github.com/mhalvorsen/lookout/internal/modules/runs"
	"github.com/mhalvorsen/lookout/internal/modules/schedules"
	"github.com/mhalvorsen/lookout/internal/modules/settings"
	"github.com/mhalvorsen/lookout/internal/modules/status"
	"github.com/mhalvorsen/lookout/internal/modules/watchlist"
	"github.com/mhalvorsen/lookout/internal/pipeline"
)

// AnalysisRunner is the pipeline entry point the scheduler dispatches
// into. The production binding is *pipeline.Engine.
type AnalysisRunner interface {
	RunAnalysis(ctx context.Context, req pipeline.Request) (*runs.AnalysisResult, error)
}

// Scheduler walks due schedules once per tick.
type Scheduler struct {
	schedules *schedules.Repository
	watchlist *watchlist.Repository
	runs      *runs.Repository
	status    *status.Repository
	settings  settings.Reader
	engine    AnalysisRunner
	calendar  *clock.Calendar
	clock     clock.Clock
	bus       *events.Bus
	log       zerolog.Logger
}

// Deps bundles the scheduler's collaborators.
type Deps struct {
	Schedules *schedules.Repository
	Watchlist *watchlist.Repository
	Runs      *runs.Repository
	Status    *status.Repository
	Settings  settings.Reader
	Engine    AnalysisRunner
	Calendar  *clock.Calendar
	Clock     clock.Clock
	Bus       *events.Bus
}

func New(d Deps, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		schedules: d.Schedules,
		watchlist: d.Watchlist,
		runs:      d.Runs,
		status:    d.Status,
		settings:  d.Settings,
		engine:    d.Engine,
		calendar:  d.Calendar,
		clock:     d.Clock,
		bus:       d.Bus,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Pass processes every due schedule once. Errors are logged per
// schedule and never abort the pass; only context cancellation stops
// it early.
func (s *Scheduler) Pass(ctx context.Context) error {
	now := s.clock.Now()
	due, err := s.schedules.ListDue(now)
	if err != nil {
		return fmt.Errorf("failed to list due schedules: %w", err)
	}

	for _, sched := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.process(ctx, sched, now); err != nil {
			s.log.Error().Err(err).Int64("schedule_id", sched.ID).Str("name", sched.Name).Msg("schedule processing failed")
		}
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, sched *schedules.Schedule, now time.Time) error {
	log := s.log.With().Int64("schedule_id", sched.ID).Str("name", sched.Name).Logger()

	// Calendar and budget gates skip without any schedule state change,
	// so the schedule stays due and fires once the gate opens.
	if sched.MarketHoursOnly && !s.calendar.IsMarketHours(now) {
		log.Debug().Msg("outside market hours, deferring")
		return nil
	}
	if sched.TradingDaysOnly && !s.calendar.IsTradingDay(now) {
		log.Debug().Msg("not a trading day, deferring")
		return nil
	}
	runsToday, err := s.schedules.RunsToday(sched.ID, now)
	if err != nil {
		return err
	}
	if runsToday >= sched.MaxRunsPerDay {
		log.Debug().Int("runs_today", runsToday).Msg("daily run cap reached, deferring")
		return nil
	}

	runID, created, err := s.schedules.MarkStarted(sched, now)
	if err != nil {
		return err
	}
	if !created {
		// Same tick boundary already produced this run; a crashed or
		// concurrent pass got here first.
		log.Debug().Int64("run_id", runID).Msg("run already started for this tick")
		return nil
	}

	runErr := s.dispatch(ctx, sched, runID)

	outcome := runs.StatusCompleted
	errMsg := ""
	if runErr != nil {
		outcome = runs.StatusFailed
		errMsg = runErr.Error()
	}

	next := s.computeNext(sched, now)
	if err := s.schedules.MarkCompleted(sched.ID, outcome, errMsg, next); err != nil {
		return err
	}
	if sched.Frequency == schedules.FreqOnce {
		if err := s.schedules.DisableAfterOnce(sched.ID); err != nil {
			log.Warn().Err(err).Msg("failed to disable one-shot schedule")
		}
	}

	if runErr != nil && sched.ConsecutiveFails+1 >= sched.MaxConsecutiveFails {
		log.Warn().Int("consecutive_fails", sched.ConsecutiveFails+1).Msg("schedule circuit breaker tripped")
		s.bus.Publish(events.TypeScheduleTripped, map[string]any{
			"schedule_id": sched.ID, "name": sched.Name,
		})
	}
	return runErr
}

// dispatch routes a started schedule to its task. The run identified
// by runID is driven to a terminal state on every path.
func (s *Scheduler) dispatch(ctx context.Context, sched *schedules.Schedule, runID int64) error {
	switch sched.TaskKind {
	case schedules.TaskAnalyzeStock, schedules.TaskPostmortem:
		_, err := s.engine.RunAnalysis(ctx, pipeline.Request{
			RunID:      runID,
			Ticker:     sched.Ticker,
			Kind:       analysisKind(sched),
			ScheduleID: &sched.ID,
		})
		return err

	case schedules.TaskPortfolioReview:
		_, err := s.engine.RunAnalysis(ctx, pipeline.Request{
			RunID:      runID,
			Ticker:     pipeline.PortfolioTicker,
			Kind:       pipeline.KindReview,
			ScheduleID: &sched.ID,
		})
		return err

	case schedules.TaskPipeline:
		result, err := s.engine.RunAnalysis(ctx, pipeline.Request{
			RunID:      runID,
			Ticker:     sched.Ticker,
			Kind:       analysisKind(sched),
			ScheduleID: &sched.ID,
		})
		if err != nil {
			return err
		}
		s.maybeExecute(sched, result)
		return nil

	case schedules.TaskAnalyzeWatchlist:
		return s.analyzeWatchlist(ctx, sched, runID)

	default:
		// Scanner and custom tasks run in external collaborators; the
		// run only records the dispatch.
		s.log.Info().Str("task_kind", string(sched.TaskKind)).Msg("deferring task to external collaborator")
		return s.runs.Finish(runID, runs.Outcome{
			Status:    runs.StatusSkipped,
			Error:     fmt.Sprintf("task kind %s handled externally", sched.TaskKind),
			RawOutput: "",
		})
	}
}

// analyzeWatchlist fans one run out across every enabled stock,
// bounded by max_concurrent_analyses. Stocks are dispatched in
// (priority desc, ticker asc) order; per-ticker failures are
// independent.
func (s *Scheduler) analyzeWatchlist(ctx context.Context, sched *schedules.Schedule, batchRunID int64) error {
	stocks, err := s.watchlist.ListEnabled()
	if err != nil {
		finishErr := s.runs.Finish(batchRunID, runs.Outcome{Status: runs.StatusFailed, Error: err.Error()})
		if finishErr != nil {
			s.log.Error().Err(finishErr).Msg("failed to finish batch run")
		}
		return err
	}

	maxConcurrent, _ := s.settings.GetInt(settings.KeyMaxConcurrentAnalyses, settings.DefaultMaxConcurrentAnalyses)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	sem := semaphore.NewWeighted(int64(maxConcurrent))

	failures := 0
	done := make(chan error, len(stocks))
	launched := 0
	for _, stock := range stocks {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		stock := stock
		launched++
		go func() {
			defer sem.Release(1)
			runID, err := s.runs.CreateAdhoc(string(schedules.TaskAnalyzeStock), stock.Ticker, analysisKindFor(stock))
			if err != nil {
				done <- err
				return
			}
			_, err = s.engine.RunAnalysis(ctx, pipeline.Request{
				RunID:      runID,
				Ticker:     stock.Ticker,
				Kind:       analysisKindFor(stock),
				ScheduleID: &sched.ID,
			})
			done <- err
		}()
	}
	for i := 0; i < launched; i++ {
		if err := <-done; err != nil {
			failures++
		}
	}

	outcome := runs.Outcome{
		Status:    runs.StatusCompleted,
		RawOutput: fmt.Sprintf("watchlist pass: %d stocks, %d failed", launched, failures),
	}
	if launched > 0 && failures == launched {
		outcome.Status = runs.StatusFailed
		outcome.Error = "every watchlist analysis failed"
	}
	if err := s.runs.Finish(batchRunID, outcome); err != nil {
		return err
	}
	if outcome.Status == runs.StatusFailed {
		return fmt.Errorf("watchlist pass failed: %d/%d analyses failed", failures, launched)
	}
	return nil
}

// maybeExecute counts an execution slot when a gate-passing pipeline
// result is eligible for auto-execution. The execution stage itself
// lives in an external collaborator.
func (s *Scheduler) maybeExecute(sched *schedules.Schedule, result *runs.AnalysisResult) {
	if result == nil || !result.GatePassed {
		return
	}
	autoExec, _ := s.settings.GetBool(settings.KeyAutoExecuteEnabled, settings.DefaultAutoExecuteEnabled)
	if !autoExec {
		return
	}
	maxExec, _ := s.settings.GetInt(settings.KeyMaxDailyExecutions, settings.DefaultMaxDailyExecutions)
	today, err := s.status.TodayExecutions()
	if err != nil || today >= maxExec {
		s.log.Info().Int("today", today).Msg("execution budget exhausted, not executing")
		return
	}
	if err := s.status.IncrementTodayExecutions(); err != nil {
		s.log.Warn().Err(err).Msg("failed to bump execution counter")
		return
	}
	s.log.Info().Str("ticker", result.Ticker).Int64("schedule_id", sched.ID).Msg("analysis handed to execution stage")
}

// computeNext resolves the schedule's next firing, looking up the
// stock's earnings date for earnings-relative frequencies.
func (s *Scheduler) computeNext(sched *schedules.Schedule, now time.Time) *time.Time {
	var earnings *time.Time
	if sched.Frequency == schedules.FreqPreEarnings || sched.Frequency == schedules.FreqPostEarnings {
		if stock, err := s.watchlist.Get(sched.Ticker); err == nil && stock != nil {
			earnings = stock.NextEarningsDate
		}
	}
	return nextRun(sched, earnings, now, s.calendar)
}

func analysisKind(sched *schedules.Schedule) string {
	if sched.AnalysisKind != "" {
		return sched.AnalysisKind
	}
	if sched.TaskKind == schedules.TaskPostmortem {
		return pipeline.KindPostmortem
	}
	return pipeline.KindStock
}

func analysisKindFor(stock *watchlist.Stock) string {
	if stock.AnalysisKind != "" {
		return stock.AnalysisKind
	}
	return pipeline.KindStock
}
