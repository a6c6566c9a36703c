package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/lookout/internal/clock"
	"github.com/mhalvorsen/lookout/internal/events"
	"github.com/mhalvorsen/lookout/internal/modules/runs"
	"github.com/mhalvorsen/lookout/internal/modules/schedules"
	"github.com/mhalvorsen/lookout/internal/modules/settings"
	"github.com/mhalvorsen/lookout/internal/modules/status"
	"github.com/mhalvorsen/lookout/internal/modules/watchlist"
	"github.com/mhalvorsen/lookout/internal/pipeline"
	"github.com/mhalvorsen/lookout/internal/testsupport"
)

type stubEngine struct {
	mu       sync.Mutex
	requests []pipeline.Request
	err      error
	runsRepo *runs.Repository
}

func (s *stubEngine) RunAnalysis(ctx context.Context, req pipeline.Request) (*runs.AnalysisResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.err != nil {
		_ = s.runsRepo.Finish(req.RunID, runs.Outcome{Status: runs.StatusFailed, Error: s.err.Error()})
		return nil, s.err
	}
	_ = s.runsRepo.Finish(req.RunID, runs.Outcome{Status: runs.StatusCompleted, Recommendation: "HOLD", Confidence: 50})
	return &runs.AnalysisResult{RunID: req.RunID, Ticker: req.Ticker, Recommendation: "HOLD", Confidence: 50}, nil
}

func (s *stubEngine) tickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r.Ticker)
	}
	return out
}

type schedHarness struct {
	sched    *Scheduler
	repo     *schedules.Repository
	watch    *watchlist.Repository
	runs     *runs.Repository
	status   *status.Repository
	settings *settings.Repository
	engine   *stubEngine
	cal      *clock.Calendar
	now      time.Time
}

// Tuesday 2026-08-25 10:00 ET, inside market hours.
var tradingMorning = time.Date(2026, 8, 25, 10, 0, 0, 0, mustLoadET())

func mustLoadET() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}

func newSchedHarness(t *testing.T, now time.Time) *schedHarness {
	t.Helper()
	db := testsupport.NewDB(t)
	log := zerolog.Nop()

	cal, err := clock.NewCalendar("America/New_York")
	require.NoError(t, err)

	h := &schedHarness{
		repo:     schedules.NewRepository(db.Conn(), log),
		watch:    watchlist.NewRepository(db.Conn(), log),
		runs:     runs.NewRepository(db.Conn(), log),
		status:   status.NewRepository(db.Conn(), log),
		settings: settings.NewRepository(db.Conn(), nil, log),
		cal:      cal,
		now:      now,
	}
	h.engine = &stubEngine{runsRepo: h.runs}
	h.sched = New(Deps{
		Schedules: h.repo,
		Watchlist: h.watch,
		Runs:      h.runs,
		Status:    h.status,
		Settings:  h.settings,
		Engine:    h.engine,
		Calendar:  cal,
		Clock:     clock.Fixed(now),
		Bus:       events.NewBus(),
	}, log)
	return h
}

func (h *schedHarness) addSchedule(t *testing.T, s *schedules.Schedule) *schedules.Schedule {
	t.Helper()
	if s.NextRunAt == nil {
		past := h.now.Add(-time.Minute)
		s.NextRunAt = &past
	}
	require.NoError(t, h.repo.Create(s))
	return s
}

func TestPassDispatchesDueSchedule(t *testing.T) {
	h := newSchedHarness(t, tradingMorning)
	require.NoError(t, h.watch.Upsert(&watchlist.Stock{Ticker: "NVDA", Enabled: true, Priority: 5}))
	h.addSchedule(t, &schedules.Schedule{
		Name: "nvda-daily", TaskKind: schedules.TaskAnalyzeStock, Ticker: "NVDA",
		Frequency: schedules.FreqDaily, TimeOfDay: "09:35", Enabled: true,
	})

	require.NoError(t, h.sched.Pass(context.Background()))

	require.Len(t, h.engine.requests, 1)
	assert.Equal(t, "NVDA", h.engine.requests[0].Ticker)
	assert.Equal(t, pipeline.KindStock, h.engine.requests[0].Kind)

	// Daily schedule moved to tomorrow and reset its fail streak.
	list, err := h.repo.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].NextRunAt)
	assert.True(t, list[0].NextRunAt.After(tradingMorning))
	assert.Equal(t, 0, list[0].ConsecutiveFails)
	assert.Equal(t, 1, list[0].RunCount)
}

func TestPassMarketHoursGate(t *testing.T) {
	atClose := time.Date(2026, 8, 25, 16, 0, 0, 0, mustLoadET())
	beforeClose := time.Date(2026, 8, 25, 15, 59, 0, 0, mustLoadET())

	t.Run("runs at 15:59", func(t *testing.T) {
		h := newSchedHarness(t, beforeClose)
		require.NoError(t, h.watch.Upsert(&watchlist.Stock{Ticker: "AAPL", Enabled: true}))
		h.addSchedule(t, &schedules.Schedule{
			Name: "gated", TaskKind: schedules.TaskAnalyzeStock, Ticker: "AAPL",
			Frequency: schedules.FreqInterval, IntervalMinutes: 30,
			MarketHoursOnly: true, Enabled: true,
		})
		require.NoError(t, h.sched.Pass(context.Background()))
		assert.Len(t, h.engine.requests, 1)
	})

	t.Run("defers at 16:00 without state change", func(t *testing.T) {
		h := newSchedHarness(t, atClose)
		require.NoError(t, h.watch.Upsert(&watchlist.Stock{Ticker: "AAPL", Enabled: true}))
		s := h.addSchedule(t, &schedules.Schedule{
			Name: "gated", TaskKind: schedules.TaskAnalyzeStock, Ticker: "AAPL",
			Frequency: schedules.FreqInterval, IntervalMinutes: 30,
			MarketHoursOnly: true, Enabled: true,
		})
		require.NoError(t, h.sched.Pass(context.Background()))
		assert.Empty(t, h.engine.requests)

		// Still due for the next tick: nothing moved.
		got, err := h.repo.Get(s.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.RunCount)
		require.NotNil(t, got.NextRunAt)
		assert.True(t, got.NextRunAt.Before(atClose))
	})
}

func TestPassTradingDayGate(t *testing.T) {
	saturday := time.Date(2026, 8, 29, 10, 0, 0, 0, mustLoadET())
	h := newSchedHarness(t, saturday)
	require.NoError(t, h.watch.Upsert(&watchlist.Stock{Ticker: "AAPL", Enabled: true}))
	h.addSchedule(t, &schedules.Schedule{
		Name: "weekday-only", TaskKind: schedules.TaskAnalyzeStock, Ticker: "AAPL",
		Frequency: schedules.FreqInterval, IntervalMinutes: 30,
		TradingDaysOnly: true, Enabled: true,
	})

	require.NoError(t, h.sched.Pass(context.Background()))
	assert.Empty(t, h.engine.requests)
}

func TestPassMaxRunsPerDay(t *testing.T) {
	h := newSchedHarness(t, tradingMorning)
	require.NoError(t, h.watch.Upsert(&watchlist.Stock{Ticker: "NVDA", Enabled: true}))
	s := h.addSchedule(t, &schedules.Schedule{
		Name: "interval", TaskKind: schedules.TaskAnalyzeStock, Ticker: "NVDA",
		Frequency: schedules.FreqInterval, IntervalMinutes: 1,
		MaxRunsPerDay: 1, Enabled: true,
	})

	require.NoError(t, h.sched.Pass(context.Background()))
	require.Len(t, h.engine.requests, 1)

	// Force it due again today; the daily cap defers it.
	require.NoError(t, h.repo.SetNextRun(s.ID, h.now.Add(-time.Second)))
	require.NoError(t, h.sched.Pass(context.Background()))
	assert.Len(t, h.engine.requests, 1)
}

func TestPassCircuitBreakerTrips(t *testing.T) {
	h := newSchedHarness(t, tradingMorning)
	require.NoError(t, h.watch.Upsert(&watchlist.Stock{Ticker: "NVDA", Enabled: true}))
	h.engine.err = errors.New("reasoning failed")

	s := h.addSchedule(t, &schedules.Schedule{
		Name: "flaky", TaskKind: schedules.TaskAnalyzeStock, Ticker: "NVDA",
		Frequency: schedules.FreqInterval, IntervalMinutes: 1,
		MaxRunsPerDay: 10, MaxConsecutiveFails: 3, Enabled: true,
	})

	// Two failures leave the schedule due; the third trips the breaker.
	for i := 0; i < 3; i++ {
		require.NoError(t, h.repo.SetNextRun(s.ID, h.now.Add(-time.Second)))
		// Distinct tick boundaries so idempotent start does not collapse
		// the attempts.
		tick := h.now.Add(time.Duration(i) * time.Second)
		h.sched.clock = clock.Fixed(tick)
		require.NoError(t, h.sched.Pass(context.Background()))
	}

	got, err := h.repo.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ConsecutiveFails)
	assert.Equal(t, 3, got.FailCount)
	assert.True(t, got.Tripped())

	// Tripped schedules fall out of due selection entirely.
	require.NoError(t, h.repo.SetNextRun(s.ID, h.now.Add(-time.Second)))
	due, err := h.repo.ListDue(h.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	// Manual reset restores it.
	require.NoError(t, h.repo.ResetBreaker(s.ID))
	due, err = h.repo.ListDue(h.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestPassIdempotentWithinTick(t *testing.T) {
	h := newSchedHarness(t, tradingMorning)
	require.NoError(t, h.watch.Upsert(&watchlist.Stock{Ticker: "NVDA", Enabled: true}))
	s := h.addSchedule(t, &schedules.Schedule{
		Name: "tick", TaskKind: schedules.TaskAnalyzeStock, Ticker: "NVDA",
		Frequency: schedules.FreqInterval, IntervalMinutes: 1,
		MaxRunsPerDay: 10, Enabled: true,
	})

	require.NoError(t, h.sched.Pass(context.Background()))
	// Same instant again: the idempotency key suppresses a second run.
	require.NoError(t, h.repo.SetNextRun(s.ID, h.now.Add(-time.Second)))
	require.NoError(t, h.sched.Pass(context.Background()))

	assert.Len(t, h.engine.requests, 1)
	recent, err := h.runs.Recent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestPassWatchlistFanOut(t *testing.T) {
	h := newSchedHarness(t, tradingMorning)
	for _, ticker := range []string{"MSFT", "AAPL", "AMD"} {
		require.NoError(t, h.watch.Upsert(&watchlist.Stock{Ticker: ticker, Enabled: true, Priority: 5}))
	}
	h.addSchedule(t, &schedules.Schedule{
		Name: "watchlist", TaskKind: schedules.TaskAnalyzeWatchlist,
		Frequency: schedules.FreqDaily, TimeOfDay: "09:35", Enabled: true,
	})

	require.NoError(t, h.sched.Pass(context.Background()))

	got := h.engine.tickers()
	sort.Strings(got)
	assert.Equal(t, []string{"AAPL", "AMD", "MSFT"}, got)

	// Batch run plus one ad-hoc run per stock, all terminal.
	recent, err := h.runs.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	for _, r := range recent {
		assert.True(t, runs.Terminal(r.Status), "run %d status %s", r.ID, r.Status)
	}
}

func TestPassOnceDisablesSchedule(t *testing.T) {
	h := newSchedHarness(t, tradingMorning)
	require.NoError(t, h.watch.Upsert(&watchlist.Stock{Ticker: "NVDA", Enabled: true}))
	s := h.addSchedule(t, &schedules.Schedule{
		Name: "one-shot", TaskKind: schedules.TaskAnalyzeStock, Ticker: "NVDA",
		Frequency: schedules.FreqOnce, Enabled: true,
	})

	require.NoError(t, h.sched.Pass(context.Background()))
	require.Len(t, h.engine.requests, 1)

	got, err := h.repo.Get(s.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRunAt)
}

func TestNextRunFrequencies(t *testing.T) {
	cal, err := clock.NewCalendar("America/New_York")
	require.NoError(t, err)
	loc := cal.Location()
	// Friday morning.
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, loc)

	t.Run("once", func(t *testing.T) {
		s := &schedules.Schedule{Frequency: schedules.FreqOnce}
		assert.Nil(t, nextRun(s, nil, now, cal))
	})

	t.Run("daily skips weekend when trading days only", func(t *testing.T) {
		s := &schedules.Schedule{Frequency: schedules.FreqDaily, TimeOfDay: "09:35", TradingDaysOnly: true}
		next := nextRun(s, nil, now, cal)
		require.NotNil(t, next)
		// Friday + 1 = Saturday, pushed to Monday.
		assert.Equal(t, time.Monday, next.Weekday())
		assert.Equal(t, 9, next.Hour())
		assert.Equal(t, 35, next.Minute())
	})

	t.Run("daily plain", func(t *testing.T) {
		s := &schedules.Schedule{Frequency: schedules.FreqDaily, TimeOfDay: "09:35"}
		next := nextRun(s, nil, now, cal)
		require.NotNil(t, next)
		assert.Equal(t, time.Saturday, next.Weekday())
	})

	t.Run("weekly", func(t *testing.T) {
		s := &schedules.Schedule{Frequency: schedules.FreqWeekly, DayOfWeek: 1, TimeOfDay: "08:00"}
		next := nextRun(s, nil, now, cal)
		require.NotNil(t, next)
		assert.Equal(t, time.Monday, next.Weekday())
		assert.True(t, next.After(now))
	})

	t.Run("interval", func(t *testing.T) {
		s := &schedules.Schedule{Frequency: schedules.FreqInterval, IntervalMinutes: 45}
		next := nextRun(s, nil, now, cal)
		require.NotNil(t, next)
		assert.Equal(t, now.Add(45*time.Minute), *next)
	})

	t.Run("pre earnings", func(t *testing.T) {
		earnings := time.Date(2026, 9, 10, 0, 0, 0, 0, loc)
		s := &schedules.Schedule{Frequency: schedules.FreqPreEarnings, DaysBeforeEarnings: 3, TimeOfDay: "08:00"}
		next := nextRun(s, &earnings, now, cal)
		require.NotNil(t, next)
		assert.Equal(t, time.Date(2026, 9, 7, 8, 0, 0, 0, loc), *next)
	})

	t.Run("pre earnings already past rolls a week", func(t *testing.T) {
		earnings := time.Date(2026, 8, 29, 0, 0, 0, 0, loc)
		s := &schedules.Schedule{Frequency: schedules.FreqPreEarnings, DaysBeforeEarnings: 3, TimeOfDay: "08:00"}
		next := nextRun(s, &earnings, now, cal)
		require.NotNil(t, next)
		assert.Equal(t, time.Date(2026, 9, 2, 8, 0, 0, 0, loc), *next)
	})

	t.Run("post earnings", func(t *testing.T) {
		earnings := time.Date(2026, 9, 10, 0, 0, 0, 0, loc)
		s := &schedules.Schedule{Frequency: schedules.FreqPostEarnings, DaysAfterEarnings: 1, TimeOfDay: "08:00"}
		next := nextRun(s, &earnings, now, cal)
		require.NotNil(t, next)
		assert.Equal(t, time.Date(2026, 9, 11, 8, 0, 0, 0, loc), *next)
	})

	t.Run("earnings without date", func(t *testing.T) {
		s := &schedules.Schedule{Frequency: schedules.FreqPreEarnings, DaysBeforeEarnings: 3}
		assert.Nil(t, nextRun(s, nil, now, cal))
	})

	t.Run("cron", func(t *testing.T) {
		s := &schedules.Schedule{Frequency: schedules.FreqCron, CronExpr: "30 9 * * 1-5"}
		next := nextRun(s, nil, now, cal)
		require.NotNil(t, next)
		assert.Equal(t, 9, next.Hour())
		assert.Equal(t, 30, next.Minute())
		assert.True(t, next.After(now))
	})
}
