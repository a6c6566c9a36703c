// Package schedules stores the recurrence rules that produce pipeline
// invocations, and the circuit-breaker bookkeeping around them.
package schedules

import (
	"fmt"
	"time"
)

// TaskKind is the kind of work a schedule dispatches.
type TaskKind string

const (
	TaskAnalyzeStock     TaskKind = "analyze_stock"
	TaskAnalyzeWatchlist TaskKind = "analyze_watchlist"
	TaskRunScanner       TaskKind = "run_scanner"
	TaskRunAllScanners   TaskKind = "run_all_scanners"
	TaskPipeline         TaskKind = "pipeline"
	TaskPortfolioReview  TaskKind = "portfolio_review"
	TaskPostmortem       TaskKind = "postmortem"
	TaskCustom           TaskKind = "custom"
)

// ValidTaskKind reports whether k is a recognized task kind.
// Unknown kinds are rejected at schedule creation.
func ValidTaskKind(k TaskKind) bool {
	switch k {
	case TaskAnalyzeStock, TaskAnalyzeWatchlist, TaskRunScanner, TaskRunAllScanners,
		TaskPipeline, TaskPortfolioReview, TaskPostmortem, TaskCustom:
		return true
	}
	return false
}

// Frequency is a schedule's recurrence rule.
type Frequency string

const (
	FreqOnce         Frequency = "once"
	FreqDaily        Frequency = "daily"
	FreqWeekly       Frequency = "weekly"
	FreqPreEarnings  Frequency = "pre_earnings"
	FreqPostEarnings Frequency = "post_earnings"
	FreqInterval     Frequency = "interval"
	// FreqCron computes the next run from a cron expression. Used by
	// custom schedules.
	FreqCron Frequency = "cron"
)

// ValidFrequency reports whether f is a recognized frequency.
func ValidFrequency(f Frequency) bool {
	switch f {
	case FreqOnce, FreqDaily, FreqWeekly, FreqPreEarnings, FreqPostEarnings, FreqInterval, FreqCron:
		return true
	}
	return false
}

// Schedule is a recurrence rule that produces pipeline invocations.
type Schedule struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	TaskKind            TaskKind   `json:"task_kind"`
	Ticker              string     `json:"ticker"`
	ScannerID           string     `json:"scanner_id"`
	Tags                []string   `json:"tags"`
	AnalysisKind        string     `json:"analysis_kind"`
	Frequency           Frequency  `json:"frequency"`
	TimeOfDay           string     `json:"time_of_day"` // "15:04" wall clock, trading tz
	DayOfWeek           int        `json:"day_of_week"` // 0=Sunday
	IntervalMinutes     int        `json:"interval_minutes"`
	DaysBeforeEarnings  int        `json:"days_before_earnings"`
	DaysAfterEarnings   int        `json:"days_after_earnings"`
	CronExpr            string     `json:"cron_expr"`
	MarketHoursOnly     bool       `json:"market_hours_only"`
	TradingDaysOnly     bool       `json:"trading_days_only"`
	MaxRunsPerDay       int        `json:"max_runs_per_day"`
	TimeoutSeconds      int        `json:"timeout_seconds"`
	Priority            int        `json:"priority"`
	Enabled             bool       `json:"enabled"`
	RunCount            int        `json:"run_count"`
	FailCount           int        `json:"fail_count"`
	ConsecutiveFails    int        `json:"consecutive_fails"`
	MaxConsecutiveFails int        `json:"max_consecutive_fails"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus       string     `json:"last_run_status"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Tripped reports whether the circuit breaker has disabled this
// schedule. A tripped schedule is excluded from due selection until
// its consecutive-fail counter is manually reset.
func (s *Schedule) Tripped() bool {
	return s.MaxConsecutiveFails > 0 && s.ConsecutiveFails >= s.MaxConsecutiveFails
}

// Validate checks schedule fields at creation time.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if !ValidTaskKind(s.TaskKind) {
		return fmt.Errorf("unknown task kind %q", s.TaskKind)
	}
	if !ValidFrequency(s.Frequency) {
		return fmt.Errorf("unknown frequency %q", s.Frequency)
	}
	if s.Frequency == FreqInterval && s.IntervalMinutes <= 0 {
		return fmt.Errorf("interval schedule requires positive interval_minutes")
	}
	if s.Frequency == FreqCron && s.CronExpr == "" {
		return fmt.Errorf("cron schedule requires cron_expr")
	}
	if s.TimeOfDay != "" {
		if _, err := time.Parse("15:04", s.TimeOfDay); err != nil {
			return fmt.Errorf("invalid time_of_day %q: %w", s.TimeOfDay, err)
		}
	}
	if s.MaxConsecutiveFails <= 0 {
		s.MaxConsecutiveFails = 3
	}
	if s.MaxRunsPerDay <= 0 {
		s.MaxRunsPerDay = 1
	}
	if s.Priority <= 0 {
		s.Priority = 5
	}
	return nil
}
