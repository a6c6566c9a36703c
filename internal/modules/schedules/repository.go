package schedules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhalvorsen/lookout/internal/database"
)

const scheduleColumns = `id, name, task_kind, ticker, scanner_id, tags, analysis_kind,
frequency, time_of_day, day_of_week, interval_minutes, days_before_earnings,
days_after_earnings, cron_expr, market_hours_only, trading_days_only,
max_runs_per_day, timeout_seconds, priority, enabled, run_count, fail_count,
consecutive_fails, max_consecutive_fails, last_run_at, last_run_status,
next_run_at, created_at, updated_at`

// Repository handles schedule database operations, including the
// transactional run bookkeeping that couples schedules to runs.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new schedule repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "schedules").Logger(),
	}
}

// Create inserts a new schedule after validation.
func (r *Repository) Create(s *Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	tags, err := json.Marshal(s.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	now := time.Now().Unix()
	res, err := r.db.Exec(`
		INSERT INTO schedules (name, task_kind, ticker, scanner_id, tags, analysis_kind,
			frequency, time_of_day, day_of_week, interval_minutes, days_before_earnings,
			days_after_earnings, cron_expr, market_hours_only, trading_days_only,
			max_runs_per_day, timeout_seconds, priority, enabled, max_consecutive_fails,
			next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Name, string(s.TaskKind), strings.ToUpper(s.Ticker), s.ScannerID, string(tags),
		s.AnalysisKind, string(s.Frequency), s.TimeOfDay, s.DayOfWeek, s.IntervalMinutes,
		s.DaysBeforeEarnings, s.DaysAfterEarnings, s.CronExpr, s.MarketHoursOnly,
		s.TradingDaysOnly, s.MaxRunsPerDay, s.TimeoutSeconds, s.Priority, s.Enabled,
		s.MaxConsecutiveFails, timePtrToUnix(s.NextRunAt), now, now)
	if err != nil {
		return database.Classify(fmt.Errorf("failed to create schedule %s: %w", s.Name, err))
	}

	s.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read schedule id: %w", err)
	}
	return nil
}

// Get returns a schedule by id, or nil if not found.
func (r *Repository) Get(id int64) (*Schedule, error) {
	rows, err := r.db.Query("SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	return scanSchedule(rows)
}

// List returns all schedules ordered by priority then id.
func (r *Repository) List() ([]*Schedule, error) {
	rows, err := r.db.Query("SELECT " + scheduleColumns + " FROM schedules ORDER BY priority DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListDue returns schedules that are enabled, due at now, and not
// tripped by the circuit breaker, in stable processing order:
// priority desc, next_run_at asc, id asc.
func (r *Repository) ListDue(now time.Time) ([]*Schedule, error) {
	rows, err := r.db.Query(`
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= ?
		  AND consecutive_fails < max_consecutive_fails
		ORDER BY priority DESC, next_run_at ASC, id ASC
	`, now.Unix())
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to list due schedules: %w", err))
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// MarkStarted creates a running Run row for the schedule and bumps its
// run count. Idempotent per (schedule_id, tick): the triggering instant
// is truncated to the second and recorded as the run's tick key, so a
// crash-and-replay of the same due moment returns the existing run id
// instead of starting a second run.
func (r *Repository) MarkStarted(s *Schedule, tick time.Time) (runID int64, created bool, err error) {
	tickKey := tick.UTC().Truncate(time.Second).Format("20060102T150405")

	err = database.WithRetry(r.db, func(tx *sql.Tx) error {
		// A prior insert for this tick wins.
		var existing int64
		scanErr := tx.QueryRow(
			"SELECT id FROM runs WHERE schedule_id = ? AND tick_key = ?",
			s.ID, tickKey,
		).Scan(&existing)
		if scanErr == nil {
			runID = existing
			created = false
			return nil
		}
		if scanErr != sql.ErrNoRows {
			return fmt.Errorf("failed to check existing run: %w", scanErr)
		}

		now := time.Now()
		res, insErr := tx.Exec(`
			INSERT INTO runs (schedule_id, tick_key, task_kind, ticker, analysis_kind,
				status, started_at, created_at)
			VALUES (?, ?, ?, ?, ?, 'running', ?, ?)
		`, s.ID, tickKey, string(s.TaskKind), s.Ticker, s.AnalysisKind, now.Unix(), now.Unix())
		if insErr != nil {
			return fmt.Errorf("failed to insert run: %w", insErr)
		}
		runID, insErr = res.LastInsertId()
		if insErr != nil {
			return fmt.Errorf("failed to read run id: %w", insErr)
		}

		_, insErr = tx.Exec(
			"UPDATE schedules SET run_count = run_count + 1, updated_at = ? WHERE id = ?",
			now.Unix(), s.ID,
		)
		if insErr != nil {
			return fmt.Errorf("failed to bump run count: %w", insErr)
		}
		created = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return runID, created, nil
}

// MarkCompleted records the outcome of a run on its schedule: resets
// the consecutive-fail counter on success, increments fail counters on
// failure, and advances next_run_at when the caller computed one.
func (r *Repository) MarkCompleted(scheduleID int64, status, errMsg string, nextRunAt *time.Time) error {
	return database.WithRetry(r.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()

		var query string
		switch status {
		case "completed", "skipped":
			query = `UPDATE schedules SET
				consecutive_fails = CASE WHEN ? = 'completed' THEN 0 ELSE consecutive_fails END,
				last_run_at = ?, last_run_status = ?, updated_at = ?
				WHERE id = ?`
			if _, err := tx.Exec(query, status, now, status, now, scheduleID); err != nil {
				return fmt.Errorf("failed to mark schedule completed: %w", err)
			}
		case "failed":
			query = `UPDATE schedules SET
				fail_count = fail_count + 1,
				consecutive_fails = consecutive_fails + 1,
				last_run_at = ?, last_run_status = ?, updated_at = ?
				WHERE id = ?`
			if _, err := tx.Exec(query, now, status, now, scheduleID); err != nil {
				return fmt.Errorf("failed to mark schedule failed: %w", err)
			}
		default:
			return fmt.Errorf("unknown run status %q", status)
		}

		if nextRunAt != nil {
			if _, err := tx.Exec("UPDATE schedules SET next_run_at = ? WHERE id = ?",
				nextRunAt.Unix(), scheduleID); err != nil {
				return fmt.Errorf("failed to set next run: %w", err)
			}
		}
		return nil
	})
}

// DisableAfterOnce disables a once schedule and clears its next run.
func (r *Repository) DisableAfterOnce(scheduleID int64) error {
	_, err := r.db.Exec(
		"UPDATE schedules SET enabled = 0, next_run_at = NULL, updated_at = ? WHERE id = ?",
		time.Now().Unix(), scheduleID)
	if err != nil {
		return fmt.Errorf("failed to disable once schedule: %w", err)
	}
	return nil
}

// ResetBreaker clears the consecutive-fail counter. This is the manual
// operation that un-trips a circuit-broken schedule.
func (r *Repository) ResetBreaker(scheduleID int64) error {
	res, err := r.db.Exec(
		"UPDATE schedules SET consecutive_fails = 0, updated_at = ? WHERE id = ?",
		time.Now().Unix(), scheduleID)
	if err != nil {
		return fmt.Errorf("failed to reset breaker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %d not found", scheduleID)
	}
	return nil
}

// SetEnabled flips a schedule's enabled flag.
func (r *Repository) SetEnabled(scheduleID int64, enabled bool) error {
	_, err := r.db.Exec("UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, time.Now().Unix(), scheduleID)
	if err != nil {
		return fmt.Errorf("failed to set enabled: %w", err)
	}
	return nil
}

// SetNextRun sets next_run_at directly. Used when a schedule is created
// or explicitly recomputed.
func (r *Repository) SetNextRun(scheduleID int64, at time.Time) error {
	_, err := r.db.Exec("UPDATE schedules SET next_run_at = ?, updated_at = ? WHERE id = ?",
		at.Unix(), time.Now().Unix(), scheduleID)
	if err != nil {
		return fmt.Errorf("failed to set next run: %w", err)
	}
	return nil
}

// RunsToday counts runs created for a schedule since the start of the
// given local day. Used to enforce max_runs_per_day.
func (r *Repository) RunsToday(scheduleID int64, now time.Time) (int, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM runs WHERE schedule_id = ? AND created_at >= ?",
		scheduleID, dayStart.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count today's runs: %w", err)
	}
	return count, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var out []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSchedule(rows *sql.Rows) (*Schedule, error) {
	var s Schedule
	var taskKind, frequency, tags string
	var lastRun, nextRun sql.NullInt64
	var created, updated int64

	err := rows.Scan(&s.ID, &s.Name, &taskKind, &s.Ticker, &s.ScannerID, &tags,
		&s.AnalysisKind, &frequency, &s.TimeOfDay, &s.DayOfWeek, &s.IntervalMinutes,
		&s.DaysBeforeEarnings, &s.DaysAfterEarnings, &s.CronExpr, &s.MarketHoursOnly,
		&s.TradingDaysOnly, &s.MaxRunsPerDay, &s.TimeoutSeconds, &s.Priority, &s.Enabled,
		&s.RunCount, &s.FailCount, &s.ConsecutiveFails, &s.MaxConsecutiveFails,
		&lastRun, &s.LastRunStatus, &nextRun, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	s.TaskKind = TaskKind(taskKind)
	s.Frequency = Frequency(frequency)
	s.CreatedAt = time.Unix(created, 0)
	s.UpdatedAt = time.Unix(updated, 0)
	if lastRun.Valid {
		t := time.Unix(lastRun.Int64, 0)
		s.LastRunAt = &t
	}
	if nextRun.Valid {
		t := time.Unix(nextRun.Int64, 0)
		s.NextRunAt = &t
	}
	if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
		s.Tags = nil
	}
	return &s, nil
}

func timePtrToUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
