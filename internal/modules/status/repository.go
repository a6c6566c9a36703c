// Package status maintains the singleton service-status row: heartbeat,
// daily counters, and the single-instance guard.
package status

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mhalvorsen/lookout/internal/database"
)

// Service states written to the heartbeat.
const (
	StateIdle    = "idle"
	StateBusy    = "busy"
	StateStopped = "stopped"
)

// Status is the singleton service-status row.
type Status struct {
	StartedAt       time.Time `json:"started_at"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
	LastTickMS      int64     `json:"last_tick_ms"`
	State           string    `json:"state"`
	CurrentTask     string    `json:"current_task"`
	PID             int       `json:"pid"`
	Hostname        string    `json:"hostname"`
	TotalRuns       int64     `json:"total_runs"`
	TotalAnalyses   int64     `json:"total_analyses"`
	TotalExecutions int64     `json:"total_executions"`
	TotalErrors     int64     `json:"total_errors"`
	TodayAnalyses   int       `json:"today_analyses"`
	TodayExecutions int       `json:"today_executions"`
	TodayDate       string    `json:"today_date"`
}

// ErrAlreadyRunning is returned when another live process owns the
// service-status row.
var ErrAlreadyRunning = fmt.Errorf("another lookout instance is already running")

// Repository handles service-status database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new status repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "status").Logger(),
	}
}

// Claim registers this process as the running instance. It refuses to
// start when the existing row carries a fresh heartbeat from a
// different, still-alive pid (fresh meaning within two tick intervals).
func (r *Repository) Claim(tickInterval time.Duration) error {
	hostname, _ := os.Hostname()
	pid := os.Getpid()
	now := time.Now()

	return database.WithRetry(r.db, func(tx *sql.Tx) error {
		var existingPID int
		var lastHeartbeat int64
		err := tx.QueryRow("SELECT pid, last_heartbeat FROM service_status WHERE id = 1").
			Scan(&existingPID, &lastHeartbeat)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read service status: %w", err)
		}

		if err == nil && existingPID != 0 && existingPID != pid {
			age := now.Sub(time.Unix(lastHeartbeat, 0))
			if age < 2*tickInterval && processAlive(existingPID) {
				return database.Permanent(fmt.Errorf("%w (pid %d, heartbeat %s ago)",
					ErrAlreadyRunning, existingPID, age.Round(time.Second)))
			}
		}

		_, err = tx.Exec(`
			INSERT INTO service_status (id, started_at, last_heartbeat, state, pid, hostname, today_date)
			VALUES (1, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				started_at = excluded.started_at,
				last_heartbeat = excluded.last_heartbeat,
				state = excluded.state,
				pid = excluded.pid,
				hostname = excluded.hostname
		`, now.Unix(), now.Unix(), StateIdle, pid, hostname, now.Format("2006-01-02"))
		if err != nil {
			return fmt.Errorf("failed to claim service status: %w", err)
		}
		return nil
	})
}

// processAlive reports whether a pid belongs to a live process.
func processAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		// Cannot tell; assume alive so we fail safe.
		return true
	}
	return exists
}

// Heartbeat records a tick: last heartbeat, state, current task, and
// the duration of the previous tick.
func (r *Repository) Heartbeat(state, currentTask string, tickDuration time.Duration) error {
	_, err := r.db.Exec(`
		UPDATE service_status SET last_heartbeat = ?, state = ?, current_task = ?, last_tick_ms = ?
		WHERE id = 1
	`, time.Now().Unix(), state, currentTask, tickDuration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	return nil
}

// Get returns the service-status row, or nil when the service never ran.
func (r *Repository) Get() (*Status, error) {
	var s Status
	var started, heartbeat int64
	err := r.db.QueryRow(`
		SELECT started_at, last_heartbeat, last_tick_ms, state, current_task, pid, hostname,
			total_runs, total_analyses, total_executions, total_errors,
			today_analyses, today_executions, today_date
		FROM service_status WHERE id = 1
	`).Scan(&started, &heartbeat, &s.LastTickMS, &s.State, &s.CurrentTask, &s.PID, &s.Hostname,
		&s.TotalRuns, &s.TotalAnalyses, &s.TotalExecutions, &s.TotalErrors,
		&s.TodayAnalyses, &s.TodayExecutions, &s.TodayDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read service status: %w", err)
	}
	s.StartedAt = time.Unix(started, 0)
	s.LastHeartbeat = time.Unix(heartbeat, 0)
	return &s, nil
}

// TodayAnalyses returns today's analysis count.
func (r *Repository) TodayAnalyses() (int, error) {
	return r.todayCounter("today_analyses")
}

// TodayExecutions returns today's execution count.
func (r *Repository) TodayExecutions() (int, error) {
	return r.todayCounter("today_executions")
}

func (r *Repository) todayCounter(column string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT " + column + " FROM service_status WHERE id = 1").Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", column, err)
	}
	return count, nil
}

// IncrementTodayAnalyses bumps today's and the cumulative analysis
// counters in one transaction.
func (r *Repository) IncrementTodayAnalyses() error {
	return r.increment("today_analyses", "total_analyses")
}

// IncrementTodayExecutions bumps today's and the cumulative execution
// counters in one transaction.
func (r *Repository) IncrementTodayExecutions() error {
	return r.increment("today_executions", "total_executions")
}

func (r *Repository) increment(todayColumn, totalColumn string) error {
	// Upsert so a bump before the first Claim still lands.
	query := fmt.Sprintf(`
		INSERT INTO service_status (id, started_at, last_heartbeat, %s, %s)
		VALUES (1, 0, 0, 1, 1)
		ON CONFLICT(id) DO UPDATE SET %s = %s + 1, %s = %s + 1`,
		todayColumn, totalColumn, todayColumn, todayColumn, totalColumn, totalColumn)
	if _, err := r.db.Exec(query); err != nil {
		return database.Classify(fmt.Errorf("failed to increment %s: %w", todayColumn, err))
	}
	return nil
}

// RolloverIfNewDay zeroes the today-counters when the persisted date
// differs from the current local date. Returns true when a rollover
// happened.
func (r *Repository) RolloverIfNewDay(now time.Time) (bool, error) {
	today := now.Format("2006-01-02")
	rolled := false

	err := database.WithRetry(r.db, func(tx *sql.Tx) error {
		var stored string
		err := tx.QueryRow("SELECT today_date FROM service_status WHERE id = 1").Scan(&stored)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read today_date: %w", err)
		}
		if stored == today {
			return nil
		}

		_, err = tx.Exec(`
			UPDATE service_status SET today_analyses = 0, today_executions = 0, today_date = ?
			WHERE id = 1
		`, today)
		if err != nil {
			return fmt.Errorf("failed to roll over counters: %w", err)
		}
		rolled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if rolled {
		r.log.Info().Str("date", today).Msg("Daily counters rolled over")
	}
	return rolled, nil
}
