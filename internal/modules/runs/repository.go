package runs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhalvorsen/lookout/internal/database"
)

const runColumns = `id, schedule_id, task_kind, ticker, analysis_kind, status, stage,
gate_passed, recommendation, confidence, expected_value_pct, order_placed, order_id,
artifact_path, started_at, completed_at, duration_ms, error, raw_output, created_at`

const resultColumns = `id, run_id, ticker, analysis_kind, gate_passed, recommendation,
confidence, adjusted_confidence, confidence_modifiers, expected_value_pct, entry_price,
stop_price, target_price, position_size_pct, trade_structure, expiry, strikes,
rationale, snapshot_price, implied_vol, doc_id, created_at`

// Repository handles run and analysis-result database operations.
// Runs are append-mostly: only the owning pipeline invocation
// transitions a run through its states.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new run repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// CreateAdhoc creates a running run without a schedule (manual trigger).
func (r *Repository) CreateAdhoc(taskKind, ticker, analysisKind string) (int64, error) {
	now := time.Now()
	res, err := r.db.Exec(`
		INSERT INTO runs (schedule_id, task_kind, ticker, analysis_kind, status, started_at, created_at)
		VALUES (NULL, ?, ?, ?, 'running', ?, ?)
	`, taskKind, ticker, analysisKind, now.Unix(), now.Unix())
	if err != nil {
		return 0, database.Classify(fmt.Errorf("failed to create ad-hoc run: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

// Get returns a run by id, or nil if not found.
func (r *Repository) Get(id int64) (*Run, error) {
	rows, err := r.db.Query("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	return scanRun(rows)
}

// Recent returns the most recent runs, newest first.
func (r *Repository) Recent(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query("SELECT "+runColumns+" FROM runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SetStage publishes the pipeline's progress label on a running run.
// Stage is advisory; readers observe state only through status.
func (r *Repository) SetStage(runID int64, stage string) error {
	_, err := r.db.Exec("UPDATE runs SET stage = ? WHERE id = ? AND status = 'running'", stage, runID)
	if err != nil {
		return fmt.Errorf("failed to set run stage: %w", err)
	}
	return nil
}

// Outcome carries the terminal fields written when a run finishes.
// CountAnalysis marks runs whose reasoning call was attempted; those
// consume a daily analysis slot, and the slot moves in the same
// transaction as the run row.
type Outcome struct {
	Status           string
	GatePassed       bool
	Recommendation   string
	Confidence       int
	ExpectedValuePct float64
	ArtifactPath     string
	Error            string
	RawOutput        string
	CountAnalysis    bool
}

// Finish transitions a run to a terminal state. Terminal states are a
// sink: a run that already finished is left untouched.
func (r *Repository) Finish(runID int64, outcome Outcome) error {
	if !Terminal(outcome.Status) {
		return fmt.Errorf("status %q is not terminal", outcome.Status)
	}

	return database.WithRetry(r.db, func(tx *sql.Tx) error {
		var startedAt sql.NullInt64
		var status string
		err := tx.QueryRow("SELECT status, started_at FROM runs WHERE id = ?", runID).
			Scan(&status, &startedAt)
		if err == sql.ErrNoRows {
			return fmt.Errorf("run %d not found", runID)
		}
		if err != nil {
			return fmt.Errorf("failed to read run: %w", err)
		}
		if Terminal(status) {
			return nil
		}

		now := time.Now()
		var durationMS int64
		if startedAt.Valid {
			durationMS = now.Unix()*1000 - startedAt.Int64*1000
			if durationMS < 0 {
				durationMS = 0
			}
		}

		_, err = tx.Exec(`
			UPDATE runs SET status = ?, gate_passed = ?, recommendation = ?, confidence = ?,
				expected_value_pct = ?, artifact_path = ?, completed_at = ?, duration_ms = ?,
				error = ?, raw_output = ?, stage = ''
			WHERE id = ?
		`, outcome.Status, outcome.GatePassed, outcome.Recommendation, outcome.Confidence,
			outcome.ExpectedValuePct, outcome.ArtifactPath, now.Unix(), durationMS,
			outcome.Error, outcome.RawOutput, runID)
		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}

		// Counters move in the same transaction as the run row so they
		// cannot disagree across crashes. The upsert covers the window
		// before the service row exists.
		errorBump := 0
		if outcome.Status == StatusFailed {
			errorBump = 1
		}
		analysisBump := 0
		if outcome.CountAnalysis {
			analysisBump = 1
		}
		_, err = tx.Exec(`
			INSERT INTO service_status (id, started_at, last_heartbeat, total_runs, total_errors,
				total_analyses, today_analyses)
			VALUES (1, 0, 0, 1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				total_runs = total_runs + 1,
				total_errors = total_errors + excluded.total_errors,
				total_analyses = total_analyses + excluded.total_analyses,
				today_analyses = today_analyses + excluded.today_analyses
		`, errorBump, analysisBump, analysisBump)
		if err != nil {
			return fmt.Errorf("failed to bump run counters: %w", err)
		}
		return nil
	})
}

// SaveResult persists the structured analysis result for a run.
func (r *Repository) SaveResult(result *AnalysisResult) error {
	modifiers, err := marshalModifiers(result.ConfidenceModifiers)
	if err != nil {
		return err
	}

	return database.WithRetry(r.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO analysis_results (run_id, ticker, analysis_kind, gate_passed,
				recommendation, confidence, adjusted_confidence, confidence_modifiers,
				expected_value_pct, entry_price, stop_price, target_price, position_size_pct,
				trade_structure, expiry, strikes, rationale, snapshot_price, implied_vol,
				doc_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, result.RunID, result.Ticker, result.AnalysisKind, result.GatePassed,
			result.Recommendation, result.Confidence, result.AdjustedConfidence, modifiers,
			result.ExpectedValuePct, result.EntryPrice, result.StopPrice, result.TargetPrice,
			result.PositionSizePct, result.TradeStructure, result.Expiry, result.Strikes,
			result.Rationale, result.SnapshotPrice, result.ImpliedVol, result.DocID,
			time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to save analysis result: %w", err)
		}
		result.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read result id: %w", err)
		}
		return nil
	})
}

// UpdateConfidence writes the adjusted confidence and its modifiers in
// a single transaction, so readers never see one without the other.
func (r *Repository) UpdateConfidence(runID int64, adjusted int, modifiers map[string]int) error {
	encoded, err := marshalModifiers(modifiers)
	if err != nil {
		return err
	}

	return database.WithRetry(r.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE analysis_results SET adjusted_confidence = ?, confidence_modifiers = ?
			WHERE run_id = ?
		`, adjusted, encoded, runID)
		if err != nil {
			return fmt.Errorf("failed to update confidence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("no analysis result for run %d", runID)
		}
		return nil
	})
}

// GetResultByRunID returns the analysis result for a run, or nil.
func (r *Repository) GetResultByRunID(runID int64) (*AnalysisResult, error) {
	rows, err := r.db.Query("SELECT "+resultColumns+" FROM analysis_results WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query result for run %d: %w", runID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	return scanResult(rows)
}

// RecentResults returns the most recent analysis results for a ticker,
// newest first, explicitly ordered by creation time then id so the
// pattern-consistency vote is deterministic.
func (r *Repository) RecentResults(ticker string, limit int) ([]*AnalysisResult, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.Query(`
		SELECT `+resultColumns+` FROM analysis_results
		WHERE ticker = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent results: %w", err)
	}
	defer rows.Close()

	var out []*AnalysisResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

// CountResults returns the number of persisted results for a ticker.
func (r *Repository) CountResults(ticker string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM analysis_results WHERE ticker = ?", ticker).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return count, nil
}

// Enrichment is the subset of a result joined onto retrieval hits.
type Enrichment struct {
	Recommendation string
	Confidence     int
}

// EnrichByDocIDs returns recommendation and confidence for every result
// whose doc_id is in docIDs. Absent doc ids are simply missing from the
// map; callers render them as "N/A".
func (r *Repository) EnrichByDocIDs(docIDs []string) (map[string]Enrichment, error) {
	out := make(map[string]Enrichment, len(docIDs))
	for _, docID := range docIDs {
		if docID == "" {
			continue
		}
		var e Enrichment
		err := r.db.QueryRow(
			"SELECT recommendation, confidence FROM analysis_results WHERE doc_id = ? ORDER BY id DESC LIMIT 1",
			docID,
		).Scan(&e.Recommendation, &e.Confidence)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to enrich doc %s: %w", docID, err)
		}
		out[docID] = e
	}
	return out, nil
}

func marshalModifiers(m map[string]int) (any, error) {
	if m == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal modifiers: %w", err)
	}
	return string(encoded), nil
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var run Run
	var scheduleID sql.NullInt64
	var started, completed sql.NullInt64
	var created int64

	err := rows.Scan(&run.ID, &scheduleID, &run.TaskKind, &run.Ticker, &run.AnalysisKind,
		&run.Status, &run.Stage, &run.GatePassed, &run.Recommendation, &run.Confidence,
		&run.ExpectedValuePct, &run.OrderPlaced, &run.OrderID, &run.ArtifactPath,
		&started, &completed, &run.DurationMS, &run.Error, &run.RawOutput, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if scheduleID.Valid {
		run.ScheduleID = &scheduleID.Int64
	}
	if started.Valid {
		t := time.Unix(started.Int64, 0)
		run.StartedAt = &t
	}
	if completed.Valid {
		t := time.Unix(completed.Int64, 0)
		run.CompletedAt = &t
	}
	run.CreatedAt = time.Unix(created, 0)
	return &run, nil
}

func scanResult(rows *sql.Rows) (*AnalysisResult, error) {
	var res AnalysisResult
	var adjusted sql.NullInt64
	var modifiers sql.NullString
	var entry, stop, target, size, snapshot, iv sql.NullFloat64
	var created int64

	err := rows.Scan(&res.ID, &res.RunID, &res.Ticker, &res.AnalysisKind, &res.GatePassed,
		&res.Recommendation, &res.Confidence, &adjusted, &modifiers, &res.ExpectedValuePct,
		&entry, &stop, &target, &size, &res.TradeStructure, &res.Expiry, &res.Strikes,
		&res.Rationale, &snapshot, &iv, &res.DocID, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis result: %w", err)
	}

	if adjusted.Valid {
		v := int(adjusted.Int64)
		res.AdjustedConfidence = &v
	}
	if modifiers.Valid && modifiers.String != "" {
		if err := json.Unmarshal([]byte(modifiers.String), &res.ConfidenceModifiers); err != nil {
			res.ConfidenceModifiers = nil
		}
	}
	res.EntryPrice = nullFloat(entry)
	res.StopPrice = nullFloat(stop)
	res.TargetPrice = nullFloat(target)
	res.PositionSizePct = nullFloat(size)
	res.SnapshotPrice = nullFloat(snapshot)
	res.ImpliedVol = nullFloat(iv)
	res.CreatedAt = time.Unix(created, 0)
	return &res, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
