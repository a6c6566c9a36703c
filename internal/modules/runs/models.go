// Package runs stores pipeline invocation attempts and the structured
// analysis results parsed from their artifacts.
package runs

import (
	"time"
)

// Run statuses. A run is created pending or running and always ends in
// exactly one terminal state; terminal states are never revisited.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Terminal reports whether status is a terminal run state.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Run is one pipeline invocation attempt.
type Run struct {
	ID               int64      `json:"id"`
	ScheduleID       *int64     `json:"schedule_id,omitempty"` // nil for ad-hoc runs
	TaskKind         string     `json:"task_kind"`
	Ticker           string     `json:"ticker"`
	AnalysisKind     string     `json:"analysis_kind"`
	Status           string     `json:"status"`
	Stage            string     `json:"stage"`
	GatePassed       bool       `json:"gate_passed"`
	Recommendation   string     `json:"recommendation"`
	Confidence       int        `json:"confidence"`
	ExpectedValuePct float64    `json:"expected_value_pct"`
	OrderPlaced      bool       `json:"order_placed"`
	OrderID          string     `json:"order_id"`
	ArtifactPath     string     `json:"artifact_path"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DurationMS       int64      `json:"duration_ms"`
	Error            string     `json:"error"`
	RawOutput        string     `json:"raw_output,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// AnalysisResult is the structured parse of a run's artifact, plus the
// synthesis outputs (adjusted confidence, applied modifiers) and the
// vector document id assigned at ingest.
type AnalysisResult struct {
	ID                  int64          `json:"id"`
	RunID               int64          `json:"run_id"`
	Ticker              string         `json:"ticker"`
	AnalysisKind        string         `json:"analysis_kind"`
	GatePassed          bool           `json:"gate_passed"`
	Recommendation      string         `json:"recommendation"`
	Confidence          int            `json:"confidence"`
	AdjustedConfidence  *int           `json:"adjusted_confidence,omitempty"` // nil in legacy variant
	ConfidenceModifiers map[string]int `json:"confidence_modifiers,omitempty"`
	ExpectedValuePct    float64        `json:"expected_value_pct"`
	EntryPrice          *float64       `json:"entry_price,omitempty"`
	StopPrice           *float64       `json:"stop_price,omitempty"`
	TargetPrice         *float64       `json:"target_price,omitempty"`
	PositionSizePct     *float64       `json:"position_size_pct,omitempty"`
	TradeStructure      string         `json:"trade_structure"`
	Expiry              string         `json:"expiry"`
	Strikes             string         `json:"strikes"`
	Rationale           string         `json:"rationale"`
	SnapshotPrice       *float64       `json:"snapshot_price,omitempty"`
	ImpliedVol          *float64       `json:"implied_vol,omitempty"`
	DocID               string         `json:"doc_id"`
	CreatedAt           time.Time      `json:"created_at"`
}
