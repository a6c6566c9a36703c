// Package settings provides hot-reloadable process configuration.
// Settings are key-value pairs stored in the database; readers observe
// the latest committed value on next access, no restart required.
package settings

// Recognized setting keys. Unknown keys fall back to their documented
// defaults; callers must not cache values across external waits.
const (
	// KeyDryRunMode suppresses all external reasoning calls; the
	// pipeline returns a sentinel result instead.
	KeyDryRunMode = "dry_run_mode"

	// KeyAutoExecuteEnabled permits the execution stage after a
	// gate-passing pipeline run.
	KeyAutoExecuteEnabled = "auto_execute_enabled"

	// KeyMaxDailyAnalyses is the hard daily cap on analyses.
	KeyMaxDailyAnalyses = "max_daily_analyses"

	// KeyMaxDailyExecutions is the hard daily cap on executions.
	KeyMaxDailyExecutions = "max_daily_executions"

	// KeyReasoningTimeoutSeconds bounds the reasoning subprocess.
	KeyReasoningTimeoutSeconds = "claude_timeout_seconds"

	// Per-phase caps for the four-phase pipeline.
	KeyPhase2TimeoutSeconds = "phase2_timeout_seconds"
	KeyPhase3TimeoutSeconds = "phase3_timeout_seconds"
	KeyPhase4TimeoutSeconds = "phase4_timeout_seconds"

	// KeyFourPhaseEnabled selects the pipeline variant. When false the
	// legacy single-shot variant runs (context injected into the
	// generation prompt, vector-only ingest, no synthesis).
	KeyFourPhaseEnabled = "four_phase_analysis_enabled"

	// KeyMaxConcurrentAnalyses bounds watchlist fan-out.
	KeyMaxConcurrentAnalyses = "max_concurrent_analyses"

	// KeyTickIntervalSeconds is the service loop tick interval.
	KeyTickIntervalSeconds = "tick_interval_seconds"

	// KeyEnvWhitelist is a comma-separated list of SECRET_-prefixed
	// environment variables the reasoning subprocess may inherit.
	KeyEnvWhitelist = "reasoning_env_whitelist"

	// KeyLogLevel is the process log level.
	KeyLogLevel = "log_level"
)

// Defaults for recognized keys.
const (
	DefaultDryRunMode            = false
	DefaultAutoExecuteEnabled    = false
	DefaultMaxDailyAnalyses      = 20
	DefaultMaxDailyExecutions    = 5
	DefaultReasoningTimeoutSecs  = 600
	DefaultPhase2TimeoutSecs     = 120
	DefaultPhase3TimeoutSecs     = 60
	DefaultPhase4TimeoutSecs     = 30
	DefaultFourPhaseEnabled      = true
	DefaultMaxConcurrentAnalyses = 2
	DefaultTickIntervalSecs      = 30
	DefaultLogLevel              = "info"
)

// Reader is the read side of the settings store. The pipeline, the
// scheduler, and the service loop receive it via dependency injection;
// there are no settings globals.
type Reader interface {
	GetString(key, defaultValue string) (string, error)
	GetInt(key string, defaultValue int) (int, error)
	GetBool(key string, defaultValue bool) (bool, error)
}
