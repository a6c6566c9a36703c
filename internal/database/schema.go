package database

// schema is the single source of truth for the lookout database layout.
// All statements are idempotent so the schema can be applied on every start.
const schema = `
CREATE TABLE IF NOT EXISTS stocks (
    ticker              TEXT PRIMARY KEY,
    name                TEXT NOT NULL DEFAULT '',
    sector              TEXT NOT NULL DEFAULT '',
    enabled             INTEGER NOT NULL DEFAULT 1,
    state               TEXT NOT NULL DEFAULT 'analysis',
    analysis_kind       TEXT NOT NULL DEFAULT 'stock',
    priority            INTEGER NOT NULL DEFAULT 5,
    next_earnings_date  INTEGER,
    earnings_confirmed  INTEGER NOT NULL DEFAULT 0,
    has_position        INTEGER NOT NULL DEFAULT 0,
    max_position_pct    REAL NOT NULL DEFAULT 5.0,
    tags                TEXT NOT NULL DEFAULT '[]',
    notes               TEXT NOT NULL DEFAULT '',
    expires_at          INTEGER,
    archived            INTEGER NOT NULL DEFAULT 0,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    name                  TEXT NOT NULL UNIQUE,
    task_kind             TEXT NOT NULL,
    ticker                TEXT NOT NULL DEFAULT '',
    scanner_id            TEXT NOT NULL DEFAULT '',
    tags                  TEXT NOT NULL DEFAULT '[]',
    analysis_kind         TEXT NOT NULL DEFAULT 'stock',
    frequency             TEXT NOT NULL,
    time_of_day           TEXT NOT NULL DEFAULT '',
    day_of_week           INTEGER NOT NULL DEFAULT 0,
    interval_minutes      INTEGER NOT NULL DEFAULT 0,
    days_before_earnings  INTEGER NOT NULL DEFAULT 0,
    days_after_earnings   INTEGER NOT NULL DEFAULT 0,
    cron_expr             TEXT NOT NULL DEFAULT '',
    market_hours_only     INTEGER NOT NULL DEFAULT 0,
    trading_days_only     INTEGER NOT NULL DEFAULT 0,
    max_runs_per_day      INTEGER NOT NULL DEFAULT 1,
    timeout_seconds       INTEGER NOT NULL DEFAULT 600,
    priority              INTEGER NOT NULL DEFAULT 5,
    enabled               INTEGER NOT NULL DEFAULT 1,
    run_count             INTEGER NOT NULL DEFAULT 0,
    fail_count            INTEGER NOT NULL DEFAULT 0,
    consecutive_fails     INTEGER NOT NULL DEFAULT 0,
    max_consecutive_fails INTEGER NOT NULL DEFAULT 3,
    last_run_at           INTEGER,
    last_run_status       TEXT NOT NULL DEFAULT '',
    next_run_at           INTEGER,
    created_at            INTEGER NOT NULL,
    updated_at            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedules_due
    ON schedules (enabled, next_run_at);

CREATE TABLE IF NOT EXISTS runs (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    schedule_id       INTEGER,
    tick_key          TEXT NOT NULL DEFAULT '',
    task_kind         TEXT NOT NULL DEFAULT '',
    ticker            TEXT NOT NULL DEFAULT '',
    analysis_kind     TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending',
    stage             TEXT NOT NULL DEFAULT '',
    gate_passed       INTEGER NOT NULL DEFAULT 0,
    recommendation    TEXT NOT NULL DEFAULT '',
    confidence        INTEGER NOT NULL DEFAULT 0,
    expected_value_pct REAL NOT NULL DEFAULT 0,
    order_placed      INTEGER NOT NULL DEFAULT 0,
    order_id          TEXT NOT NULL DEFAULT '',
    artifact_path     TEXT NOT NULL DEFAULT '',
    started_at        INTEGER,
    completed_at      INTEGER,
    duration_ms       INTEGER NOT NULL DEFAULT 0,
    error             TEXT NOT NULL DEFAULT '',
    raw_output        TEXT NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_tick
    ON runs (schedule_id, tick_key) WHERE schedule_id IS NOT NULL AND tick_key != '';

CREATE INDEX IF NOT EXISTS idx_runs_schedule_created
    ON runs (schedule_id, created_at);

CREATE TABLE IF NOT EXISTS analysis_results (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id               INTEGER NOT NULL UNIQUE,
    ticker               TEXT NOT NULL,
    analysis_kind        TEXT NOT NULL,
    gate_passed          INTEGER NOT NULL DEFAULT 0,
    recommendation       TEXT NOT NULL DEFAULT 'UNKNOWN',
    confidence           INTEGER NOT NULL DEFAULT 0,
    adjusted_confidence  INTEGER,
    confidence_modifiers TEXT,
    expected_value_pct   REAL NOT NULL DEFAULT 0,
    entry_price          REAL,
    stop_price           REAL,
    target_price         REAL,
    position_size_pct    REAL,
    trade_structure      TEXT NOT NULL DEFAULT '',
    expiry               TEXT NOT NULL DEFAULT '',
    strikes              TEXT NOT NULL DEFAULT '',
    rationale            TEXT NOT NULL DEFAULT '',
    snapshot_price       REAL,
    implied_vol          REAL,
    doc_id               TEXT NOT NULL DEFAULT '',
    created_at           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_ticker_created
    ON analysis_results (ticker, created_at DESC);

CREATE TABLE IF NOT EXISTS settings (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    category    TEXT NOT NULL DEFAULT 'general',
    description TEXT,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS service_status (
    id               INTEGER PRIMARY KEY CHECK (id = 1),
    started_at       INTEGER NOT NULL,
    last_heartbeat   INTEGER NOT NULL,
    last_tick_ms     INTEGER NOT NULL DEFAULT 0,
    state            TEXT NOT NULL DEFAULT 'idle',
    current_task     TEXT NOT NULL DEFAULT '',
    pid              INTEGER NOT NULL DEFAULT 0,
    hostname         TEXT NOT NULL DEFAULT '',
    total_runs       INTEGER NOT NULL DEFAULT 0,
    total_analyses   INTEGER NOT NULL DEFAULT 0,
    total_executions INTEGER NOT NULL DEFAULT 0,
    total_errors     INTEGER NOT NULL DEFAULT 0,
    today_analyses   INTEGER NOT NULL DEFAULT 0,
    today_executions INTEGER NOT NULL DEFAULT 0,
    today_date       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_log (
    id            TEXT PRIMARY KEY,
    ts            INTEGER NOT NULL,
    action        TEXT NOT NULL,
    actor         TEXT NOT NULL DEFAULT 'system',
    resource_kind TEXT NOT NULL DEFAULT '',
    resource_id   TEXT NOT NULL DEFAULT '',
    result        TEXT NOT NULL DEFAULT '',
    details       TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log (ts);

CREATE TABLE IF NOT EXISTS context_cache (
    key        TEXT PRIMARY KEY,
    payload    BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);
`
