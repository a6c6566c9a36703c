// Package audit provides the append-only audit log.
// Audit events are purely observational; nothing in the system reads
// them to make decisions.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is a single audit log entry.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Action       string         `json:"action"`
	Actor        string         `json:"actor"`
	ResourceKind string         `json:"resource_kind"`
	ResourceID   string         `json:"resource_id"`
	Result       string         `json:"result"`
	Details      map[string]any `json:"details"`
}

// Repository writes and reads audit events.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new audit repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "audit").Logger(),
	}
}

// LogEvent appends an audit event. Failures are logged and swallowed:
// audit must never break the operation being audited.
func (r *Repository) LogEvent(action, actor, resourceKind, resourceID, result string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		r.log.Warn().Err(err).Str("action", action).Msg("Failed to marshal audit details")
		payload = []byte("{}")
	}

	_, err = r.db.Exec(`
		INSERT INTO audit_log (id, ts, action, actor, resource_kind, resource_id, result, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), time.Now().Unix(), action, actor, resourceKind, resourceID, result, string(payload))
	if err != nil {
		r.log.Warn().Err(err).Str("action", action).Msg("Failed to write audit event")
	}
}

// Recent returns the most recent audit events, newest first.
func (r *Repository) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, ts, action, actor, resource_kind, resource_id, result, details
		FROM audit_log ORDER BY ts DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		var details string
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.Actor, &e.ResourceKind, &e.ResourceID, &e.Result, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			e.Details = map[string]any{}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneOlderThan deletes audit events older than the cutoff.
// Returns the number of rows removed.
func (r *Repository) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM audit_log WHERE ts < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
