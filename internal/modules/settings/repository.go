package settings

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Auditor receives a record of every settings write.
type Auditor interface {
	LogEvent(action, actor, resourceKind, resourceID, result string, details map[string]any)
}

// Repository handles settings database operations.
// Settings are stored as strings and converted to the requested type on
// retrieval. Every Get is a point lookup so callers observe the latest
// committed value; invalid stored values yield the default with a
// warning, never an error.
type Repository struct {
	db      *sql.DB
	auditor Auditor
	log     zerolog.Logger
}

// NewRepository creates a new settings repository.
func NewRepository(db *sql.DB, auditor Auditor, log zerolog.Logger) *Repository {
	return &Repository{
		db:      db,
		auditor: auditor,
		log:     log.With().Str("repo", "settings").Logger(),
	}
}

// Get retrieves a setting value by key.
// Returns nil if the setting doesn't exist (not an error).
func (r *Repository) Get(key string) (*string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &value, nil
}

// Set sets a setting value and records the old value in the audit log.
func (r *Repository) Set(key, value, category string) error {
	old, err := r.Get(key)
	if err != nil {
		return err
	}
	if category == "" {
		category = "general"
	}

	_, err = r.db.Exec(`
		INSERT INTO settings (key, value, category, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			updated_at = excluded.updated_at
	`, key, value, category, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	if r.auditor != nil {
		oldValue := ""
		if old != nil {
			oldValue = *old
		}
		r.auditor.LogEvent("settings.set", "system", "setting", key, "ok", map[string]any{
			"old": oldValue,
			"new": value,
		})
	}
	return nil
}

// GetAll retrieves all settings as a map.
func (r *Repository) GetAll() (map[string]string, error) {
	rows, err := r.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to get all settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan setting row")
			continue
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return result, nil
}

// GetString retrieves a setting as a string, or defaultValue if unset.
func (r *Repository) GetString(key, defaultValue string) (string, error) {
	value, err := r.Get(key)
	if err != nil {
		return defaultValue, err
	}
	if value == nil {
		return defaultValue, nil
	}
	return *value, nil
}

// GetInt retrieves a setting as an integer.
// Returns defaultValue if the setting doesn't exist or parsing fails.
// Handles "12.0" strings by parsing via float first.
func (r *Repository) GetInt(key string, defaultValue int) (int, error) {
	value, err := r.Get(key)
	if err != nil {
		return defaultValue, err
	}
	if value == nil {
		return defaultValue, nil
	}

	floatVal, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("key", key).
			Str("value", *value).
			Msg("Failed to parse int setting")
		return defaultValue, nil
	}
	return int(floatVal), nil
}

// SetInt sets a setting value as an integer.
func (r *Repository) SetInt(key string, value int) error {
	return r.Set(key, fmt.Sprintf("%d", value), "")
}

// GetBool retrieves a setting as a boolean.
// Recognizes truthy values "true", "1", "yes", "on" (case-insensitive);
// everything else is false. Returns defaultValue if unset.
func (r *Repository) GetBool(key string, defaultValue bool) (bool, error) {
	value, err := r.Get(key)
	if err != nil {
		return defaultValue, err
	}
	if value == nil {
		return defaultValue, nil
	}

	switch strings.ToLower(strings.TrimSpace(*value)) {
	case "true", "1", "yes", "on":
		return true, nil
	}
	return false, nil
}

// SetBool sets a setting value as a boolean.
func (r *Repository) SetBool(key string, value bool) error {
	strVal := "false"
	if value {
		strVal = "true"
	}
	return r.Set(key, strVal, "")
}

// Delete deletes a setting. Idempotent.
func (r *Repository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}
