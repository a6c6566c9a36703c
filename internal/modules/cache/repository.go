// Package cache provides a small TTL cache backed by the database.
// Values are msgpack-encoded; expired entries are pruned by the
// maintenance job.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository handles cache database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new cache repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "cache").Logger(),
	}
}

// Put stores a value under key with the given TTL.
func (r *Repository) Put(key string, value any, ttl time.Duration) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO context_cache (key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at
	`, key, payload, time.Now().Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", key, err)
	}
	return nil
}

// Get loads the value stored under key into dest. Returns false when
// the key is absent or expired.
func (r *Repository) Get(key string, dest any) (bool, error) {
	var payload []byte
	var expiresAt int64
	err := r.db.QueryRow(
		"SELECT payload, expires_at FROM context_cache WHERE key = ?", key,
	).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	if time.Now().Unix() >= expiresAt {
		return false, nil
	}

	if err := msgpack.Unmarshal(payload, dest); err != nil {
		// A decode failure means the stored shape changed; treat as miss.
		r.log.Warn().Err(err).Str("key", key).Msg("Failed to decode cache entry")
		return false, nil
	}
	return true, nil
}

// PruneExpired removes entries whose TTL has elapsed.
func (r *Repository) PruneExpired(now time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM context_cache WHERE expires_at < ?", now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
