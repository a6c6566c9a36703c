package watchlist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// stockColumns is the column list for the stocks table.
// Used instead of SELECT * so schema changes fail loudly.
const stockColumns = `ticker, name, sector, enabled, state, analysis_kind, priority,
next_earnings_date, earnings_confirmed, has_position, max_position_pct,
tags, notes, expires_at, archived, created_at, updated_at`

// Repository handles stock database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new watchlist repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "watchlist").Logger(),
	}
}

// Upsert inserts or updates a stock. The ticker is normalized, priority
// and position size are clamped.
func (r *Repository) Upsert(stock *Stock) error {
	ticker, err := NormalizeTicker(stock.Ticker)
	if err != nil {
		return err
	}
	stock.Ticker = ticker
	stock.Priority = ClampPriority(stock.Priority)
	stock.MaxPositionPct = ClampPositionPct(stock.MaxPositionPct)
	if stock.State == "" {
		stock.State = StateAnalysis
	}
	if !ValidState(stock.State) {
		return fmt.Errorf("invalid stock state %q", stock.State)
	}
	if stock.AnalysisKind == "" {
		stock.AnalysisKind = "stock"
	}

	tags, err := json.Marshal(stock.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	now := time.Now().Unix()
	_, err = r.db.Exec(`
		INSERT INTO stocks (ticker, name, sector, enabled, state, analysis_kind, priority,
			next_earnings_date, earnings_confirmed, has_position, max_position_pct,
			tags, notes, expires_at, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			name = excluded.name,
			sector = excluded.sector,
			enabled = excluded.enabled,
			state = excluded.state,
			analysis_kind = excluded.analysis_kind,
			priority = excluded.priority,
			next_earnings_date = excluded.next_earnings_date,
			earnings_confirmed = excluded.earnings_confirmed,
			has_position = excluded.has_position,
			max_position_pct = excluded.max_position_pct,
			tags = excluded.tags,
			notes = excluded.notes,
			expires_at = excluded.expires_at,
			archived = excluded.archived,
			updated_at = excluded.updated_at
	`, stock.Ticker, stock.Name, stock.Sector, stock.Enabled, string(stock.State),
		stock.AnalysisKind, stock.Priority, timePtrToUnix(stock.NextEarningsDate),
		stock.EarningsConfirmed, stock.HasPosition, stock.MaxPositionPct,
		string(tags), stock.Notes, timePtrToUnix(stock.ExpiresAt), stock.Archived, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert stock %s: %w", stock.Ticker, err)
	}
	return nil
}

// Get returns a stock by ticker, or nil if not found.
func (r *Repository) Get(ticker string) (*Stock, error) {
	normalized, err := NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query("SELECT "+stockColumns+" FROM stocks WHERE ticker = ?", normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock %s: %w", normalized, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	stock, err := scanStock(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan stock: %w", err)
	}
	return stock, nil
}

// ListEnabled returns all enabled, non-archived stocks ordered by
// priority (desc) then ticker (asc). This is the scheduler's universe.
func (r *Repository) ListEnabled() ([]*Stock, error) {
	rows, err := r.db.Query(`
		SELECT ` + stockColumns + ` FROM stocks
		WHERE enabled = 1 AND archived = 0
		ORDER BY priority DESC, ticker ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled stocks: %w", err)
	}
	defer rows.Close()

	var stocks []*Stock
	for rows.Next() {
		stock, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stocks = append(stocks, stock)
	}
	return stocks, rows.Err()
}

// ListAll returns every stock, archived included, ordered by ticker.
func (r *Repository) ListAll() ([]*Stock, error) {
	rows, err := r.db.Query("SELECT " + stockColumns + " FROM stocks ORDER BY ticker ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	defer rows.Close()

	var stocks []*Stock
	for rows.Next() {
		stock, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		stocks = append(stocks, stock)
	}
	return stocks, rows.Err()
}

// Disable soft-disables a stock. Stocks are never deleted while runs
// reference them.
func (r *Repository) Disable(ticker string) error {
	normalized, err := NormalizeTicker(ticker)
	if err != nil {
		return err
	}
	_, err = r.db.Exec("UPDATE stocks SET enabled = 0, updated_at = ? WHERE ticker = ?",
		time.Now().Unix(), normalized)
	if err != nil {
		return fmt.Errorf("failed to disable stock %s: %w", normalized, err)
	}
	return nil
}

// SetState transitions a stock to a new lifecycle state.
func (r *Repository) SetState(ticker string, state StockState) error {
	if !ValidState(state) {
		return fmt.Errorf("invalid stock state %q", state)
	}
	normalized, err := NormalizeTicker(ticker)
	if err != nil {
		return err
	}
	res, err := r.db.Exec("UPDATE stocks SET state = ?, updated_at = ? WHERE ticker = ?",
		string(state), time.Now().Unix(), normalized)
	if err != nil {
		return fmt.Errorf("failed to set state for %s: %w", normalized, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stock %s not found", normalized)
	}
	return nil
}

// ArchiveExpired archives every stock whose expiry is past now.
// Archived stocks are kept for audit but excluded from ListEnabled.
// Returns the tickers archived.
func (r *Repository) ArchiveExpired(now time.Time) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT ticker FROM stocks
		WHERE archived = 0 AND expires_at IS NOT NULL AND expires_at <= ?
	`, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired stocks: %w", err)
	}
	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expired stock: %w", err)
		}
		tickers = append(tickers, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range tickers {
		_, err := r.db.Exec("UPDATE stocks SET archived = 1, updated_at = ? WHERE ticker = ?",
			now.Unix(), t)
		if err != nil {
			return tickers, fmt.Errorf("failed to archive stock %s: %w", t, err)
		}
	}
	return tickers, nil
}

func scanStock(rows *sql.Rows) (*Stock, error) {
	var s Stock
	var state, tags string
	var earnings, expires sql.NullInt64
	var created, updated int64

	err := rows.Scan(&s.Ticker, &s.Name, &s.Sector, &s.Enabled, &state, &s.AnalysisKind,
		&s.Priority, &earnings, &s.EarningsConfirmed, &s.HasPosition, &s.MaxPositionPct,
		&tags, &s.Notes, &expires, &s.Archived, &created, &updated)
	if err != nil {
		return nil, err
	}

	s.State = StockState(state)
	s.CreatedAt = time.Unix(created, 0)
	s.UpdatedAt = time.Unix(updated, 0)
	if earnings.Valid {
		t := time.Unix(earnings.Int64, 0)
		s.NextEarningsDate = &t
	}
	if expires.Valid {
		t := time.Unix(expires.Int64, 0)
		s.ExpiresAt = &t
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
