package watchlist

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Auditor receives a record of watchlist mutations.
type Auditor interface {
	LogEvent(action, actor, resourceKind, resourceID, result string, details map[string]any)
}

// Manager owns the lifecycle of monitored tickers: add, remove,
// state transitions, and the expiry sweep.
type Manager struct {
	repo    *Repository
	auditor Auditor
	log     zerolog.Logger
}

// NewManager creates a new watchlist manager.
func NewManager(repo *Repository, auditor Auditor, log zerolog.Logger) *Manager {
	return &Manager{
		repo:    repo,
		auditor: auditor,
		log:     log.With().Str("component", "watchlist").Logger(),
	}
}

// Add adds or updates a monitored ticker.
func (m *Manager) Add(stock *Stock) error {
	if err := m.repo.Upsert(stock); err != nil {
		return err
	}
	m.auditor.LogEvent("watchlist.add", "user", "stock", stock.Ticker, "ok", map[string]any{
		"state":    string(stock.State),
		"priority": stock.Priority,
	})
	m.log.Info().Str("ticker", stock.Ticker).Str("state", string(stock.State)).Msg("Stock added to watchlist")
	return nil
}

// Remove soft-disables a ticker. Stocks are never deleted while runs
// reference them.
func (m *Manager) Remove(ticker string) error {
	if err := m.repo.Disable(ticker); err != nil {
		return err
	}
	m.auditor.LogEvent("watchlist.remove", "user", "stock", ticker, "ok", nil)
	m.log.Info().Str("ticker", ticker).Msg("Stock disabled")
	return nil
}

// SetState transitions a ticker to a new lifecycle state.
func (m *Manager) SetState(ticker string, state StockState) error {
	stock, err := m.repo.Get(ticker)
	if err != nil {
		return err
	}
	if stock == nil {
		return fmt.Errorf("stock %s not found", ticker)
	}

	if err := m.repo.SetState(ticker, state); err != nil {
		return err
	}
	m.auditor.LogEvent("watchlist.set_state", "user", "stock", stock.Ticker, "ok", map[string]any{
		"old": string(stock.State),
		"new": string(state),
	})
	return nil
}

// SweepExpired archives every entry whose expiry is past now.
func (m *Manager) SweepExpired(now time.Time) error {
	archived, err := m.repo.ArchiveExpired(now)
	if err != nil {
		return err
	}
	for _, ticker := range archived {
		m.auditor.LogEvent("watchlist.expire", "system", "stock", ticker, "archived", nil)
	}
	if len(archived) > 0 {
		m.log.Info().Int("count", len(archived)).Msg("Archived expired watchlist entries")
	}
	return nil
}
