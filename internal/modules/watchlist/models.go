// Package watchlist manages the set of monitored stocks that feeds the
// scheduler.
package watchlist

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// StockState describes how far a ticker has progressed through the
// monitoring lifecycle. The live state is display-only: the pipeline
// refuses to place real orders regardless of state.
type StockState string

const (
	StateAnalysis StockState = "analysis"
	StatePaper    StockState = "paper"
	StateLive     StockState = "live"
)

// ValidState reports whether s is a recognized stock state.
func ValidState(s StockState) bool {
	switch s {
	case StateAnalysis, StatePaper, StateLive:
		return true
	}
	return false
}

// Stock is one monitored symbol.
type Stock struct {
	Ticker            string     `json:"ticker"`
	Name              string     `json:"name"`
	Sector            string     `json:"sector"`
	Enabled           bool       `json:"enabled"`
	State             StockState `json:"state"`
	AnalysisKind      string     `json:"analysis_kind"`
	Priority          int        `json:"priority"` // 1-10
	NextEarningsDate  *time.Time `json:"next_earnings_date,omitempty"`
	EarningsConfirmed bool       `json:"earnings_confirmed"`
	HasPosition       bool       `json:"has_position"`
	MaxPositionPct    float64    `json:"max_position_pct"` // 0-100
	Tags              []string   `json:"tags"`
	Notes             string     `json:"notes"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Archived          bool       `json:"archived"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

// NormalizeTicker case-folds and validates a ticker symbol.
// Tickers are uppercase alphanumeric plus '.' and '-', at most 10 chars.
func NormalizeTicker(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerPattern.MatchString(t) {
		return "", fmt.Errorf("invalid ticker %q", ticker)
	}
	return t, nil
}

// ClampPriority clamps a priority into the 1..10 range.
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// ClampPositionPct clamps a max position percentage into 0..100.
func ClampPositionPct(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
