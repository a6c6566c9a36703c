package watchlist

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/lookout/internal/testsupport"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(testsupport.NewDB(t).Conn(), zerolog.Nop())
}

func TestNormalizeTicker(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"nvda", "NVDA", false},
		{" brk.b ", "BRK.B", false},
		{"BF-B", "BF-B", false},
		{"", "", true},
		{"TOOLONGTICKER", "", true},
		{"BAD TICKER", "", true},
		{"no$", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeTicker(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepository_UpsertAndGet(t *testing.T) {
	repo := newRepo(t)

	stock := &Stock{
		Ticker:   "nvda",
		Name:     "NVIDIA Corp",
		Sector:   "Semiconductors",
		Enabled:  true,
		State:    StateAnalysis,
		Priority: 15, // clamps to 10
		Tags:     []string{"ai", "momentum"},
	}
	require.NoError(t, repo.Upsert(stock))

	got, err := repo.Get("NVDA")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "NVDA", got.Ticker)
	assert.Equal(t, 10, got.Priority)
	assert.Equal(t, StateAnalysis, got.State)
	assert.Equal(t, []string{"ai", "momentum"}, got.Tags)

	t.Run("upsert updates existing row", func(t *testing.T) {
		stock.Priority = 3
		stock.Notes = "watch earnings"
		require.NoError(t, repo.Upsert(stock))

		got, err := repo.Get("NVDA")
		require.NoError(t, err)
		assert.Equal(t, 3, got.Priority)
		assert.Equal(t, "watch earnings", got.Notes)
	})

	t.Run("unknown ticker returns nil", func(t *testing.T) {
		got, err := repo.Get("ZZZZ")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("invalid state is rejected", func(t *testing.T) {
		err := repo.Upsert(&Stock{Ticker: "AMD", State: "imaginary"})
		assert.Error(t, err)
	})
}

func TestRepository_ListEnabledOrdering(t *testing.T) {
	repo := newRepo(t)

	for _, s := range []*Stock{
		{Ticker: "MSFT", Enabled: true, Priority: 5},
		{Ticker: "AAPL", Enabled: true, Priority: 9},
		{Ticker: "AMD", Enabled: true, Priority: 9},
		{Ticker: "INTC", Enabled: false, Priority: 10},
	} {
		require.NoError(t, repo.Upsert(s))
	}

	stocks, err := repo.ListEnabled()
	require.NoError(t, err)
	require.Len(t, stocks, 3)

	// priority desc, then ticker asc
	assert.Equal(t, "AAPL", stocks[0].Ticker)
	assert.Equal(t, "AMD", stocks[1].Ticker)
	assert.Equal(t, "MSFT", stocks[2].Ticker)
}

func TestRepository_Disable(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.Upsert(&Stock{Ticker: "TSLA", Enabled: true, Priority: 5}))
	require.NoError(t, repo.Disable("TSLA"))

	stocks, err := repo.ListEnabled()
	require.NoError(t, err)
	assert.Empty(t, stocks)

	// Row still exists
	got, err := repo.Get("TSLA")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Enabled)
}

func TestRepository_ArchiveExpired(t *testing.T) {
	repo := newRepo(t)

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, repo.Upsert(&Stock{Ticker: "OLD", Enabled: true, Priority: 5, ExpiresAt: &past}))
	require.NoError(t, repo.Upsert(&Stock{Ticker: "NEW", Enabled: true, Priority: 5, ExpiresAt: &future}))
	require.NoError(t, repo.Upsert(&Stock{Ticker: "KEEP", Enabled: true, Priority: 5}))

	archived, err := repo.ArchiveExpired(now)
	require.NoError(t, err)
	assert.Equal(t, []string{"OLD"}, archived)

	stocks, err := repo.ListEnabled()
	require.NoError(t, err)
	require.Len(t, stocks, 2)

	// Archived entry kept for audit
	got, err := repo.Get("OLD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Archived)
}

type nopAuditor struct{}

func (nopAuditor) LogEvent(action, actor, kind, id, result string, details map[string]any) {}

func TestManager_SetState(t *testing.T) {
	repo := newRepo(t)
	mgr := NewManager(repo, nopAuditor{}, zerolog.Nop())

	require.NoError(t, mgr.Add(&Stock{Ticker: "NVDA", Enabled: true, Priority: 5}))
	require.NoError(t, mgr.SetState("NVDA", StatePaper))

	got, err := repo.Get("NVDA")
	require.NoError(t, err)
	assert.Equal(t, StatePaper, got.State)

	t.Run("unknown ticker errors", func(t *testing.T) {
		assert.Error(t, mgr.SetState("NOPE", StatePaper))
	})
}
