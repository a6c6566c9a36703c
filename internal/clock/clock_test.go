package clock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := NewCalendar("America/New_York")
	require.NoError(t, err)
	return cal
}

func TestCalendar_IsTradingDay(t *testing.T) {
	cal := newTestCalendar(t)

	t.Run("weekday is a trading day", func(t *testing.T) {
		// Wednesday
		d := time.Date(2025, 6, 4, 12, 0, 0, 0, cal.Location())
		assert.True(t, cal.IsTradingDay(d))
	})

	t.Run("weekend is not a trading day", func(t *testing.T) {
		sat := time.Date(2025, 6, 7, 12, 0, 0, 0, cal.Location())
		sun := time.Date(2025, 6, 8, 12, 0, 0, 0, cal.Location())
		assert.False(t, cal.IsTradingDay(sat))
		assert.False(t, cal.IsTradingDay(sun))
	})

	t.Run("holiday is not a trading day", func(t *testing.T) {
		cal.AddHoliday("2025-07-04")
		d := time.Date(2025, 7, 4, 12, 0, 0, 0, cal.Location())
		assert.False(t, cal.IsTradingDay(d))
	})
}

func TestCalendar_IsMarketHours(t *testing.T) {
	cal := newTestCalendar(t)

	tests := []struct {
		name string
		hour int
		min  int
		want bool
	}{
		{"before open", 9, 29, false},
		{"at open", 9, 30, true},
		{"mid session", 12, 0, true},
		{"one minute before close", 15, 59, true},
		{"at close", 16, 0, false},
		{"after close", 17, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Wednesday 2025-06-04
			d := time.Date(2025, 6, 4, tt.hour, tt.min, 0, 0, cal.Location())
			assert.Equal(t, tt.want, cal.IsMarketHours(d))
		})
	}

	t.Run("weekend is never market hours", func(t *testing.T) {
		d := time.Date(2025, 6, 7, 12, 0, 0, 0, cal.Location())
		assert.False(t, cal.IsMarketHours(d))
	})
}

func TestCalendar_NextTradingDay(t *testing.T) {
	cal := newTestCalendar(t)
	cal.AddHoliday("2025-06-06") // Friday

	// Thursday -> Friday is a holiday -> Monday
	thu := time.Date(2025, 6, 5, 15, 0, 0, 0, cal.Location())
	next := cal.NextTradingDay(thu)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Day())
}

func TestCalendar_LoadHolidays(t *testing.T) {
	cal := newTestCalendar(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "holidays.yml")
	content := "holidays:\n  - \"2025-12-25\"\n  - \"2026-01-01\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, cal.LoadHolidays(path))

	xmas := time.Date(2025, 12, 25, 12, 0, 0, 0, cal.Location())
	assert.False(t, cal.IsTradingDay(xmas))

	t.Run("missing file is not an error", func(t *testing.T) {
		assert.NoError(t, cal.LoadHolidays(filepath.Join(dir, "absent.yml")))
	})

	t.Run("malformed date is rejected", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yml")
		require.NoError(t, os.WriteFile(bad, []byte("holidays:\n  - \"25/12/2025\"\n"), 0644))
		assert.Error(t, cal.LoadHolidays(bad))
	})
}

func TestFixedClock(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	c := Fixed(now)
	assert.Equal(t, now, c.Now())
}
