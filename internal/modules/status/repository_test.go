package status_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/lookout/internal/modules/status"
	"github.com/mhalvorsen/lookout/internal/testsupport"
)

func newRepo(t *testing.T) *status.Repository {
	t.Helper()
	db := testsupport.NewDB(t)
	return status.NewRepository(db.Conn(), zerolog.Nop())
}

func TestClaimAndHeartbeat(t *testing.T) {
	repo := newRepo(t)

	// No row yet.
	st, err := repo.Get()
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, repo.Claim(30*time.Second))

	st, err = repo.Get()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, status.StateIdle, st.State)
	assert.NotZero(t, st.PID)

	// Re-claiming from the same pid is fine (restart on the same box).
	require.NoError(t, repo.Claim(30*time.Second))

	require.NoError(t, repo.Heartbeat(status.StateBusy, "scheduler_pass", 120*time.Millisecond))
	st, err = repo.Get()
	require.NoError(t, err)
	assert.Equal(t, status.StateBusy, st.State)
	assert.Equal(t, "scheduler_pass", st.CurrentTask)
	assert.EqualValues(t, 120, st.LastTickMS)
}

func TestDailyCounters(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Claim(30*time.Second))

	require.NoError(t, repo.IncrementTodayAnalyses())
	require.NoError(t, repo.IncrementTodayAnalyses())
	require.NoError(t, repo.IncrementTodayExecutions())

	analyses, err := repo.TodayAnalyses()
	require.NoError(t, err)
	assert.Equal(t, 2, analyses)

	executions, err := repo.TodayExecutions()
	require.NoError(t, err)
	assert.Equal(t, 1, executions)

	st, err := repo.Get()
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.TotalAnalyses)
	assert.EqualValues(t, 1, st.TotalExecutions)
}

func TestRolloverIfNewDay(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Claim(30*time.Second))
	require.NoError(t, repo.IncrementTodayAnalyses())

	// Same day: nothing happens.
	rolled, err := repo.RolloverIfNewDay(time.Now())
	require.NoError(t, err)
	assert.False(t, rolled)

	// Next day: today-counters reset, cumulative counters survive.
	rolled, err = repo.RolloverIfNewDay(time.Now().Add(24 * time.Hour))
	require.NoError(t, err)
	assert.True(t, rolled)

	analyses, err := repo.TodayAnalyses()
	require.NoError(t, err)
	assert.Equal(t, 0, analyses)

	st, err := repo.Get()
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.TotalAnalyses)
}
