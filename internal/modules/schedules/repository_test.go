package schedules_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/lookout/internal/modules/schedules"
	"github.com/mhalvorsen/lookout/internal/testsupport"
)

func newRepo(t *testing.T) *schedules.Repository {
	t.Helper()
	db := testsupport.NewDB(t)
	return schedules.NewRepository(db.Conn(), zerolog.Nop())
}

func newSchedule(name string, nextRun time.Time) *schedules.Schedule {
	return &schedules.Schedule{
		Name:      name,
		TaskKind:  schedules.TaskAnalyzeStock,
		Ticker:    "NVDA",
		Frequency: schedules.FreqDaily,
		TimeOfDay: "09:35",
		Enabled:   true,
		NextRunAt: &nextRun,
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	repo := newRepo(t)

	s := newSchedule("daily nvda", time.Now())
	require.NoError(t, repo.Create(s))
	require.NotZero(t, s.ID)

	got, err := repo.Get(s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.MaxConsecutiveFails)
	assert.Equal(t, 1, got.MaxRunsPerDay)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, schedules.TaskAnalyzeStock, got.TaskKind)

	missing, err := repo.Get(9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateRejectsInvalid(t *testing.T) {
	repo := newRepo(t)

	bad := newSchedule("", time.Now())
	assert.Error(t, repo.Create(bad))

	bad = newSchedule("interval without minutes", time.Now())
	bad.Frequency = schedules.FreqInterval
	assert.Error(t, repo.Create(bad))

	bad = newSchedule("bad time", time.Now())
	bad.TimeOfDay = "9:35am"
	assert.Error(t, repo.Create(bad))
}

func TestListDueOrderingAndExclusions(t *testing.T) {
	repo := newRepo(t)
	now := time.Now()
	past := now.Add(-time.Minute)

	low := newSchedule("low priority", past)
	low.Priority = 1
	require.NoError(t, repo.Create(low))

	high := newSchedule("high priority", past)
	high.Priority = 9
	require.NoError(t, repo.Create(high))

	future := newSchedule("not yet due", now.Add(time.Hour))
	require.NoError(t, repo.Create(future))

	disabled := newSchedule("disabled", past)
	disabled.Enabled = false
	require.NoError(t, repo.Create(disabled))

	unscheduled := newSchedule("no next run", past)
	unscheduled.NextRunAt = nil
	require.NoError(t, repo.Create(unscheduled))

	due, err := repo.ListDue(now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "high priority", due[0].Name)
	assert.Equal(t, "low priority", due[1].Name)
}

func TestListDueExcludesTripped(t *testing.T) {
	repo := newRepo(t)
	now := time.Now()

	s := newSchedule("flaky", now.Add(-time.Minute))
	require.NoError(t, repo.Create(s))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.MarkCompleted(s.ID, "failed", "boom", nil))
	}

	due, err := repo.ListDue(now)
	require.NoError(t, err)
	assert.Empty(t, due)

	got, err := repo.Get(s.ID)
	require.NoError(t, err)
	assert.True(t, got.Tripped())
	assert.Equal(t, 3, got.ConsecutiveFails)
	assert.Equal(t, 3, got.FailCount)

	require.NoError(t, repo.ResetBreaker(s.ID))
	due, err = repo.ListDue(now)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestMarkStartedIdempotentPerTick(t *testing.T) {
	repo := newRepo(t)
	s := newSchedule("daily nvda", time.Now())
	require.NoError(t, repo.Create(s))

	tick := time.Date(2026, 8, 25, 9, 35, 0, 0, time.UTC)

	runID, created, err := repo.MarkStarted(s, tick)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotZero(t, runID)

	// Same instant replays return the existing run.
	again, created, err := repo.MarkStarted(s, tick)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, runID, again)

	// Sub-second jitter within the same second is still the same tick.
	jittered, created, err := repo.MarkStarted(s, tick.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, runID, jittered)

	// A different second is a new tick.
	next, created, err := repo.MarkStarted(s, tick.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, runID, next)

	got, err := repo.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RunCount)
}

func TestMarkCompletedAdvancesNextRun(t *testing.T) {
	repo := newRepo(t)
	s := newSchedule("daily nvda", time.Now())
	require.NoError(t, repo.Create(s))

	// A success resets the fail streak but keeps the cumulative count.
	require.NoError(t, repo.MarkCompleted(s.ID, "failed", "boom", nil))
	next := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	require.NoError(t, repo.MarkCompleted(s.ID, "completed", "", &next))

	got, err := repo.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveFails)
	assert.Equal(t, 1, got.FailCount)
	assert.Equal(t, "completed", got.LastRunStatus)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, next.Unix(), got.NextRunAt.Unix())

	// Skips keep the streak untouched.
	require.NoError(t, repo.MarkCompleted(s.ID, "failed", "boom", nil))
	require.NoError(t, repo.MarkCompleted(s.ID, "skipped", "", nil))
	got, err = repo.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConsecutiveFails)
	assert.Equal(t, "skipped", got.LastRunStatus)

	assert.Error(t, repo.MarkCompleted(s.ID, "exploded", "", nil))
}

func TestDisableAfterOnce(t *testing.T) {
	repo := newRepo(t)
	s := newSchedule("one shot", time.Now())
	s.Frequency = schedules.FreqOnce
	require.NoError(t, repo.Create(s))

	require.NoError(t, repo.DisableAfterOnce(s.ID))

	got, err := repo.Get(s.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRunAt)
}

func TestRunsToday(t *testing.T) {
	repo := newRepo(t)
	s := newSchedule("busy", time.Now())
	require.NoError(t, repo.Create(s))

	now := time.Now()
	_, _, err := repo.MarkStarted(s, now)
	require.NoError(t, err)
	_, _, err = repo.MarkStarted(s, now.Add(2*time.Second))
	require.NoError(t, err)

	count, err := repo.RunsToday(s.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Tomorrow's window starts fresh.
	count, err = repo.RunsToday(s.ID, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
