package settings

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/lookout/internal/testsupport"
)

type recordingAuditor struct {
	actions []string
	details []map[string]any
}

func (a *recordingAuditor) LogEvent(action, actor, kind, id, result string, details map[string]any) {
	a.actions = append(a.actions, action)
	a.details = append(a.details, details)
}

func newTestRepo(t *testing.T) (*Repository, *recordingAuditor) {
	t.Helper()
	db := testsupport.NewDB(t)
	auditor := &recordingAuditor{}
	return NewRepository(db.Conn(), auditor, zerolog.Nop()), auditor
}

func TestRepository_GetReturnsNilWhenUnset(t *testing.T) {
	repo, _ := newTestRepo(t)

	value, err := repo.Get("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestRepository_SetAndGet(t *testing.T) {
	repo, auditor := newTestRepo(t)

	require.NoError(t, repo.Set(KeyLogLevel, "debug", "general"))

	value, err := repo.Get(KeyLogLevel)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "debug", *value)

	t.Run("set emits audit event with old and new", func(t *testing.T) {
		require.NoError(t, repo.Set(KeyLogLevel, "warn", "general"))
		require.Len(t, auditor.actions, 2)
		assert.Equal(t, "settings.set", auditor.actions[1])
		assert.Equal(t, "debug", auditor.details[1]["old"])
		assert.Equal(t, "warn", auditor.details[1]["new"])
	})
}

func TestRepository_GetInt(t *testing.T) {
	repo, _ := newTestRepo(t)

	t.Run("unset returns default", func(t *testing.T) {
		got, err := repo.GetInt(KeyMaxDailyAnalyses, DefaultMaxDailyAnalyses)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxDailyAnalyses, got)
	})

	t.Run("stored value", func(t *testing.T) {
		require.NoError(t, repo.SetInt(KeyMaxDailyAnalyses, 7))
		got, err := repo.GetInt(KeyMaxDailyAnalyses, DefaultMaxDailyAnalyses)
		require.NoError(t, err)
		assert.Equal(t, 7, got)
	})

	t.Run("float-formatted value parses", func(t *testing.T) {
		require.NoError(t, repo.Set("float_setting", "12.0", ""))
		got, err := repo.GetInt("float_setting", 0)
		require.NoError(t, err)
		assert.Equal(t, 12, got)
	})

	t.Run("invalid value returns default without error", func(t *testing.T) {
		require.NoError(t, repo.Set("bad_int", "not-a-number", ""))
		got, err := repo.GetInt("bad_int", 42)
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})
}

func TestRepository_GetBool(t *testing.T) {
	repo, _ := newTestRepo(t)

	tests := []struct {
		stored string
		want   bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{"TRUE", true},
		{"false", false},
		{"0", false},
		{"banana", false},
	}

	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			require.NoError(t, repo.Set(KeyDryRunMode, tt.stored, ""))
			got, err := repo.GetBool(KeyDryRunMode, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unset returns default", func(t *testing.T) {
		got, err := repo.GetBool(KeyFourPhaseEnabled, DefaultFourPhaseEnabled)
		require.NoError(t, err)
		assert.True(t, got)
	})
}

func TestRepository_Delete(t *testing.T) {
	repo, _ := newTestRepo(t)

	require.NoError(t, repo.Set("temp", "x", ""))
	require.NoError(t, repo.Delete("temp"))

	value, err := repo.Get("temp")
	require.NoError(t, err)
	assert.Nil(t, value)

	// Idempotent
	assert.NoError(t, repo.Delete("temp"))
}
