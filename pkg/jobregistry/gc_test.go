package jobregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrune(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-10 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	seed := func(t *testing.T) Store {
		s := NewMemoryStore()
		require.NoError(t, s.Create(&JobRecord{JobID: "old-done", Status: JobStatusCompleted, CreatedAt: old, EndedAt: &old}))
		require.NoError(t, s.Create(&JobRecord{JobID: "old-failed", Status: JobStatusFailed, CreatedAt: old, UpdatedAt: old}))
		require.NoError(t, s.Create(&JobRecord{JobID: "old-running", Status: JobStatusProcessing, CreatedAt: old}))
		require.NoError(t, s.Create(&JobRecord{JobID: "recent-done", Status: JobStatusCompleted, CreatedAt: recent, EndedAt: &recent}))
		return s
	}

	t.Run("deletes only old terminal jobs", func(t *testing.T) {
		s := seed(t)
		res, err := Prune(s, 7*24*time.Hour, now, false)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Scanned)
		assert.Equal(t, 2, res.Deleted)
		assert.ElementsMatch(t, []string{"old-done", "old-failed"}, res.JobIDs)

		remaining, err := s.List()
		require.NoError(t, err)
		assert.Len(t, remaining, 2)
	})

	t.Run("dry run keeps records", func(t *testing.T) {
		s := seed(t)
		res, err := Prune(s, 7*24*time.Hour, now, true)
		require.NoError(t, err)
		assert.True(t, res.DryRun)
		assert.Equal(t, 2, res.Deleted)

		remaining, err := s.List()
		require.NoError(t, err)
		assert.Len(t, remaining, 4)
	})

	t.Run("rejects bad arguments", func(t *testing.T) {
		_, err := Prune(nil, time.Hour, now, false)
		assert.Error(t, err)
		_, err = Prune(NewMemoryStore(), 0, now, false)
		assert.Error(t, err)
	})
}
