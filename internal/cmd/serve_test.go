package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/platform"
	"github.com/3leaps/adfanout/pkg/progress"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestPlatformHealthChecker(t *testing.T) {
	sandbox := platform.NewSandbox()
	checker := platformHealthChecker{client: sandbox}
	assert.NoError(t, checker.CheckHealth(context.Background()))

	sandbox.SetReady(false)
	err := checker.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform credentials not initialized")

	err = platformHealthChecker{}.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestStorageHealthChecker(t *testing.T) {
	dir := t.TempDir()
	storage, err := media.NewLocalStorage(dir, "")
	require.NoError(t, err)

	assert.NoError(t, storageHealthChecker{storage: storage}.CheckHealth(context.Background()))
	assert.Error(t, storageHealthChecker{}.CheckHealth(context.Background()))
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "myapp",
			envPrefix:  "",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobGC_PrunesFinishedJobsAndForgetsStreams(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)

	store := jobregistry.NewMemoryStore()
	for _, rec := range []*jobregistry.JobRecord{
		{JobID: "old-done", Status: jobregistry.JobStatusCompleted, CreatedAt: old, UpdatedAt: old, EndedAt: &old},
		{JobID: "old-running", Status: jobregistry.JobStatusProcessing, CreatedAt: old, UpdatedAt: old},
		{JobID: "new-failed", Status: jobregistry.JobStatusFailed, CreatedAt: recent, UpdatedAt: recent, EndedAt: &recent},
	} {
		require.NoError(t, store.Create(rec))
	}

	hub := progress.NewHub(4)
	hub.Publish(progress.Update{JobID: "old-done", Seq: 5, Progress: 100, Status: "COMPLETED", Terminal: true})

	gc := &jobGC{
		store:     store,
		hub:       hub,
		retention: 24 * time.Hour,
		logger:    zap.NewNop(),
		now:       func() time.Time { return now },
	}
	res, err := gc.run()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, []string{"old-done"}, res.JobIDs)

	_, err = store.Get("old-done")
	assert.ErrorIs(t, err, jobregistry.ErrJobNotFound)
	_, err = store.Get("old-running")
	assert.NoError(t, err)

	// After Forget, a fresh stream for a reused id starts from seq 1 again.
	ch, cancel := hub.Subscribe("old-done")
	defer cancel()
	hub.Publish(progress.Update{JobID: "old-done", Seq: 1, Status: "PENDING"})
	select {
	case u := <-ch:
		assert.Equal(t, uint64(1), u.Seq)
	case <-time.After(time.Second):
		t.Fatal("update dropped after Forget")
	}
}

func TestJobGC_Schedule(t *testing.T) {
	gc := &jobGC{store: jobregistry.NewMemoryStore(), retention: time.Hour, logger: zap.NewNop()}

	c, err := gc.schedule("@every 1m")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Len(t, c.Entries(), 1)

	_, err = gc.schedule("not a schedule")
	assert.Error(t, err)

	c, err = gc.schedule("")
	assert.NoError(t, err)
	assert.Nil(t, c)

	gc.retention = 0
	c, err = gc.schedule("@hourly")
	assert.NoError(t, err)
	assert.Nil(t, c)
}
