package jobregistry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"file":   func() Store { return NewFileStore(t.TempDir()) },
	}
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
			idx := 1
			rec := &JobRecord{
				JobID:      "job-1",
				Status:     JobStatusPending,
				TemplateID: "t1",
				TotalItems: 2,
				CreatedAt:  now,
				UpdatedAt:  now,
				Results: Results{
					AdIDs:    []string{"ad1"},
					Failures: []JobError{{Stage: StageItem, ItemRef: "m2", ItemIndex: &idx, Message: "boom"}},
				},
			}

			if err := s.Create(rec); err != nil {
				t.Fatalf("Create() error: %v", err)
			}

			got, err := s.Get("job-1")
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if got.JobID != rec.JobID {
				t.Fatalf("job_id mismatch: got=%q want=%q", got.JobID, rec.JobID)
			}
			if got.Status != JobStatusPending {
				t.Fatalf("status mismatch: got=%q", got.Status)
			}
			require.Len(t, got.Results.Failures, 1)
			assert.Equal(t, "m2", got.Results.Failures[0].ItemRef)
			require.NotNil(t, got.Results.Failures[0].ItemIndex)
			assert.Equal(t, 1, *got.Results.Failures[0].ItemIndex)
			assert.Equal(t, []string{"ad1"}, got.Results.AdIDs)
		})
	}
}

func TestStore_CreateRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			require.NoError(t, s.Create(&JobRecord{JobID: "job-1", Status: JobStatusPending}))

			err := s.Create(&JobRecord{JobID: "job-1", Status: JobStatusPending})
			assert.ErrorIs(t, err, ErrJobExists)

			err = s.Create(&JobRecord{JobID: "  "})
			assert.ErrorIs(t, err, ErrJobIDRequired)

			for _, id := range []string{".", "..", "a/b", `a\b`, "../job-1"} {
				assert.ErrorIs(t, s.Create(&JobRecord{JobID: id}), ErrInvalidJobID, id)
			}

			assert.Error(t, s.Create(nil))
		})
	}
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
			t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)

			require.NoError(t, s.Create(&JobRecord{JobID: "job-1", Status: JobStatusCompleted, CreatedAt: t1}))
			require.NoError(t, s.Create(&JobRecord{JobID: "job-2", Status: JobStatusPending, CreatedAt: t2}))

			got, err := s.List()
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "job-2", got[0].JobID)
			assert.Equal(t, "job-1", got[1].JobID)
		})
	}
}

func TestStore_GetAndDeleteMissing(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()

			_, err := s.Get("nope")
			assert.ErrorIs(t, err, ErrJobNotFound)

			err = s.Delete("nope")
			assert.ErrorIs(t, err, ErrJobNotFound)

			require.NoError(t, s.Create(&JobRecord{JobID: "job-1"}))
			require.NoError(t, s.Delete("job-1"))

			_, err = s.Get("job-1")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestStore_UpdateSwapsSnapshot(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			require.NoError(t, s.Create(&JobRecord{JobID: "job-1", Status: JobStatusPending, TotalItems: 3}))

			before, err := s.Get("job-1")
			require.NoError(t, err)

			updated, err := s.Update("job-1", func(r *JobRecord) error {
				r.Status = JobStatusProcessing
				r.CreatedCount = 1
				r.Results.AdIDs = append(r.Results.AdIDs, "ad1")
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, JobStatusProcessing, updated.Status)
			assert.False(t, updated.UpdatedAt.IsZero())

			// Snapshots returned earlier are unaffected.
			assert.Equal(t, JobStatusPending, before.Status)
			assert.Empty(t, before.Results.AdIDs)

			got, err := s.Get("job-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"ad1"}, got.Results.AdIDs)
			assert.Equal(t, 1, got.CreatedCount)
		})
	}
}

func TestStore_UpdateErrorLeavesRecordUntouched(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			require.NoError(t, s.Create(&JobRecord{JobID: "job-1", Status: JobStatusPending}))

			boom := errors.New("boom")
			_, err := s.Update("job-1", func(r *JobRecord) error {
				r.Status = JobStatusFailed
				return boom
			})
			assert.ErrorIs(t, err, boom)

			got, err := s.Get("job-1")
			require.NoError(t, err)
			assert.Equal(t, JobStatusPending, got.Status)
		})
	}
}

func TestStore_UpdateNeverRecreatesDeletedRecord(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			require.NoError(t, s.Create(&JobRecord{JobID: "job-1", Status: JobStatusProcessing}))
			require.NoError(t, s.Delete("job-1"))

			_, err := s.Update("job-1", func(r *JobRecord) error {
				r.Progress = 50
				return nil
			})
			assert.ErrorIs(t, err, ErrJobNotFound)

			_, err = s.Get("job-1")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	const jobs = 20

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			_ = s.Create(&JobRecord{JobID: id, Status: JobStatusPending, TotalItems: 10})
			for n := 0; n < 10; n++ {
				_, _ = s.Update(id, func(r *JobRecord) error {
					r.CreatedCount++
					return nil
				})
				_, _ = s.Get(id)
				_, _ = s.List()
			}
		}(i)
	}
	wg.Wait()

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, jobs)
	for _, rec := range all {
		assert.Equal(t, 10, rec.CreatedCount, rec.JobID)
	}
}

func TestFileStore_WritesJobFileUnderJobDir(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)
	require.NoError(t, s.Create(&JobRecord{JobID: "job-1"}))

	assert.FileExists(t, s.JobPath("job-1"))
	assert.Equal(t, root, s.RootDir())
}

func TestFileStore_EmptyRoot(t *testing.T) {
	s := NewFileStore("  ")
	err := s.Create(&JobRecord{JobID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root dir is empty")
}

func TestFileStore_IDsCannotEscapeRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "jobs")
	s := NewFileStore(root)
	require.NoError(t, s.Create(&JobRecord{JobID: "job-1", Status: JobStatusCompleted}))

	// A job.json one level up must never be reachable through the store.
	outside := []byte(`{"job_id":"x","status":"COMPLETED"}`)
	require.NoError(t, os.WriteFile(filepath.Join(parent, "job.json"), outside, 0o644))
	keep := filepath.Join(parent, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("keep"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "job.json"), outside, 0o644))

	for _, id := range []string{"..", ".", "a/b", "../jobs/job-1"} {
		t.Run(id, func(t *testing.T) {
			_, err := s.Get(id)
			assert.ErrorIs(t, err, ErrJobNotFound)

			_, err = s.Update(id, func(r *JobRecord) error {
				r.Status = JobStatusFailed
				return nil
			})
			assert.ErrorIs(t, err, ErrJobNotFound)

			assert.ErrorIs(t, s.Delete(id), ErrJobNotFound)
		})
	}

	assert.FileExists(t, keep)
	assert.FileExists(t, filepath.Join(parent, "job.json"))
	assert.FileExists(t, filepath.Join(root, "a", "b", "job.json"))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "job-1", list[0].JobID)
}
