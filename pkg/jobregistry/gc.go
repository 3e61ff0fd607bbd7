package jobregistry

import (
	"errors"
	"fmt"
	"time"
)

// PruneResult summarizes a Prune pass.
type PruneResult struct {
	Scanned int      `json:"scanned"`
	Deleted int      `json:"deleted"`
	JobIDs  []string `json:"job_ids,omitempty"`
	DryRun  bool     `json:"dry_run,omitempty"`
}

// Prune deletes terminal jobs that ended before now-maxAge.
//
// PENDING and PROCESSING jobs are never touched. With dryRun set, matching
// jobs are reported but not deleted.
func Prune(store Store, maxAge time.Duration, now time.Time, dryRun bool) (PruneResult, error) {
	if store == nil {
		return PruneResult{}, fmt.Errorf("job store is nil")
	}
	if maxAge <= 0 {
		return PruneResult{}, fmt.Errorf("max age must be > 0")
	}

	jobs, err := store.List()
	if err != nil {
		return PruneResult{}, err
	}

	cutoff := now.Add(-maxAge)
	res := PruneResult{Scanned: len(jobs), DryRun: dryRun}
	for _, j := range jobs {
		if !j.Status.Terminal() {
			continue
		}
		if !pruneTime(j).Before(cutoff) {
			continue
		}
		if !dryRun {
			if err := store.Delete(j.JobID); err != nil {
				if errors.Is(err, ErrJobNotFound) {
					continue
				}
				return res, fmt.Errorf("delete job %s: %w", j.JobID, err)
			}
		}
		res.Deleted++
		res.JobIDs = append(res.JobIDs, j.JobID)
	}
	return res, nil
}

func pruneTime(r JobRecord) time.Time {
	if r.EndedAt != nil {
		return r.EndedAt.UTC()
	}
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt.UTC()
	}
	return r.CreatedAt.UTC()
}
