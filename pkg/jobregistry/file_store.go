package jobregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore persists JobRecords as JSON files in a directory.
//
// Directory layout:
//
//	<root>/<job_id>/job.json
//
// Each write goes to a temp file in the job dir and is renamed over job.json,
// so readers see either the previous or the next snapshot.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: strings.TrimSpace(root)}
}

func (s *FileStore) RootDir() string {
	return s.root
}

func (s *FileStore) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *FileStore) JobPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "job.json")
}

func (s *FileStore) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("job registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

func (s *FileStore) Create(record *JobRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.JobPath(record.JobID)); err == nil {
		return ErrJobExists
	}
	return s.write(record)
}

func (s *FileStore) Get(jobID string) (*JobRecord, error) {
	jobID, err := lookupJobID(jobID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(jobID)
}

func (s *FileStore) List() ([]JobRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs root: %w", err)
	}

	out := make([]JobRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := checkJobID(entry.Name()); err != nil {
			continue
		}
		rec, err := s.read(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *rec)
	}

	sortNewestFirst(out)
	return out, nil
}

func (s *FileStore) Update(jobID string, fn func(*JobRecord) error) (*JobRecord, error) {
	jobID, err := lookupJobID(jobID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(jobID)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.JobID = jobID
	rec.UpdatedAt = time.Now().UTC()
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *FileStore) Delete(jobID string) error {
	jobID, err := lookupJobID(jobID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.JobPath(jobID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrJobNotFound
		}
		return err
	}
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return nil
}

func (s *FileStore) read(jobID string) (*JobRecord, error) {
	b, err := os.ReadFile(s.JobPath(jobID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var record JobRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}
	return &record, nil
}

func (s *FileStore) write(record *JobRecord) error {
	if err := s.ensureRoot(); err != nil {
		return err
	}

	jobDir := s.JobDir(record.JobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}

	if err := os.Rename(tmpName, s.JobPath(record.JobID)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}
