package jobregistry

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Errors returned by Store implementations.
var (
	// ErrJobNotFound is returned when no record exists for a job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned by Create when the id is already taken.
	ErrJobExists = errors.New("job already exists")

	// ErrJobIDRequired is returned when an empty job id is supplied.
	ErrJobIDRequired = errors.New("job_id is required")

	// ErrInvalidJobID is returned by Create for ids that cannot name a
	// single path element.
	ErrInvalidJobID = errors.New("invalid job_id")
)

// Store holds job records keyed by job id.
//
// Implementations must be safe for concurrent use. Get and List return
// copies; callers never share memory with the stored snapshot.
type Store interface {
	// Create inserts a new record.
	Create(record *JobRecord) error

	// Get returns a snapshot of the record.
	Get(jobID string) (*JobRecord, error)

	// List returns all records, newest first.
	List() ([]JobRecord, error)

	// Update applies fn to a private copy of the record and replaces the
	// stored snapshot with it. If fn returns an error the stored record is
	// left untouched. Update never recreates a deleted record: it returns
	// ErrJobNotFound instead.
	Update(jobID string, fn func(*JobRecord) error) (*JobRecord, error)

	// Delete removes the record.
	Delete(jobID string) error
}

// MemoryStore is an in-process Store backed by a mutex-guarded map.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobRecord
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*JobRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(record *JobRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[record.JobID]; ok {
		return ErrJobExists
	}
	s.jobs[record.JobID] = record.Clone()
	return nil
}

func (s *MemoryStore) Get(jobID string) (*JobRecord, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, ErrJobIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) List() ([]JobRecord, error) {
	s.mu.RLock()
	out := make([]JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, *rec.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Update(jobID string, fn func(*JobRecord) error) (*JobRecord, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, ErrJobIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.JobID = jobID
	next.UpdatedAt = s.now()
	s.jobs[jobID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ErrJobIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func validateRecord(record *JobRecord) error {
	if record == nil {
		return errors.New("job record is nil")
	}
	_, err := checkJobID(record.JobID)
	return err
}

// checkJobID trims id and rejects ids that are empty or would resolve
// outside their own directory under a store root.
func checkJobID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrJobIDRequired
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return "", ErrInvalidJobID
	}
	return id, nil
}

// lookupJobID is checkJobID for reads and deletes: an id that can never be
// stored is simply not found.
func lookupJobID(id string) (string, error) {
	id, err := checkJobID(id)
	if errors.Is(err, ErrInvalidJobID) {
		return "", ErrJobNotFound
	}
	return id, err
}

func sortNewestFirst(out []JobRecord) {
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		if ti.Equal(tj) {
			return out[i].JobID > out[j].JobID
		}
		return ti.After(tj)
	})
}
