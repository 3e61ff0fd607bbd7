package template

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Provider resolves a template id to a snapshot.
type Provider interface {
	Get(id string) (*Template, error)
}

// Store is the full template repository.
type Store interface {
	Provider

	// Create assigns an id when t.ID is empty, stamps timestamps, and stores
	// a copy. It returns the stored template.
	Create(t *Template) (*Template, error)

	// Update replaces an existing template, keeping its CreatedAt.
	Update(t *Template) (*Template, error)

	// Delete removes a template.
	Delete(id string) error

	// List returns all templates ordered by name.
	List() ([]Template, error)
}

// ErrTemplateExists is returned by Create when the id is already taken.
var ErrTemplateExists = errors.New("template already exists")

// MemoryStore keeps templates in a mutex-guarded map.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
	now       func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*Template),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[normalizeID(id)]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Create(t *Template) (*Template, error) {
	if t == nil {
		return nil, errors.New("template is nil")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	c := t.Clone()
	c.ID = normalizeID(c.ID)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[c.ID]; ok {
		return nil, ErrTemplateExists
	}
	s.templates[c.ID] = c
	return c.Clone(), nil
}

func (s *MemoryStore) Update(t *Template) (*Template, error) {
	if t == nil {
		return nil, errors.New("template is nil")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	c := t.Clone()
	c.ID = normalizeID(c.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.templates[c.ID]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now()
	s.templates[c.ID] = c
	return c.Clone(), nil
}

func (s *MemoryStore) Delete(id string) error {
	id = normalizeID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return ErrTemplateNotFound
	}
	delete(s.templates, id)
	return nil
}

func (s *MemoryStore) List() ([]Template, error) {
	s.mu.RLock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, *t.Clone())
	}
	s.mu.RUnlock()
	sortTemplates(out)
	return out, nil
}

func sortTemplates(out []Template) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
}
