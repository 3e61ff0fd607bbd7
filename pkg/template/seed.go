package template

import (
	"errors"
	"fmt"

	"github.com/3leaps/adfanout/pkg/manifest"
)

// SeedFile is the on-disk format for template seeds.
//
//	templates:
//	  - id: spring-sale
//	    name: Spring Sale
//	    ad_copy:
//	      headline: 20% off everything
//	      primary_text: Ends Sunday.
type SeedFile struct {
	Templates []Template `json:"templates"`
}

// LoadSeed reads a seed file (YAML or JSON).
func LoadSeed(path string) ([]Template, error) {
	var f SeedFile
	if err := manifest.Load(path, &f); err != nil {
		return nil, err
	}
	for i := range f.Templates {
		if err := f.Templates[i].Validate(); err != nil {
			return nil, fmt.Errorf("template %d (%s): %w", i, f.Templates[i].Name, err)
		}
	}
	return f.Templates, nil
}

// Seed creates every template that does not exist yet and returns how many
// were created. Templates without an id are always created.
func Seed(store Store, templates []Template) (int, error) {
	created := 0
	for i := range templates {
		t := templates[i]
		if id := normalizeID(t.ID); id != "" {
			if _, err := store.Get(id); err == nil {
				continue
			} else if !errors.Is(err, ErrTemplateNotFound) {
				return created, err
			}
		}
		if _, err := store.Create(&t); err != nil {
			return created, fmt.Errorf("seed template %q: %w", t.Name, err)
		}
		created++
	}
	return created, nil
}
