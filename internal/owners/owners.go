// Package owners resolves the accounts actions are performed for.
package owners

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ramiqadoumi/engageflow/internal/domain"
)

// Directory looks up owners by id. Implementations return *domain.NotFoundError
// for unknown ids and a copy the caller may modify.
type Directory interface {
	Owner(ctx context.Context, id string) (*domain.Owner, error)
}

// Static is an in-memory Directory.
type Static struct {
	mu     sync.RWMutex
	owners map[string]*domain.Owner
}

// NewStatic returns a directory holding owners. Rules are filled with defaults.
func NewStatic(owners ...*domain.Owner) *Static {
	s := &Static{owners: make(map[string]*domain.Owner, len(owners))}
	for _, o := range owners {
		s.owners[o.ID] = normalize(o)
	}
	return s
}

func (s *Static) Owner(_ context.Context, id string) (*domain.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.owners[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "owner", ID: id}
	}
	return clone(o), nil
}

// IDs returns every owner id.
func (s *Static) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.owners))
	for id := range s.owners {
		ids = append(ids, id)
	}
	return ids
}

func (s *Static) replace(owners map[string]*domain.Owner) {
	s.mu.Lock()
	s.owners = owners
	s.mu.Unlock()
}

type document struct {
	Owners []*domain.Owner `yaml:"owners"`
}

// Parse decodes and validates an owners YAML document.
func Parse(data []byte) (map[string]*domain.Owner, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode owners: %w", err)
	}
	out := make(map[string]*domain.Owner, len(doc.Owners))
	var errs []error
	for i, o := range doc.Owners {
		if o == nil {
			continue
		}
		o = normalize(o)
		if err := o.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("owners[%d]: %w", i, err))
			continue
		}
		if _, dup := out[o.ID]; dup {
			errs = append(errs, fmt.Errorf("owners[%d]: duplicate id %q", i, o.ID))
			continue
		}
		out[o.ID] = o
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// LoadFile reads and parses an owners file.
func LoadFile(path string) (map[string]*domain.Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read owners file: %w", err)
	}
	return Parse(data)
}

func normalize(o *domain.Owner) *domain.Owner {
	c := clone(o)
	c.Rules = c.Rules.WithDefaults()
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	return c
}

func clone(o *domain.Owner) *domain.Owner {
	c := *o
	c.Interests = append([]string(nil), o.Interests...)
	c.PreferredAt = append([]string(nil), o.PreferredAt...)
	c.Rules.SensitiveTopics = append([]string(nil), o.Rules.SensitiveTopics...)
	return &c
}
