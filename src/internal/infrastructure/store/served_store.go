package store

import (
	"sort"
	"sync"
	"time"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

// ServedProject describes a project the hosting controller is serving.
type ServedProject struct {
	Project    entity.Slug
	ReloadedAt time.Time
	Reloads    int
}

// ServedStore is the hosting controller's view of which projects are live.
type ServedStore struct {
	mu       sync.RWMutex
	projects map[entity.Slug]ServedProject
}

// NewServedStore creates an empty store.
func NewServedStore() *ServedStore {
	return &ServedStore{projects: make(map[entity.Slug]ServedProject)}
}

// MarkReloaded starts serving project, or counts another reload when it
// is already served.
func (s *ServedStore) MarkReloaded(project entity.Slug, at time.Time) ServedProject {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.projects[project]
	p.Project = project
	p.ReloadedAt = at
	p.Reloads++
	s.projects[project] = p
	return p
}

// Stop removes project. It reports whether the project was served.
func (s *ServedStore) Stop(project entity.Slug) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.projects[project]
	delete(s.projects, project)
	return ok
}

// Get returns the state of a served project.
func (s *ServedStore) Get(project entity.Slug) (ServedProject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[project]
	return p, ok
}

// List returns the served projects ordered by display slug.
func (s *ServedStore) List() []ServedProject {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ServedProject, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Project.String() < out[j].Project.String()
	})
	return out
}
