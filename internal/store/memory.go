package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cityhive/directory/internal/model"
)

// MemoryStore is an in-memory Store used by tests and local experiments.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[string]*model.Entity
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{entities: make(map[string]*model.Entity)}
}

// Migrate is a no-op for the in-memory backend.
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }

// CreateEntity inserts a new entity record.
func (s *MemoryStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Progress == nil {
		e.Progress = make(model.Progress)
	}
	cp := e.Snapshot()
	s.entities[e.ID] = &cp
	return nil
}

// GetEntity loads one entity by id.
func (s *MemoryStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := e.Snapshot()
	return &cp, nil
}

// GetEntityByPlaceID loads the oldest entity with the given provider key.
func (s *MemoryStore) GetEntityByPlaceID(ctx context.Context, placeID string) (*model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.Entity
	for _, e := range s.entities {
		if e.PlaceID != placeID {
			continue
		}
		if found == nil || e.CreatedAt.Before(found.CreatedAt) {
			found = e
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := found.Snapshot()
	return &cp, nil
}

// UpdateEntity persists the descriptive and raw provider fields.
func (s *MemoryStore) UpdateEntity(ctx context.Context, e *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entities[e.ID]
	if !ok {
		return ErrNotFound
	}
	cp := e.Snapshot()
	// Progress and status keep their own write paths.
	cp.Progress = cur.Progress.Clone()
	cp.ExtractionStatus = cur.ExtractionStatus
	cp.UpdatedAt = time.Now().UTC()
	s.entities[e.ID] = &cp
	return nil
}

// ListEntities returns entities matching the filter, newest first.
func (s *MemoryStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Entity
	for _, e := range s.entities {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Status != "" && e.ExtractionStatus != filter.Status {
			continue
		}
		if filter.City != "" && e.City != filter.City {
			continue
		}
		if !filter.CreatedAfter.IsZero() && !e.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		out = append(out, e.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// LoadProgress returns the embedded progress map for an entity.
func (s *MemoryStore) LoadProgress(ctx context.Context, entityID string) (model.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Progress.Clone(), nil
}

// RecordStepStart marks a step running.
func (s *MemoryStore) RecordStepStart(ctx context.Context, entityID, step string, at time.Time) error {
	return s.RecordStepResult(ctx, entityID, step, model.StepState{Status: model.StepRunning, StartedAt: &at})
}

// RecordStepResult writes a step's state.
func (s *MemoryStore) RecordStepResult(ctx context.Context, entityID, step string, state model.StepState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return ErrNotFound
	}
	if e.Progress == nil {
		e.Progress = make(model.Progress)
	}
	e.Progress[step] = state
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// SetExtractionStatus writes the derived overall status.
func (s *MemoryStore) SetExtractionStatus(ctx context.Context, entityID string, status model.ExtractionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return ErrNotFound
	}
	e.ExtractionStatus = status
	e.UpdatedAt = time.Now().UTC()
	return nil
}
