// Package store defines the persistence layer for entity records and their
// embedded extraction progress, with Postgres and SQLite backends.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/model"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = eris.New("store: entity not found")

// EntityFilter specifies criteria for listing entities.
type EntityFilter struct {
	Type   model.EntityType       `json:"type,omitempty"`
	Status model.ExtractionStatus `json:"status,omitempty"`
	City   string                 `json:"city,omitempty"`

	// CreatedAfter restricts results to entities created after the given
	// time. Zero means no restriction.
	CreatedAfter time.Time `json:"created_after,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store is the persistence interface for the extraction engine. Progress
// writes are atomic per step entry: concurrent writers never interleave
// partial updates to the same step's state.
type Store interface {
	// Entities
	CreateEntity(ctx context.Context, e *model.Entity) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	GetEntityByPlaceID(ctx context.Context, placeID string) (*model.Entity, error)
	// UpdateEntity persists the entity's descriptive and raw provider
	// fields. It does not touch extraction progress or status.
	UpdateEntity(ctx context.Context, e *model.Entity) error
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error)

	// Progress
	LoadProgress(ctx context.Context, entityID string) (model.Progress, error)
	RecordStepStart(ctx context.Context, entityID, step string, at time.Time) error
	RecordStepResult(ctx context.Context, entityID, step string, state model.StepState) error
	SetExtractionStatus(ctx context.Context, entityID string, status model.ExtractionStatus) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
