// Package engine implements the extraction orchestration core: pipeline
// definitions, the orchestrator, the resumption controller, and the status
// reporter. One engine serves every entity type; each type supplies only its
// own pipeline definition.
package engine

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/model"
)

// StepResult is what a step adapter returns on success.
type StepResult struct {
	// Patch holds the entity fields this step produced.
	Patch model.EntityPatch

	// Raw is the provider payload, persisted on the entity for later steps
	// and for audit.
	Raw json.RawMessage

	// Digest is a short fingerprint of the result, recorded in progress.
	Digest string
}

// Adapter wraps one external capability. Adapters are stateless, never
// persist anything themselves, and signal failure through the error
// taxonomy: resilience.TransientError (retryable), engine.InputError
// (permanent, not retryable), anything else (unexpected, not retried).
type Adapter interface {
	Execute(ctx context.Context, entity model.Entity) (*StepResult, error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, entity model.Entity) (*StepResult, error)

// Execute implements Adapter.
func (f AdapterFunc) Execute(ctx context.Context, entity model.Entity) (*StepResult, error) {
	return f(ctx, entity)
}

// Step is one named stage of a pipeline definition.
type Step struct {
	Name    string
	Adapter Adapter

	// Fatal aborts the whole pipeline when this step permanently fails.
	// Non-fatal failures are recorded as skipped-with-error and the
	// pipeline continues.
	Fatal bool

	// SkipMissingInput records a permanent input error as a plain skip
	// even on a fatal step (e.g. nothing to scrape is not a failure).
	SkipMissingInput bool
}

// Definition is the ordered list of steps for one entity type. Definitions
// live in code, not in storage; step order is a total order because later
// steps depend on fields earlier steps populate.
type Definition struct {
	EntityType model.EntityType
	Steps      []Step
}

// Validate checks that the definition is well formed: at least one step,
// unique non-empty names, and an adapter on every step.
func (d Definition) Validate() error {
	if !d.EntityType.Valid() {
		return eris.Errorf("engine: unknown entity type %q", d.EntityType)
	}
	if len(d.Steps) == 0 {
		return eris.Errorf("engine: pipeline for %s has no steps", d.EntityType)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return eris.Errorf("engine: pipeline for %s: step %d has no name", d.EntityType, i)
		}
		if seen[s.Name] {
			return eris.Errorf("engine: pipeline for %s: duplicate step %q", d.EntityType, s.Name)
		}
		seen[s.Name] = true
		if s.Adapter == nil {
			return eris.Errorf("engine: pipeline for %s: step %q has no adapter", d.EntityType, s.Name)
		}
	}
	return nil
}

// StepNames returns the ordered step names.
func (d Definition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

// Step looks up a step by name.
func (d Definition) Step(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}
