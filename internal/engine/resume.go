package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/model"
)

// Resume replays only the unfinished suffix of a previously started
// extraction: failed steps and steps stuck at running since before the stale
// threshold are reset to pending, then the pipeline re-executes with
// completed steps skipped. Some steps cost real money per call — this is
// the replacement for re-running whole pipelines from scratch.
func (o *Orchestrator) Resume(ctx context.Context, entityID string, def Definition) (*RunSummary, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if o.locks.held(entityID) {
		return nil, ErrAlreadyRunning
	}

	entity, err := o.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load entity for resume")
	}
	if entity.Progress == nil {
		entity.Progress = make(model.Progress, len(def.Steps))
	}

	now := time.Now().UTC()
	var reset []string
	for _, step := range def.Steps {
		st := entity.Progress.Get(step.Name)
		switch st.Status {
		case model.StepFailed:
			reset = append(reset, step.Name)
		case model.StepRunning:
			if st.StartedAt == nil || now.Sub(*st.StartedAt) >= o.cfg.StaleRunningTimeout {
				// A normally-exiting process never leaves a step at
				// running; an old timestamp means the owning process died.
				reset = append(reset, step.Name)
			} else {
				return nil, ErrAlreadyRunning
			}
		}
	}

	if len(reset) > 0 {
		zap.L().Info("extraction: resetting unfinished steps for resume",
			zap.String("entity", entityID),
			zap.Strings("steps", reset),
		)
		if err := o.resetSteps(ctx, entity, reset); err != nil {
			return nil, err
		}
	}

	return o.Execute(ctx, entityID, def, Options{ForceRerun: false})
}
