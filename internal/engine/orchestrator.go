package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/resilience"
	"github.com/cityhive/directory/internal/store"
)

// Config holds the tunable knobs of the orchestrator. Every value comes from
// configuration, not hardcoded policy.
type Config struct {
	// Retry governs transient-error retries per step.
	Retry resilience.RetryConfig

	// StepTimeout bounds a single adapter attempt. Zero disables the bound.
	StepTimeout time.Duration

	// StaleRunningTimeout is how old a step's started_at must be before a
	// "running" entry left behind by a dead process is treated as failed.
	StaleRunningTimeout time.Duration
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Retry:               resilience.DefaultRetryConfig(),
		StepTimeout:         2 * time.Minute,
		StaleRunningTimeout: 15 * time.Minute,
	}
}

// Options modify a single orchestrator run.
type Options struct {
	// ForceRerun re-executes steps already marked completed. Operators use
	// it when upstream provider data has materially changed.
	ForceRerun bool
}

// RunSummary describes the outcome of one orchestrator run.
type RunSummary struct {
	EntityID     string                 `json:"entity_id"`
	Status       model.ExtractionStatus `json:"status"`
	StepsRun     int                    `json:"steps_run"`
	StepsSkipped int                    `json:"steps_skipped"`
	FailedStep   string                 `json:"failed_step,omitempty"`
	Duration     time.Duration          `json:"duration"`
}

// Orchestrator executes pipeline definitions against entity records. It is
// the single place that decides retry vs. fatal vs. tolerable — adapters
// only classify their errors.
type Orchestrator struct {
	store store.Store
	cfg   Config
	locks *runLocks
}

// New creates an Orchestrator backed by the given store.
func New(st store.Store, cfg Config) *Orchestrator {
	if cfg.StaleRunningTimeout <= 0 {
		cfg.StaleRunningTimeout = 15 * time.Minute
	}
	return &Orchestrator{
		store: st,
		cfg:   cfg,
		locks: newRunLocks(),
	}
}

// Execute runs the pipeline definition against one entity. Steps already
// completed are skipped unless opts.ForceRerun is set; each step's result is
// durably persisted before the next step begins. Returns ErrAlreadyRunning
// if a run is active for the entity.
func (o *Orchestrator) Execute(ctx context.Context, entityID string, def Definition, opts Options) (*RunSummary, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if err := o.locks.acquire(entityID); err != nil {
		return nil, err
	}
	// Scoped acquisition: released on success, handled failure, and panic.
	defer o.locks.release(entityID)

	entity, err := o.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load entity")
	}
	if entity.Type != def.EntityType {
		return nil, eris.Errorf("engine: entity %s is %s, pipeline is for %s", entityID, entity.Type, def.EntityType)
	}
	if entity.Progress == nil {
		entity.Progress = make(model.Progress, len(def.Steps))
	}

	log := zap.L().With(
		zap.String("entity", entityID),
		zap.String("type", string(entity.Type)),
		zap.String("name", entity.Name),
	)
	log.Info("extraction: starting run", zap.Bool("force_rerun", opts.ForceRerun))

	if opts.ForceRerun {
		if err := o.resetSteps(ctx, entity, def.StepNames()); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	summary := &RunSummary{EntityID: entityID}

	for _, step := range def.Steps {
		st := entity.Progress.Get(step.Name)

		// Completed steps are what makes resumption cheap; tolerable skips
		// keep their earlier decision.
		if st.Status == model.StepCompleted || st.Status == model.StepSkipped {
			continue
		}

		if err := o.runOne(ctx, entity, def, step, summary, log); err != nil {
			return summary, err
		}
		if summary.FailedStep != "" {
			break
		}
	}

	status, err := o.syncStatus(ctx, entity, def)
	if err != nil {
		return summary, err
	}
	summary.Status = status
	summary.Duration = time.Since(start)

	log.Info("extraction: run finished",
		zap.String("status", string(status)),
		zap.Int("steps_run", summary.StepsRun),
		zap.Int("steps_skipped", summary.StepsSkipped),
		zap.String("failed_step", summary.FailedStep),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// runOne executes a single step and persists its outcome. A returned error
// means persistence failed, not that the step failed — step failures are
// recorded in progress and reflected through summary.FailedStep.
func (o *Orchestrator) runOne(ctx context.Context, entity *model.Entity, def Definition, step Step, summary *RunSummary, log *zap.Logger) error {
	startedAt := time.Now().UTC()
	entity.Progress[step.Name] = model.StepState{Status: model.StepRunning, StartedAt: &startedAt}
	if err := o.store.RecordStepStart(ctx, entity.ID, step.Name, startedAt); err != nil {
		return eris.Wrapf(err, "engine: record start of %s", step.Name)
	}
	if _, err := o.syncStatus(ctx, entity, def); err != nil {
		return err
	}

	result, attempts, stepErr := o.invoke(ctx, step, entity)
	completedAt := time.Now().UTC()

	state := model.StepState{
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
		Attempts:    attempts,
	}

	switch {
	case stepErr == nil:
		// Persist the merged record before marking the step completed, so a
		// crash between the two re-runs the step instead of losing output.
		entity.Apply(result.Patch)
		entity.SetRaw(step.Name, result.Raw)
		if err := o.store.UpdateEntity(ctx, entity); err != nil {
			return eris.Wrapf(err, "engine: persist output of %s", step.Name)
		}
		state.Status = model.StepCompleted
		state.Digest = result.Digest
		summary.StepsRun++
		log.Info("extraction: step completed",
			zap.String("step", step.Name),
			zap.Int("attempts", attempts),
		)

	case IsInputError(stepErr) && (step.SkipMissingInput || !step.Fatal):
		state.Status = model.StepSkipped
		state.Error = stepErr.Error()
		summary.StepsSkipped++
		log.Info("extraction: step skipped, missing input",
			zap.String("step", step.Name),
			zap.String("reason", stepErr.Error()),
		)

	case !step.Fatal:
		// Tolerable failure: recorded and skipped so the rest of the
		// pipeline still runs (a venue without social media should not
		// block the whole record).
		state.Status = model.StepSkipped
		state.Error = stepErr.Error()
		summary.StepsSkipped++
		log.Warn("extraction: tolerable step failed, continuing",
			zap.String("step", step.Name),
			zap.Int("attempts", attempts),
			zap.Error(stepErr),
		)

	default:
		state.Status = model.StepFailed
		state.Error = stepErr.Error()
		summary.FailedStep = step.Name
		log.Error("extraction: fatal step failed",
			zap.String("step", step.Name),
			zap.Int("attempts", attempts),
			zap.Error(stepErr),
		)
	}

	entity.Progress[step.Name] = state
	if err := o.store.RecordStepResult(ctx, entity.ID, step.Name, state); err != nil {
		return eris.Wrapf(err, "engine: record result of %s", step.Name)
	}
	return nil
}

// invoke runs the adapter with the retry policy. Only transient provider
// errors are retried; input errors and unexpected errors surface after the
// first attempt.
func (o *Orchestrator) invoke(ctx context.Context, step Step, entity *model.Entity) (*StepResult, int, error) {
	attempts := 0
	cfg := o.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger("extraction", step.Name)

	result, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*StepResult, error) {
		attempts++

		runCtx := ctx
		if o.cfg.StepTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
			defer cancel()
		}

		res, execErr := step.Adapter.Execute(runCtx, entity.Snapshot())
		if execErr != nil {
			return nil, execErr
		}
		if res == nil {
			res = &StepResult{}
		}
		return res, nil
	})
	return result, attempts, err
}

// resetSteps writes pending state for the named steps, in memory and in the
// store. Used by forced reruns and the resumption controller.
func (o *Orchestrator) resetSteps(ctx context.Context, entity *model.Entity, names []string) error {
	for _, name := range names {
		pending := model.StepState{Status: model.StepPending}
		entity.Progress[name] = pending
		if err := o.store.RecordStepResult(ctx, entity.ID, name, pending); err != nil {
			return eris.Wrapf(err, "engine: reset step %s", name)
		}
	}
	return nil
}

// syncStatus derives the extraction status from progress and persists it.
// This is the only code path that writes extraction_status.
func (o *Orchestrator) syncStatus(ctx context.Context, entity *model.Entity, def Definition) (model.ExtractionStatus, error) {
	status := DeriveStatus(def, entity.Progress)
	if err := o.store.SetExtractionStatus(ctx, entity.ID, status); err != nil {
		return status, eris.Wrap(err, "engine: sync extraction status")
	}
	entity.ExtractionStatus = status
	return status, nil
}
