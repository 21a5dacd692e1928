package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/resilience"
	"github.com/cityhive/directory/internal/store"
)

func TestExecute_CompletesPipeline(t *testing.T) {
	st := store.NewMemory()
	entity := newTestEntity("e1", model.EntityTypeRestaurant)
	require.NoError(t, st.CreateEntity(context.Background(), entity))

	first := &mockAdapter{result: &StepResult{
		Patch:  model.EntityPatch{Website: strPtr("https://example.com")},
		Digest: "abc",
	}}
	second := &mockAdapter{result: &StepResult{
		Patch:  model.EntityPatch{Description: strPtr("A fine venue.")},
		Digest: "def",
	}}
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps: []Step{
			{Name: "lookup", Adapter: first, Fatal: true},
			{Name: "describe", Adapter: second, Fatal: true},
		},
	}

	o := New(st, fastTestConfig())
	summary, err := o.Execute(context.Background(), "e1", def, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ExtractionCompleted, summary.Status)
	assert.Equal(t, 2, summary.StepsRun)
	assert.Empty(t, summary.FailedStep)

	got, err := st.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got.Website)
	assert.Equal(t, "A fine venue.", got.Description)
	assert.Equal(t, model.ExtractionCompleted, got.ExtractionStatus)
	assert.Equal(t, model.StepCompleted, got.Progress.Get("lookup").Status)
	assert.Equal(t, "abc", got.Progress.Get("lookup").Digest)
	assert.Equal(t, model.StepCompleted, got.Progress.Get("describe").Status)
}

// The stored status must always equal the status derived from stored
// progress, including mid-run where it reads processing.
func TestExecute_StatusMatchesProgressMidRun(t *testing.T) {
	st := store.NewMemory()
	entity := newTestEntity("e1", model.EntityTypeRestaurant)
	require.NoError(t, st.CreateEntity(context.Background(), entity))

	var def Definition
	checker := AdapterFunc(func(ctx context.Context, _ model.Entity) (*StepResult, error) {
		got, err := st.GetEntity(ctx, "e1")
		if err != nil {
			return nil, err
		}
		if got.ExtractionStatus != DeriveStatus(def, got.Progress) {
			return nil, eris.Errorf("status %s does not match derived %s",
				got.ExtractionStatus, DeriveStatus(def, got.Progress))
		}
		if got.ExtractionStatus != model.ExtractionProcessing {
			return nil, eris.Errorf("expected processing mid-run, got %s", got.ExtractionStatus)
		}
		return &StepResult{}, nil
	})
	def = Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps: []Step{
			{Name: "first", Adapter: checker, Fatal: true},
			{Name: "second", Adapter: checker, Fatal: true},
		},
	}

	o := New(st, fastTestConfig())
	summary, err := o.Execute(context.Background(), "e1", def, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionCompleted, summary.Status)

	got, err := st.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, DeriveStatus(def, got.Progress), got.ExtractionStatus)
}

func TestExecute_TransientErrorRecoversWithinRetries(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.CreateEntity(context.Background(), newTestEntity("e1", model.EntityTypeRestaurant)))

	flaky := &mockAdapter{
		failures: 2,
		failErr:  resilience.NewTransientError(eris.New("rate limited"), 429),
		result:   &StepResult{Digest: "ok"},
	}
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps:      []Step{{Name: "lookup", Adapter: flaky, Fatal: true}},
	}

	o := New(st, fastTestConfig())
	summary, err := o.Execute(context.Background(), "e1", def, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ExtractionCompleted, summary.Status)
	assert.Equal(t, 3, flaky.callCount())

	got, err := st.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Progress.Get("lookup").Attempts)
}

func TestExecute_TransientErrorExhaustsRetriesThenFails(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.CreateEntity(context.Background(), newTestEntity("e1", model.EntityTypeRestaurant)))

	down := &mockAdapter{failErr: resilience.NewTransientError(eris.New("upstream 503"), 503)}
	after := &mockAdapter{}
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps: []Step{
			{Name: "lookup", Adapter: down, Fatal: true},
			{Name: "describe", Adapter: after, Fatal: true},
		},
	}

	o := New(st, fastTestConfig())
	summary, err := o.Execute(context.Background(), "e1", def, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ExtractionFailed, summary.Status)
	assert.Equal(t, "lookup", summary.FailedStep)
	assert.Equal(t, 3, down.callCount())
	// A fatal failure halts the pipeline before later steps.
	assert.Equal(t, 0, after.callCount())

	got, err := st.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	state := got.Progress.Get("lookup")
	assert.Equal(t, model.StepFailed, state.Status)
	assert.Equal(t, 3, state.Attempts)
	assert.Contains(t, state.Error, "upstream 503")
	assert.Equal(t, model.StepPending, got.Progress.Get("describe").Status)
}

func TestExecute_UnexpectedErrorNotRetried(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.CreateEntity(context.Background(), newTestEntity("e1", model.EntityTypeRestaurant)))

	broken := &mockAdapter{failErr: eris.New("nil pointer in parser")}
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps:      []Step{{Name: "lookup", Adapter: broken, Fatal: true}},
	}

	o := New(st, fastTestConfig())
	summary, err := o.Execute(context.Background(), "e1", def, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ExtractionFailed, summary.Status)
	assert.Equal(t, 1, broken.callCount())
}

func TestExecute_InputErrorSkipsStep(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.CreateEntity(context.Background(), newTestEntity("e1", model.EntityTypeRestaurant)))

	noInput := &mockAdapter{failErr: NewInputError("no website to scrape")}
	after := &mockAdapter{}
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps: []Step{
			{Name: "scrape", Adapter: noInput, Fatal: true, SkipMissingInput: true},
			{Name: "describe", Adapter: after, Fatal: true},
		},
	}

	o := New(st, fastTestConfig())
	summary, err := o.Execute(context.Background(), "e1", def, Options{})
	require.NoError(t, err)

	// Input errors are permanent: exactly one attempt, no retries.
	assert.Equal(t, 1, noInput.callCount())
	assert.Equal(t, 1, summary.StepsSkipped)
	assert.Equal(t, 1, after.callCount())

	got, err := st.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	state := got.Progress.Get("scrape")
	assert.Equal(t, model.StepSkipped, state.Status)
	assert.Contains(t, state.Error, "no website to scrape")
	// A skipped fatal step leaves the record failed, not completed.
	assert.Equal(t, model.ExtractionFailed, got.ExtractionStatus)
}

func TestExecute_TolerableFailureContinues(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.CreateEntity(context.Background(), newTestEntity("e1", model.EntityTypeRestaurant)))

	flaky := &mockAdapter{failErr: eris.New("socials page unparseable")}
	after := &mockAdapter{}
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps: []Step{
			{Name: "socials", Adapter: flaky, Fatal: false},
			{Name: "describe", Adapter: after, Fatal: true},
		},
	}

	o := New(st, fastTestConfig())
	summary, err := o.Execute(context.Background(), "e1", def, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ExtractionCompleted, summary.Status)
	assert.Equal(t, 1, summary.StepsSkipped)
	assert.Equal(t, 1, summary.StepsRun)
	assert.Empty(t, summary.FailedStep)
	assert.Equal(t, 1, after.callCount())

	got, err := st.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	state := got.Progress.Get("socials")
	assert.Equal(t, model.StepSkipped, state.Status)
	assert.Contains(t, state.Error, "unparseable")
}

func TestExecute_SkipsCompletedSteps(t *testing.T) {
	st := store.NewMemory()
	entity := newTestEntity("e1", model.EntityTypeRestaurant)
	entity.Progress["lookup"] = model.StepState{Status: model.StepCompleted, Digest: "old"}
	require.NoError(t, st.CreateEntity(context.Background(), entity))

	first := &mockAdapter{}
	second := &mockAdapter{}
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps: []Step{
			{Name: "lookup", Adapter: first, Fatal: true},
			{Name: "describe", Adapter: second, Fatal: true},
		},
	}

	o := New(st, fastTestConfig())
	summary, err := o.Execute(context.Background(), "e1", def, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, first.callCount())
	assert.Equal(t, 1, second.callCount())
	assert.Equal(t, 1, summary.StepsRun)
	assert.Equal(t, model.ExtractionCompleted, summary.Status)
}

func TestExecute_ForceRerunResetsCompletedSteps(t *testing.T) {
	st := store.NewMemory()
	entity := newTestEntity("e1", model.EntityTypeRestaurant)
	entity.Progress["lookup"] = model.StepState{Status: model.StepCompleted, Digest: "old"}
	entity.Progress["describe"] = model.StepState{Status: model.StepSkipped, Error: "earlier failure"}
	require.NoError(t, st.CreateEntity(context.Background(), entity))

	first := &mockAdapter{result: &StepResult{Digest: "fresh"}}
	second := &mockAdapter{}
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps: []Step{
			{Name: "lookup", Adapter: first, Fatal: true},
			{Name: "describe", Adapter: second, Fatal: false},
		},
	}

	o := New(st, fastTestConfig())
	summary, err := o.Execute(context.Background(), "e1", def, Options{ForceRerun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, first.callCount())
	assert.Equal(t, 1, second.callCount())
	assert.Equal(t, 2, summary.StepsRun)

	got, err := st.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Progress.Get("lookup").Digest)
	assert.Empty(t, got.Progress.Get("describe").Error)
}

func TestExecute_ConcurrentRunRejected(t *testing.T) {
	rec := newRecordingStore(store.NewMemory())
	require.NoError(t, rec.Store.CreateEntity(context.Background(), newTestEntity("e1", model.EntityTypeRestaurant)))

	blocker := &mockAdapter{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps:      []Step{{Name: "lookup", Adapter: blocker, Fatal: true}},
	}

	type runOutcome struct {
		summary *RunSummary
		err     error
	}

	o := New(rec, fastTestConfig())
	done := make(chan runOutcome, 1)
	go func() {
		summary, err := o.Execute(context.Background(), "e1", def, Options{})
		done <- runOutcome{summary, err}
	}()

	select {
	case <-blocker.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started")
	}
	writesBefore := rec.writeCount()

	_, err := o.Execute(context.Background(), "e1", def, Options{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrAlreadyRunning))
	// The rejected run must not have written anything.
	assert.Equal(t, writesBefore, rec.writeCount())

	close(blocker.block)
	select {
	case outcome := <-done:
		require.NoError(t, outcome.err)
		assert.Equal(t, model.ExtractionCompleted, outcome.summary.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("first run never finished")
	}

	// Lock released: a new run is accepted again.
	_, err = o.Execute(context.Background(), "e1", def, Options{})
	require.NoError(t, err)
}

func TestExecute_EntityTypeMismatch(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.CreateEntity(context.Background(), newTestEntity("e1", model.EntityTypeHotel)))

	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps:      []Step{{Name: "lookup", Adapter: &mockAdapter{}, Fatal: true}},
	}

	o := New(st, fastTestConfig())
	_, err := o.Execute(context.Background(), "e1", def, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline is for")
}

func TestExecute_EntityNotFound(t *testing.T) {
	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps:      []Step{{Name: "lookup", Adapter: &mockAdapter{}, Fatal: true}},
	}

	o := New(store.NewMemory(), fastTestConfig())
	_, err := o.Execute(context.Background(), "missing", def, Options{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestExecute_InvalidDefinitionRejected(t *testing.T) {
	o := New(store.NewMemory(), fastTestConfig())
	_, err := o.Execute(context.Background(), "e1", Definition{EntityType: model.EntityTypeRestaurant}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestExecute_PersistenceFailureSurfaces(t *testing.T) {
	inner := store.NewMemory()
	require.NoError(t, inner.CreateEntity(context.Background(), newTestEntity("e1", model.EntityTypeRestaurant)))
	st := &faultyStore{Store: inner, resultsUntil: 0}

	def := Definition{
		EntityType: model.EntityTypeRestaurant,
		Steps:      []Step{{Name: "lookup", Adapter: &mockAdapter{}, Fatal: true}},
	}

	o := New(st, fastTestConfig())
	_, err := o.Execute(context.Background(), "e1", def, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
