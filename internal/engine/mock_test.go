package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/resilience"
	"github.com/cityhive/directory/internal/store"
)

// fastRetryConfig keeps retry semantics (3 attempts) without real backoff.
func fastTestConfig() Config {
	return Config{
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2.0,
			JitterFraction: 0,
		},
		StepTimeout:         time.Second,
		StaleRunningTimeout: 15 * time.Minute,
	}
}

func newTestEntity(id string, t model.EntityType) *model.Entity {
	return &model.Entity{
		ID:               id,
		Type:             t,
		Name:             "Test Venue",
		ExtractionStatus: model.ExtractionPending,
		Progress:         model.Progress{},
	}
}

// mockAdapter is a scripted step adapter. It fails with failErr for the
// first failures calls, then succeeds with the configured result.
type mockAdapter struct {
	mu       sync.Mutex
	calls    int
	failures int
	failErr  error
	result   *StepResult

	// block, when non-nil, is closed by the test to let Execute return;
	// started is closed on entry so the test can synchronize.
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (m *mockAdapter) Execute(ctx context.Context, _ model.Entity) (*StepResult, error) {
	m.mu.Lock()
	m.calls++
	calls := m.calls
	m.mu.Unlock()

	if m.started != nil {
		m.once.Do(func() { close(m.started) })
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.failErr != nil && (m.failures <= 0 || calls <= m.failures) {
		return nil, m.failErr
	}
	if m.result != nil {
		return m.result, nil
	}
	return &StepResult{Digest: "ok"}, nil
}

func (m *mockAdapter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingStore wraps another store and counts write calls per method.
type recordingStore struct {
	store.Store

	mu     sync.Mutex
	writes map[string]int
}

func newRecordingStore(inner store.Store) *recordingStore {
	return &recordingStore{Store: inner, writes: make(map[string]int)}
}

func (r *recordingStore) bump(method string) {
	r.mu.Lock()
	r.writes[method]++
	r.mu.Unlock()
}

func (r *recordingStore) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.writes {
		total += n
	}
	return total
}

func (r *recordingStore) UpdateEntity(ctx context.Context, e *model.Entity) error {
	r.bump("UpdateEntity")
	return r.Store.UpdateEntity(ctx, e)
}

func (r *recordingStore) RecordStepStart(ctx context.Context, entityID, step string, at time.Time) error {
	r.bump("RecordStepStart")
	return r.Store.RecordStepStart(ctx, entityID, step, at)
}

func (r *recordingStore) RecordStepResult(ctx context.Context, entityID, step string, state model.StepState) error {
	r.bump("RecordStepResult")
	return r.Store.RecordStepResult(ctx, entityID, step, state)
}

func (r *recordingStore) SetExtractionStatus(ctx context.Context, entityID string, status model.ExtractionStatus) error {
	r.bump("SetExtractionStatus")
	return r.Store.SetExtractionStatus(ctx, entityID, status)
}

// faultyStore fails RecordStepResult after a given number of successes.
type faultyStore struct {
	store.Store

	mu           sync.Mutex
	resultsUntil int
	results      int
}

func (f *faultyStore) RecordStepResult(ctx context.Context, entityID, step string, state model.StepState) error {
	f.mu.Lock()
	f.results++
	fail := f.results > f.resultsUntil
	f.mu.Unlock()
	if fail {
		return eris.New("disk full")
	}
	return f.Store.RecordStepResult(ctx, entityID, step, state)
}

func strPtr(s string) *string { return &s }
