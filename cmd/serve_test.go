//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/directory"
	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/monitoring"
	"github.com/cityhive/directory/internal/resilience"
	"github.com/cityhive/directory/internal/seed"
	"github.com/cityhive/directory/internal/store"
	"github.com/cityhive/directory/pkg/anthropic"
	"github.com/cityhive/directory/pkg/geocode"
	"github.com/cityhive/directory/pkg/jina"
	"github.com/cityhive/directory/pkg/places"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// Provider stubs that always fail. Handler tests exercise routing and
// persistence, not pipeline outcomes, so every upstream call erroring
// out keeps background extractions short and deterministic.

type stubPlaces struct{}

func (stubPlaces) Details(context.Context, string) (*places.Place, error) {
	return nil, eris.New("places unavailable")
}
func (stubPlaces) SearchText(context.Context, string) (*places.TextSearchResponse, error) {
	return nil, eris.New("places unavailable")
}
func (stubPlaces) Reviews(context.Context, string) ([]places.Review, error) {
	return nil, eris.New("places unavailable")
}
func (stubPlaces) Photos(context.Context, string) ([]places.Photo, error) {
	return nil, eris.New("places unavailable")
}

type stubJina struct{}

func (stubJina) Read(context.Context, string) (*jina.ReadResponse, error) {
	return nil, eris.New("jina unavailable")
}
func (stubJina) Search(context.Context, string, ...jina.SearchOption) (*jina.SearchResponse, error) {
	return nil, eris.New("jina unavailable")
}

type stubAI struct{}

func (stubAI) CreateMessage(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return nil, eris.New("ai unavailable")
}

type stubGeocoder struct{}

func (stubGeocoder) Geocode(context.Context, geocode.AddressInput) (*geocode.Result, error) {
	return nil, eris.New("geocoder unavailable")
}

func newTestEnv(t *testing.T) (*appEnv, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()

	registry := directory.NewRegistry(directory.Deps{
		Places:        stubPlaces{},
		Jina:          stubJina{},
		AI:            stubAI{},
		Geocoder:      stubGeocoder{},
		ScrapeBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		AIModel:       "claude-haiku-4-5-20251001",
	})

	orch := engine.New(st, engine.Config{
		Retry: resilience.RetryConfig{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     1,
		},
		StepTimeout:         time.Second,
		StaleRunningTimeout: 15 * time.Minute,
	})

	return &appEnv{
		Store:        st,
		Registry:     registry,
		Orchestrator: orch,
		Collector:    monitoring.NewCollector(st, 15*time.Minute),
		Importer:     seed.NewImporter(st),
	}, st
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	env, st := newTestEnv(t)
	srv := httptest.NewServer(newRouter(env, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	code := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateExtraction_Accepted(t *testing.T) {
	srv, st := newTestServer(t)

	var body map[string]string
	code := postJSON(t, srv.URL+"/api/extractions", createExtractionRequest{
		Type: "restaurant", Name: "Cafe Luna", City: "Dubai",
	}, &body)

	assert.Equal(t, http.StatusAccepted, code)
	require.NotEmpty(t, body["id"])

	entity, err := st.GetEntity(context.Background(), body["id"])
	require.NoError(t, err)
	assert.Equal(t, "Cafe Luna", entity.Name)
	assert.Equal(t, "Dubai", entity.City)
}

func TestCreateExtraction_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		req  createExtractionRequest
	}{
		{"missing name and place id", createExtractionRequest{Type: "restaurant"}},
		{"unknown entity type", createExtractionRequest{Type: "warehouse", Name: "Depot"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code := postJSON(t, srv.URL+"/api/extractions", tc.req, nil)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestGetExtraction_ReportsProgress(t *testing.T) {
	srv, st := newTestServer(t)

	entity := seed.NewEntity(model.EntityTypeRestaurant, "Cafe Luna", "place-1")
	require.NoError(t, st.CreateEntity(context.Background(), entity))
	require.NoError(t, st.RecordStepResult(context.Background(), entity.ID, "place_details",
		model.StepState{Status: model.StepCompleted}))

	var rep engine.Report
	code := getJSON(t, srv.URL+"/api/extractions/"+entity.ID, &rep)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, entity.ID, rep.EntityID)
	assert.Equal(t, model.EntityTypeRestaurant, rep.EntityType)
	assert.Equal(t, model.ExtractionProcessing, rep.Status)
	assert.Greater(t, rep.PercentComplete, 0.0)
	assert.NotEmpty(t, rep.Steps)
}

func TestGetExtraction_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	code := getJSON(t, srv.URL+"/api/extractions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRetryExtraction_ConflictWhileRunning(t *testing.T) {
	srv, st := newTestServer(t)

	entity := seed.NewEntity(model.EntityTypeRestaurant, "Cafe Luna", "place-1")
	require.NoError(t, st.CreateEntity(context.Background(), entity))
	started := time.Now().UTC()
	require.NoError(t, st.RecordStepResult(context.Background(), entity.ID, "place_details",
		model.StepState{Status: model.StepRunning, StartedAt: &started}))

	code := postJSON(t, srv.URL+"/api/extractions/"+entity.ID+"/retry", struct{}{}, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestRetryExtraction_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	code := postJSON(t, srv.URL+"/api/extractions/ghost/retry", struct{}{}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListEntities_Filters(t *testing.T) {
	srv, st := newTestServer(t)

	e1 := seed.NewEntity(model.EntityTypeRestaurant, "Cafe Luna", "place-1")
	e2 := seed.NewEntity(model.EntityTypeHotel, "Grand Palm", "place-2")
	require.NoError(t, st.CreateEntity(context.Background(), e1))
	require.NoError(t, st.CreateEntity(context.Background(), e2))

	var body struct {
		Entities []model.Entity `json:"entities"`
		Count    int            `json:"count"`
	}
	code := getJSON(t, srv.URL+"/api/entities?type=hotel", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Entities, 1)
	assert.Equal(t, "Grand Palm", body.Entities[0].Name)
}

func TestListEntities_EmptyIsNotNull(t *testing.T) {
	srv, _ := newTestServer(t)

	var body struct {
		Entities []model.Entity `json:"entities"`
		Count    int            `json:"count"`
	}
	code := getJSON(t, srv.URL+"/api/entities", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Entities)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)

	entity := seed.NewEntity(model.EntityTypeRestaurant, "Cafe Luna", "place-1")
	require.NoError(t, st.CreateEntity(context.Background(), entity))

	var snap monitoring.MetricsSnapshot
	code := getJSON(t, srv.URL+"/api/metrics?lookback_hours=6", &snap)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 6, snap.LookbackHours)
}
