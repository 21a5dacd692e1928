package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityhive/directory/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "directory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	e := &model.Entity{
		ID:               "e1",
		Type:             model.EntityTypeRestaurant,
		PlaceID:          "place-1",
		Name:             "Cafe Luna",
		Slug:             "cafe-luna",
		City:             "Dubai",
		Website:          "https://cafeluna.example",
		Latitude:         25.08,
		Longitude:        55.14,
		Socials:          map[string]string{"instagram": "cafeluna"},
		Raw:              map[string]json.RawMessage{"lookup": json.RawMessage(`{"id":"place-1"}`)},
		ExtractionStatus: model.ExtractionPending,
	}
	require.NoError(t, st.CreateEntity(ctx, e))

	got, err := st.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.EntityTypeRestaurant, got.Type)
	assert.Equal(t, "Cafe Luna", got.Name)
	assert.Equal(t, "Dubai", got.City)
	assert.Equal(t, 25.08, got.Latitude)
	assert.Equal(t, "cafeluna", got.Socials["instagram"])
	assert.JSONEq(t, `{"id":"place-1"}`, string(got.Raw["lookup"]))
	assert.NotNil(t, got.Progress)

	byPlace, err := st.GetEntityByPlaceID(ctx, "place-1")
	require.NoError(t, err)
	assert.Equal(t, "e1", byPlace.ID)

	_, err = st.GetEntity(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteStore_UpdateEntity(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	e := &model.Entity{ID: "e1", Type: model.EntityTypeHotel, Name: "Hotel One"}
	require.NoError(t, st.CreateEntity(ctx, e))

	e.Description = "A seafront hotel."
	e.Rating = 4.2
	require.NoError(t, st.UpdateEntity(ctx, e))

	got, err := st.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "A seafront hotel.", got.Description)
	assert.Equal(t, 4.2, got.Rating)

	err = st.UpdateEntity(ctx, &model.Entity{ID: "ghost", Name: "x"})
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteStore_StepWritesPreserveSiblings(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, st.CreateEntity(ctx, &model.Entity{ID: "e1", Type: model.EntityTypeRestaurant, Name: "V"}))

	startedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.RecordStepStart(ctx, "e1", "lookup", startedAt))
	require.NoError(t, st.RecordStepResult(ctx, "e1", "lookup", model.StepState{
		Status: model.StepCompleted, Attempts: 1, Digest: "abc",
	}))
	require.NoError(t, st.RecordStepResult(ctx, "e1", "describe", model.StepState{
		Status: model.StepFailed, Error: "boom",
	}))

	p, err := st.LoadProgress(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.StepCompleted, p.Get("lookup").Status)
	assert.Equal(t, "abc", p.Get("lookup").Digest)
	assert.Equal(t, model.StepFailed, p.Get("describe").Status)
	assert.Equal(t, "boom", p.Get("describe").Error)

	err = st.RecordStepResult(ctx, "ghost", "lookup", model.StepState{Status: model.StepPending})
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteStore_SetExtractionStatus(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, st.CreateEntity(ctx, &model.Entity{ID: "e1", Type: model.EntityTypeRestaurant, Name: "V"}))

	require.NoError(t, st.SetExtractionStatus(ctx, "e1", model.ExtractionProcessing))
	got, err := st.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionProcessing, got.ExtractionStatus)

	err = st.SetExtractionStatus(ctx, "ghost", model.ExtractionFailed)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteStore_ListEntities(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	seed := []struct {
		id   string
		typ  model.EntityType
		city string
	}{
		{"e1", model.EntityTypeRestaurant, "Dubai"},
		{"e2", model.EntityTypeRestaurant, "Dubai"},
		{"h1", model.EntityTypeHotel, "Abu Dhabi"},
	}
	for i, s := range seed {
		e := &model.Entity{
			ID:        s.id,
			Type:      s.typ,
			Name:      "Venue " + s.id,
			City:      s.city,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, st.CreateEntity(ctx, e))
	}
	require.NoError(t, st.SetExtractionStatus(ctx, "e2", model.ExtractionCompleted))

	all, err := st.ListEntities(ctx, EntityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "h1", all[0].ID)

	restaurants, err := st.ListEntities(ctx, EntityFilter{Type: model.EntityTypeRestaurant})
	require.NoError(t, err)
	assert.Len(t, restaurants, 2)

	completed, err := st.ListEntities(ctx, EntityFilter{Status: model.ExtractionCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "e2", completed[0].ID)

	byCity, err := st.ListEntities(ctx, EntityFilter{City: "Abu Dhabi"})
	require.NoError(t, err)
	require.Len(t, byCity, 1)
	assert.Equal(t, "h1", byCity[0].ID)

	paged, err := st.ListEntities(ctx, EntityFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "e2", paged[0].ID)

	// Offset applies without a limit, same as the other backends.
	skipped, err := st.ListEntities(ctx, EntityFilter{Offset: 1})
	require.NoError(t, err)
	require.Len(t, skipped, 2)
	assert.Equal(t, "e2", skipped[0].ID)
	assert.Equal(t, "e1", skipped[1].ID)
}
