package steps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
)

func TestLocateDistrict_AssignsDistrict(t *testing.T) {
	step := NewLocateDistrict(&mockLocator{district: "Marina", found: true})

	res, err := step.Execute(context.Background(), model.Entity{Latitude: 25.08, Longitude: 55.14})
	require.NoError(t, err)
	require.NotNil(t, res.Patch.District)
	assert.Equal(t, "Marina", *res.Patch.District)
	assert.Equal(t, "Marina", res.Digest)
}

func TestLocateDistrict_InputErrors(t *testing.T) {
	step := NewLocateDistrict(&mockLocator{})

	_, err := step.Execute(context.Background(), model.Entity{})
	require.Error(t, err)
	assert.True(t, engine.IsInputError(err))

	_, err = step.Execute(context.Background(), model.Entity{Latitude: 25.08, Longitude: 55.14})
	require.Error(t, err)
	assert.True(t, engine.IsInputError(err))
}
