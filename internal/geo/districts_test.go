package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

// square builds a closed ring polygon from (minX,minY) to (maxX,maxY).
func square(minX, minY, maxX, maxY float64) *geom.Polygon {
	ring := geom.NewLinearRingFlat(geom.XY, []float64{
		minX, minY,
		maxX, minY,
		maxX, maxY,
		minX, maxY,
		minX, minY,
	})
	poly := geom.NewPolygon(geom.XY)
	if err := poly.Push(ring); err != nil {
		panic(err)
	}
	return poly
}

func testIndex() *Index {
	return NewIndex([]District{
		{Name: "Marina", Polygons: []*geom.Polygon{square(55.12, 25.06, 55.16, 25.10)}},
		{Name: "Downtown", Polygons: []*geom.Polygon{square(55.26, 25.18, 55.30, 25.22)}},
	})
}

func TestIndex_Locate(t *testing.T) {
	ix := testIndex()
	assert.Equal(t, 2, ix.Size())

	name, ok := ix.Locate(25.08, 55.14)
	require.True(t, ok)
	assert.Equal(t, "Marina", name)

	name, ok = ix.Locate(25.20, 55.28)
	require.True(t, ok)
	assert.Equal(t, "Downtown", name)
}

func TestIndex_LocateOutsideAllDistricts(t *testing.T) {
	ix := testIndex()
	_, ok := ix.Locate(24.45, 54.38)
	assert.False(t, ok)
}

func TestIndex_HoleExcludesPoint(t *testing.T) {
	outer := geom.NewLinearRingFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
	})
	hole := geom.NewLinearRingFlat(geom.XY, []float64{
		4, 4, 6, 4, 6, 6, 4, 6, 4, 4,
	})
	poly := geom.NewPolygon(geom.XY)
	require.NoError(t, poly.Push(outer))
	require.NoError(t, poly.Push(hole))

	ix := NewIndex([]District{{Name: "Ring", Polygons: []*geom.Polygon{poly}}})

	// Point inside the outer ring but outside the hole.
	name, ok := ix.Locate(2, 2)
	require.True(t, ok)
	assert.Equal(t, "Ring", name)

	// Point inside the hole is not in the district.
	_, ok = ix.Locate(5, 5)
	assert.False(t, ok)
}

func TestIndex_MultiPartDistrict(t *testing.T) {
	ix := NewIndex([]District{{
		Name: "Islands",
		Polygons: []*geom.Polygon{
			square(0, 0, 1, 1),
			square(5, 5, 6, 6),
		},
	}})

	name, ok := ix.Locate(0.5, 0.5)
	require.True(t, ok)
	assert.Equal(t, "Islands", name)

	name, ok = ix.Locate(5.5, 5.5)
	require.True(t, ok)
	assert.Equal(t, "Islands", name)

	_, ok = ix.Locate(3, 3)
	assert.False(t, ok)
}

func TestLoadShapefile_MissingFile(t *testing.T) {
	_, err := LoadShapefile("/nonexistent/districts.shp", "NAME")
	assert.Error(t, err)
}
