// Package geo assigns entities to named districts using city shapefiles.
// The index is loaded once at startup and queried in-process; district
// boundaries change rarely enough that a restart is an acceptable reload.
package geo

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Locator answers point-in-district queries.
type Locator interface {
	// Locate returns the district containing the point, if any.
	Locate(lat, lng float64) (string, bool)
}

// District is one named boundary with its polygons.
type District struct {
	Name     string
	Polygons []*geom.Polygon
}

// Index is an in-memory district lookup table.
type Index struct {
	districts []District
}

// NewIndex builds an index from prepared districts (used by tests).
func NewIndex(districts []District) *Index {
	return &Index{districts: districts}
}

// LoadShapefile reads districts from a shapefile, taking the district name
// from the given attribute field.
func LoadShapefile(path, nameField string) (*Index, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := fieldIndex(reader, nameField)
	if nameIdx < 0 {
		return nil, eris.Errorf("geo: shapefile field %q not found", nameField)
	}

	var districts []District
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			continue
		}
		name := strings.TrimSpace(reader.Attribute(nameIdx))
		if name == "" {
			continue
		}
		polys := polygonParts(poly)
		if len(polys) == 0 {
			continue
		}
		districts = append(districts, District{Name: name, Polygons: polys})
	}

	zap.L().Info("geo: district index loaded",
		zap.String("path", path),
		zap.Int("districts", len(districts)),
	)
	return &Index{districts: districts}, nil
}

// Locate returns the first district whose boundary contains the point.
func (ix *Index) Locate(lat, lng float64) (string, bool) {
	point := geom.Coord{lng, lat}
	for _, d := range ix.districts {
		for _, poly := range d.Polygons {
			if polygonContains(poly, point) {
				return d.Name, true
			}
		}
	}
	return "", false
}

// Size returns the number of districts in the index.
func (ix *Index) Size() int {
	return len(ix.districts)
}

// polygonParts converts a shapefile polygon to one go-geom polygon per part.
func polygonParts(p *shp.Polygon) []*geom.Polygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	polys := make([]*geom.Polygon, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("geo: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		polys = append(polys, poly)
	}
	return polys
}

// polygonContains applies the even-odd rule across the polygon's rings so
// holes exclude points correctly.
func polygonContains(poly *geom.Polygon, point geom.Coord) bool {
	inside := false
	for i := 0; i < poly.NumLinearRings(); i++ {
		if xy.IsPointInRing(poly.Layout(), point, poly.LinearRing(i).FlatCoords()) {
			inside = !inside
		}
	}
	return inside
}

func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(string(f.Name[:]), "\x00"), name) {
			return i
		}
	}
	return -1
}
