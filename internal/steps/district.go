package steps

import (
	"context"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/geo"
	"github.com/cityhive/directory/internal/model"
)

// LocateDistrict assigns the entity to a named district by point-in-polygon
// lookup against the loaded shapefile index.
type LocateDistrict struct {
	locator geo.Locator
}

// NewLocateDistrict creates the district-assignment adapter.
func NewLocateDistrict(l geo.Locator) *LocateDistrict {
	return &LocateDistrict{locator: l}
}

// Execute implements engine.Adapter.
func (s *LocateDistrict) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	if entity.Latitude == 0 && entity.Longitude == 0 {
		return nil, engine.NewInputError("no coordinates to locate")
	}

	district, ok := s.locator.Locate(entity.Latitude, entity.Longitude)
	if !ok {
		return nil, engine.NewInputError("no district contains the entity's coordinates")
	}

	return &engine.StepResult{
		Patch:  model.EntityPatch{District: &district},
		Digest: district,
	}, nil
}
