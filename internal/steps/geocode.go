package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/pkg/geocode"
)

// GeocodeAddress fills in coordinates for entities seeded from roster files
// that carry an address but no provider geometry.
type GeocodeAddress struct {
	geocoder geocode.Client
}

// NewGeocodeAddress creates the geocoding adapter.
func NewGeocodeAddress(c geocode.Client) *GeocodeAddress {
	return &GeocodeAddress{geocoder: c}
}

// Execute implements engine.Adapter.
func (s *GeocodeAddress) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	if entity.Latitude != 0 || entity.Longitude != 0 {
		// An earlier step already located the entity.
		return &engine.StepResult{Digest: "existing-coordinates"}, nil
	}
	if entity.Address == "" {
		return nil, engine.NewInputError("no address to geocode")
	}

	result, err := s.geocoder.Geocode(ctx, geocode.AddressInput{
		Street: entity.Address,
		City:   entity.City,
	})
	if err != nil {
		return nil, eris.Wrap(err, "steps: geocode address")
	}
	if !result.Matched {
		return nil, engine.NewInputError("address did not geocode: " + entity.Address)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, eris.Wrap(err, "steps: marshal geocode result")
	}
	return &engine.StepResult{
		Patch: model.EntityPatch{
			Latitude:  &result.Latitude,
			Longitude: &result.Longitude,
		},
		Raw:    raw,
		Digest: fmt.Sprintf("%s-%s", result.Source, result.Quality),
	}, nil
}
