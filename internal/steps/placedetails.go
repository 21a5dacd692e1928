package steps

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/pkg/places"
)

// PlaceDetails resolves the provider place record that anchors every other
// step. Entities seeded without a place id are matched by text search first.
type PlaceDetails struct {
	places places.Client
}

// NewPlaceDetails creates the place-details adapter.
func NewPlaceDetails(c places.Client) *PlaceDetails {
	return &PlaceDetails{places: c}
}

// Execute implements engine.Adapter.
func (s *PlaceDetails) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	placeID := entity.PlaceID
	if placeID == "" {
		if entity.Name == "" {
			return nil, engine.NewInputError("no place id or name to look up")
		}
		query := strings.TrimSpace(entity.Name + " " + entity.City)
		resp, err := s.places.SearchText(ctx, query)
		if err != nil {
			return nil, eris.Wrap(err, "steps: place search")
		}
		if len(resp.Places) == 0 {
			return nil, engine.NewInputError("no place matched " + query)
		}
		placeID = resp.Places[0].ID
	}

	place, err := s.places.Details(ctx, placeID)
	if err != nil {
		return nil, eris.Wrap(err, "steps: place details")
	}

	raw, err := json.Marshal(place)
	if err != nil {
		return nil, eris.Wrap(err, "steps: marshal place")
	}

	patch := model.EntityPatch{PlaceID: &place.ID}
	if place.DisplayName.Text != "" {
		patch.Name = &place.DisplayName.Text
	}
	if place.FormattedAddress != "" {
		patch.Address = &place.FormattedAddress
	}
	if place.InternationalPhoneNumber != "" {
		patch.Phone = &place.InternationalPhoneNumber
	}
	if place.WebsiteURI != "" {
		patch.Website = &place.WebsiteURI
	}
	if place.Location.Latitude != 0 || place.Location.Longitude != 0 {
		patch.Latitude = &place.Location.Latitude
		patch.Longitude = &place.Location.Longitude
	}
	if place.Rating > 0 {
		patch.ProviderRating = &place.Rating
		patch.ProviderRatingCount = &place.UserRatingCount
	}

	return &engine.StepResult{
		Patch:  patch,
		Raw:    raw,
		Digest: place.ID,
	}, nil
}
