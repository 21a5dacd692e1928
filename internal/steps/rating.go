package steps

import (
	"context"
	"fmt"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/rating"
)

// ComputeRating derives the listing score from the signals earlier steps
// produced. It has no external dependency and never fails transiently.
type ComputeRating struct{}

// NewComputeRating creates the rating adapter.
func NewComputeRating() *ComputeRating {
	return &ComputeRating{}
}

// Execute implements engine.Adapter.
func (s *ComputeRating) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	score := rating.Score(rating.Inputs{
		ProviderRating:      entity.ProviderRating,
		ProviderRatingCount: entity.ProviderRatingCount,
		HasWebsite:          entity.Website != "",
		SocialCount:         len(entity.Socials),
		ImageCount:          len(entity.Images),
		HasDescription:      entity.Description != "",
		HasSentiment:        entity.SentimentSummary != "",
	})

	return &engine.StepResult{
		Patch:  model.EntityPatch{Rating: &score},
		Digest: fmt.Sprintf("%.1f", score),
	}, nil
}
