package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/pkg/places"
)

// ReviewsPayload is the raw output of the fetch_reviews step, consumed later
// by sentiment summarization.
type ReviewsPayload struct {
	Reviews []ReviewEntry `json:"reviews"`
}

// ReviewEntry is one provider review kept for downstream steps.
type ReviewEntry struct {
	Rating      float64 `json:"rating"`
	Text        string  `json:"text"`
	PublishTime string  `json:"publish_time,omitempty"`
}

// FetchReviews pulls the provider's most relevant reviews for an entity.
type FetchReviews struct {
	places places.Client
}

// NewFetchReviews creates the review-fetch adapter.
func NewFetchReviews(c places.Client) *FetchReviews {
	return &FetchReviews{places: c}
}

// Execute implements engine.Adapter.
func (s *FetchReviews) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	if entity.PlaceID == "" {
		return nil, engine.NewInputError("no place id to fetch reviews for")
	}

	reviews, err := s.places.Reviews(ctx, entity.PlaceID)
	if err != nil {
		return nil, eris.Wrap(err, "steps: fetch reviews")
	}

	payload := ReviewsPayload{Reviews: make([]ReviewEntry, 0, len(reviews))}
	for _, r := range reviews {
		if r.Text.Text == "" {
			continue
		}
		payload.Reviews = append(payload.Reviews, ReviewEntry{
			Rating:      r.Rating,
			Text:        r.Text.Text,
			PublishTime: r.PublishTime,
		})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "steps: marshal reviews")
	}

	return &engine.StepResult{
		Raw:    raw,
		Digest: fmt.Sprintf("%d-reviews", len(payload.Reviews)),
	}, nil
}
