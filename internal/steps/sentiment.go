package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/pkg/anthropic"
)

const sentimentSystemPrompt = `You summarize customer reviews for a city business directory. Given a set of reviews, write 1-2 sentences capturing what visitors consistently praise or criticize. Stay grounded in the reviews; do not speculate. Respond with the summary text only.`

const sentimentMaxReviews = 20

// SummarizeSentiment condenses fetched reviews into a one-line sentiment
// summary shown on the listing page.
type SummarizeSentiment struct {
	ai    anthropic.Client
	model string
}

// NewSummarizeSentiment creates the sentiment adapter.
func NewSummarizeSentiment(ai anthropic.Client, model string) *SummarizeSentiment {
	return &SummarizeSentiment{ai: ai, model: model}
}

// Execute implements engine.Adapter.
func (s *SummarizeSentiment) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	raw, ok := entity.Raw[StepFetchReviews]
	if !ok {
		return nil, engine.NewInputError("no fetched reviews to summarize")
	}
	var payload ReviewsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, eris.Wrap(err, "steps: unmarshal reviews payload")
	}
	if len(payload.Reviews) == 0 {
		return nil, engine.NewInputError("entity has no reviews with text")
	}

	reviews := payload.Reviews
	if len(reviews) > sentimentMaxReviews {
		reviews = reviews[:sentimentMaxReviews]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reviews for %s:\n\n", entity.Name)
	for i, r := range reviews {
		fmt.Fprintf(&b, "%d. (%.0f/5) %s\n", i+1, r.Rating, r.Text)
	}

	resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 256,
		System:    anthropic.BuildCachedSystemBlocks(sentimentSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "steps: summarize sentiment")
	}
	resp.Usage.LogCost(s.model, StepSummarizeSentiment)

	summary := strings.TrimSpace(resp.FirstText())
	if summary == "" {
		return nil, eris.New("steps: model returned empty summary")
	}

	return &engine.StepResult{
		Patch:  model.EntityPatch{SentimentSummary: &summary},
		Digest: contentDigest([]byte(summary)),
	}, nil
}
