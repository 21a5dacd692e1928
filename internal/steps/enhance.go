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

const enhanceSystemPrompt = `You write listing descriptions for a city business directory. Given facts about a venue, write a 2-3 sentence description in a neutral, informative tone. Never invent amenities, awards, or facts not present in the input. Respond with the description text only, no preamble.`

const enhanceMaxSiteChars = 4000

// EnhanceDescription produces the editorial description from extraction
// output. It is fatal: a listing with no description is not publishable.
type EnhanceDescription struct {
	ai    anthropic.Client
	model string
}

// NewEnhanceDescription creates the description adapter.
func NewEnhanceDescription(ai anthropic.Client, model string) *EnhanceDescription {
	return &EnhanceDescription{ai: ai, model: model}
}

// Execute implements engine.Adapter.
func (s *EnhanceDescription) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	if entity.Name == "" {
		return nil, engine.NewInputError("no entity name to describe")
	}

	resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 512,
		System:    anthropic.BuildCachedSystemBlocks(enhanceSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: s.buildPrompt(entity)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "steps: enhance description")
	}
	resp.Usage.LogCost(s.model, StepEnhanceDescription)

	description := strings.TrimSpace(resp.FirstText())
	if description == "" {
		return nil, eris.New("steps: model returned empty description")
	}

	return &engine.StepResult{
		Patch:  model.EntityPatch{Description: &description},
		Digest: contentDigest([]byte(description)),
	}, nil
}

func (s *EnhanceDescription) buildPrompt(entity model.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Venue: %s\nCategory: %s\n", entity.Name, entity.Type)
	if entity.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", entity.Address)
	}
	if entity.District != "" {
		fmt.Fprintf(&b, "District: %s\n", entity.District)
	}
	if entity.ProviderRating > 0 {
		fmt.Fprintf(&b, "Rating: %.1f (%d reviews)\n", entity.ProviderRating, entity.ProviderRatingCount)
	}

	if raw, ok := entity.Raw[StepScrapeWebsite]; ok {
		var site ScrapedSite
		if err := json.Unmarshal(raw, &site); err == nil && site.Markdown != "" {
			content := site.Markdown
			if len(content) > enhanceMaxSiteChars {
				content = content[:enhanceMaxSiteChars]
			}
			fmt.Fprintf(&b, "\nWebsite content:\n%s\n", content)
		}
	}
	return b.String()
}
