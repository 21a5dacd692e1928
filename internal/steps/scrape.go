package steps

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/resilience"
	"github.com/cityhive/directory/pkg/firecrawl"
	"github.com/cityhive/directory/pkg/jina"
)

// ScrapedSite is the raw output of the scrape_website step, consumed later
// by description enhancement.
type ScrapedSite struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Markdown string `json:"markdown"`
	Source   string `json:"source"` // "jina" or "firecrawl"
}

// ScrapeWebsite fetches the entity's website as markdown. Jina Reader is the
// primary; Firecrawl is the fallback behind a circuit breaker because it is
// the flakiest provider in the chain.
type ScrapeWebsite struct {
	jina      jina.Client
	firecrawl firecrawl.Client
	breaker   *resilience.CircuitBreaker
}

// NewScrapeWebsite creates the website-scrape adapter. The breaker guards the
// Firecrawl fallback and may be shared across pipelines.
func NewScrapeWebsite(j jina.Client, f firecrawl.Client, breaker *resilience.CircuitBreaker) *ScrapeWebsite {
	return &ScrapeWebsite{jina: j, firecrawl: f, breaker: breaker}
}

// Execute implements engine.Adapter.
func (s *ScrapeWebsite) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	if entity.Website == "" {
		return nil, engine.NewInputError("no website to scrape")
	}

	site, err := s.scrape(ctx, entity.Website)
	if err != nil {
		return nil, err
	}
	if site.Markdown == "" {
		return nil, engine.NewInputError("website yielded no content")
	}

	raw, err := json.Marshal(site)
	if err != nil {
		return nil, eris.Wrap(err, "steps: marshal scraped site")
	}

	return &engine.StepResult{
		Raw:    raw,
		Digest: contentDigest([]byte(site.Markdown)),
	}, nil
}

func (s *ScrapeWebsite) scrape(ctx context.Context, url string) (*ScrapedSite, error) {
	resp, jinaErr := s.jina.Read(ctx, url)
	if jinaErr == nil {
		return &ScrapedSite{
			URL:      url,
			Title:    resp.Data.Title,
			Markdown: resp.Data.Content,
			Source:   "jina",
		}, nil
	}

	if s.firecrawl == nil {
		return nil, jinaErr
	}
	zap.L().Warn("steps: jina read failed, falling back to firecrawl",
		zap.String("url", url),
		zap.Error(jinaErr),
	)

	var site *ScrapedSite
	fallback := func(ctx context.Context) error {
		fcResp, err := s.firecrawl.Scrape(ctx, firecrawl.ScrapeRequest{URL: url})
		if err != nil {
			return err
		}
		site = &ScrapedSite{
			URL:      url,
			Title:    fcResp.Data.Title,
			Markdown: fcResp.Data.Markdown,
			Source:   "firecrawl",
		}
		return nil
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, fallback)
	} else {
		err = fallback(ctx)
	}
	if err != nil {
		return nil, eris.Wrap(err, "steps: firecrawl fallback")
	}
	return site, nil
}
