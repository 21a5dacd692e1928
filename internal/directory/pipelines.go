// Package directory defines the extraction pipeline for each catalog section.
// Definitions live in code: step order is a total order because later steps
// read fields earlier steps populate.
package directory

import (
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/geo"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/resilience"
	"github.com/cityhive/directory/internal/steps"
	"github.com/cityhive/directory/pkg/anthropic"
	"github.com/cityhive/directory/pkg/firecrawl"
	"github.com/cityhive/directory/pkg/geocode"
	"github.com/cityhive/directory/pkg/jina"
	"github.com/cityhive/directory/pkg/places"
)

// Deps carries the provider clients the step adapters are built from.
type Deps struct {
	Places    places.Client
	Jina      jina.Client
	Firecrawl firecrawl.Client
	AI        anthropic.Client
	Geocoder  geocode.Client

	// Districts may be nil when no shapefile is configured; the
	// locate_district step is then omitted from every pipeline.
	Districts geo.Locator

	// ScrapeBreaker guards the Firecrawl fallback. Shared across pipelines
	// so one flaky stretch trips it for everyone.
	ScrapeBreaker *resilience.CircuitBreaker

	// HTTPClient is used for homepage fetches in social discovery.
	HTTPClient *http.Client

	AIModel      string
	MediaBaseURL string
}

// Registry maps entity types to their pipeline definitions.
type Registry struct {
	defs map[model.EntityType]engine.Definition
}

// NewRegistry builds all six pipeline definitions from the shared deps.
func NewRegistry(d Deps) *Registry {
	defs := make(map[model.EntityType]engine.Definition, len(model.AllEntityTypes))
	for _, t := range model.AllEntityTypes {
		defs[t] = build(d, t)
	}
	return &Registry{defs: defs}
}

// Definition returns the pipeline for an entity type.
func (r *Registry) Definition(t model.EntityType) (engine.Definition, error) {
	def, ok := r.defs[t]
	if !ok {
		return engine.Definition{}, eris.Errorf("directory: no pipeline for entity type %q", t)
	}
	return def, nil
}

// build assembles one entity type's pipeline. The common spine is shared;
// variations come from what each section's seed data and listing page need.
func build(d Deps, t model.EntityType) engine.Definition {
	placeDetails := engine.Step{
		Name:    steps.StepPlaceDetails,
		Adapter: steps.NewPlaceDetails(d.Places),
		Fatal:   true,
	}
	fetchReviews := engine.Step{
		Name:    steps.StepFetchReviews,
		Adapter: steps.NewFetchReviews(d.Places),
	}
	scrapeWebsite := engine.Step{
		Name:             steps.StepScrapeWebsite,
		Adapter:          steps.NewScrapeWebsite(d.Jina, d.Firecrawl, d.ScrapeBreaker),
		SkipMissingInput: true,
	}
	discoverSocials := engine.Step{
		Name:    steps.StepDiscoverSocials,
		Adapter: steps.NewDiscoverSocials(d.HTTPClient, d.Jina),
	}
	collectImages := engine.Step{
		Name:    steps.StepCollectImages,
		Adapter: steps.NewCollectImages(d.Places, d.MediaBaseURL),
	}
	geocodeAddress := engine.Step{
		Name:    steps.StepGeocodeAddress,
		Adapter: steps.NewGeocodeAddress(d.Geocoder),
	}
	enhance := engine.Step{
		Name:    steps.StepEnhanceDescription,
		Adapter: steps.NewEnhanceDescription(d.AI, d.AIModel),
		Fatal:   true,
	}
	sentiment := engine.Step{
		Name:             steps.StepSummarizeSentiment,
		Adapter:          steps.NewSummarizeSentiment(d.AI, d.AIModel),
		SkipMissingInput: true,
	}
	computeRating := engine.Step{
		Name:    steps.StepComputeRating,
		Adapter: steps.NewComputeRating(),
		Fatal:   true,
	}

	var list []engine.Step
	list = append(list, placeDetails)

	if t == model.EntityTypeSchool {
		// School rosters often arrive with an address but no geometry.
		list = append(list, geocodeAddress)
	} else {
		list = append(list, fetchReviews)
	}

	list = append(list, scrapeWebsite, discoverSocials, collectImages)

	if d.Districts != nil {
		list = append(list, engine.Step{
			Name:    steps.StepLocateDistrict,
			Adapter: steps.NewLocateDistrict(d.Districts),
		})
	}

	list = append(list, enhance)

	switch t {
	case model.EntityTypeSchool, model.EntityTypeMall, model.EntityTypeAttraction:
		// Review sentiment adds nothing for these sections.
	default:
		list = append(list, sentiment)
	}

	list = append(list, computeRating)

	return engine.Definition{EntityType: t, Steps: list}
}
