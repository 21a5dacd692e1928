package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/directory"
	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/geo"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/monitoring"
	"github.com/cityhive/directory/internal/resilience"
	"github.com/cityhive/directory/internal/seed"
	"github.com/cityhive/directory/internal/store"
	anthropicpkg "github.com/cityhive/directory/pkg/anthropic"
	"github.com/cityhive/directory/pkg/firecrawl"
	"github.com/cityhive/directory/pkg/geocode"
	"github.com/cityhive/directory/pkg/jina"
	"github.com/cityhive/directory/pkg/notion"
	"github.com/cityhive/directory/pkg/places"
)

// appEnv holds the initialized store, clients, pipeline registry, and
// orchestrator shared by the serve/extract/batch/resume commands.
type appEnv struct {
	Store        store.Store
	Registry     *directory.Registry
	Orchestrator *engine.Orchestrator
	Collector    *monitoring.Collector
	Importer     *seed.Importer
	Notion       notion.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, all provider clients, the pipeline registry,
// and the orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	placesClient := places.NewClient(cfg.Places.Key,
		places.WithBaseURL(cfg.Places.BaseURL),
		places.WithRateLimit(cfg.Places.RateLimitRPS),
	)

	jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)

	var firecrawlClient firecrawl.Client
	if cfg.Firecrawl.Key != "" {
		firecrawlClient = firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	} else {
		zap.L().Debug("DIRECTORY_FIRECRAWL_KEY not set, scrape fallback disabled")
	}

	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	geocodeOpts := []geocode.Option{geocode.WithRateLimit(cfg.Geocode.RateLimitRPS)}
	if cfg.Geocode.GoogleKey != "" {
		geocodeOpts = append(geocodeOpts, geocode.WithGoogleAPIKey(cfg.Geocode.GoogleKey))
	}
	geocoder := geocode.NewClient(geocodeOpts...)

	var districts geo.Locator
	if cfg.Districts.ShapefilePath != "" {
		index, err := geo.LoadShapefile(cfg.Districts.ShapefilePath, cfg.Districts.NameField)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load district shapefile")
		}
		districts = index
	} else {
		zap.L().Info("no district shapefile configured, district step disabled")
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Extraction.BreakerFailThreshold,
	})

	registry := directory.NewRegistry(directory.Deps{
		Places:        placesClient,
		Jina:          jinaClient,
		Firecrawl:     firecrawlClient,
		AI:            aiClient,
		Geocoder:      geocoder,
		Districts:     districts,
		ScrapeBreaker: breaker,
		AIModel:       cfg.Anthropic.Model,
		MediaBaseURL:  cfg.Extraction.MediaBaseURL,
	})

	orch := engine.New(st, engineConfig())

	var notionClient notion.Client
	if cfg.Notion.Token != "" {
		notionClient = notion.NewClient(cfg.Notion.Token)
	}

	return &appEnv{
		Store:        st,
		Registry:     registry,
		Orchestrator: orch,
		Collector:    monitoring.NewCollector(st, cfg.Extraction.StaleTimeout()),
		Importer:     seed.NewImporter(st),
		Notion:       notionClient,
	}, nil
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres", "":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for the postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// engineConfig maps extraction config onto the orchestrator's knobs.
func engineConfig() engine.Config {
	ec := cfg.Extraction
	return engine.Config{
		Retry: resilience.RetryConfig{
			MaxAttempts:    ec.MaxAttempts,
			InitialBackoff: time.Duration(ec.InitialBackoffSecs * float64(time.Second)),
			MaxBackoff:     time.Duration(ec.MaxBackoffSecs * float64(time.Second)),
			Multiplier:     ec.BackoffMultiplier,
			JitterFraction: ec.JitterFraction,
		},
		StepTimeout:         time.Duration(ec.StepTimeoutSecs) * time.Second,
		StaleRunningTimeout: ec.StaleTimeout(),
	}
}

// definitionFor resolves an entity's pipeline from the registry.
func (e *appEnv) definitionFor(t model.EntityType) (engine.Definition, error) {
	return e.Registry.Definition(t)
}
