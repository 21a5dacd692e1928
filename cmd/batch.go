package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/seed"
	"github.com/cityhive/directory/internal/store"
	"github.com/cityhive/directory/pkg/notion"
)

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Extract queued venues from the Notion editorial queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Notion == nil || cfg.Notion.QueueDB == "" {
			return eris.New("notion token and queue_db must be configured for batch")
		}

		venues, err := notion.QueryQueuedVenues(ctx, env.Notion, cfg.Notion.QueueDB)
		if err != nil {
			return eris.Wrap(err, "query queued venues")
		}
		if len(venues) == 0 {
			zap.L().Info("no queued venues found")
			return nil
		}
		if batchLimit > 0 && len(venues) > batchLimit {
			venues = venues[:batchLimit]
		}

		concurrency := cfg.Batch.MaxConcurrent
		if concurrency <= 0 {
			concurrency = 4
		}
		zap.L().Info("batch extraction starting",
			zap.Int("venues", len(venues)),
			zap.Int("concurrency", concurrency),
		)

		var completed, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		for _, venue := range venues {
			g.Go(func() error {
				if err := processVenue(gctx, env, venue); err != nil {
					failed.Add(1)
					zap.L().Error("batch: venue failed",
						zap.String("name", venue.Name),
						zap.Error(err),
					)
					if err := notion.UpdateStatus(gctx, env.Notion, venue.PageID, "Failed"); err != nil {
						zap.L().Warn("batch: status write-back failed", zap.Error(err))
					}
					// One bad venue never aborts the batch.
					return nil
				}
				completed.Add(1)
				if err := notion.UpdateStatus(gctx, env.Notion, venue.PageID, "Done"); err != nil {
					zap.L().Warn("batch: status write-back failed", zap.Error(err))
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("batch extraction finished",
			zap.Int64("completed", completed.Load()),
			zap.Int64("failed", failed.Load()),
		)
		return nil
	},
}

// processVenue creates (or finds) the entity for a queue row and runs its
// pipeline to completion.
func processVenue(ctx context.Context, env *appEnv, venue notion.QueuedVenue) error {
	t := model.EntityType(venue.EntityType)
	if !t.Valid() {
		return eris.Errorf("unknown entity type %q", venue.EntityType)
	}
	def, err := env.definitionFor(t)
	if err != nil {
		return err
	}

	var entityID string
	if venue.PlaceID != "" {
		existing, err := env.Store.GetEntityByPlaceID(ctx, venue.PlaceID)
		switch {
		case err == nil:
			entityID = existing.ID
		case eris.Is(err, store.ErrNotFound):
		default:
			return eris.Wrap(err, "duplicate check")
		}
	}
	if entityID == "" {
		entity := seed.NewEntity(t, venue.Name, venue.PlaceID)
		entity.City = venue.City
		if err := env.Store.CreateEntity(ctx, entity); err != nil {
			return eris.Wrap(err, "create entity")
		}
		entityID = entity.ID
	}

	summary, err := env.Orchestrator.Execute(ctx, entityID, def, engine.Options{})
	if err != nil {
		return err
	}
	if summary.Status != model.ExtractionCompleted {
		return eris.Errorf("extraction ended %s (failed step %q)", summary.Status, summary.FailedStep)
	}
	return nil
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of venues to process")
	rootCmd.AddCommand(batchCmd)
}
