package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/store"
)

var resumeAllFailed bool

var resumeCmd = &cobra.Command{
	Use:   "resume [entity-id]",
	Short: "Replay failed and stale steps of unfinished extractions",
	Long:  "Resumes a single entity by id, or with --all-failed sweeps every failed entity and replays only its unfinished steps. Completed steps are never re-run.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			return resumeOne(cmd, env, args[0])
		}
		if !resumeAllFailed {
			return eris.New("provide an entity id or --all-failed")
		}

		failed, err := env.Store.ListEntities(ctx, store.EntityFilter{
			Status: model.ExtractionFailed,
			Limit:  1000,
		})
		if err != nil {
			return eris.Wrap(err, "list failed entities")
		}
		zap.L().Info("resuming failed extractions", zap.Int("count", len(failed)))

		var resumed, errored int
		for _, e := range failed {
			if err := resumeOne(cmd, env, e.ID); err != nil {
				zap.L().Warn("resume failed", zap.String("entity", e.ID), zap.Error(err))
				errored++
				continue
			}
			resumed++
		}
		zap.L().Info("resume sweep finished", zap.Int("resumed", resumed), zap.Int("errored", errored))
		return nil
	},
}

func resumeOne(cmd *cobra.Command, env *appEnv, entityID string) error {
	ctx := cmd.Context()
	entity, err := env.Store.GetEntity(ctx, entityID)
	if err != nil {
		return eris.Wrapf(err, "load entity %s", entityID)
	}
	def, err := env.definitionFor(entity.Type)
	if err != nil {
		return err
	}

	summary, err := env.Orchestrator.Resume(ctx, entityID, def)
	if err != nil {
		if eris.Is(err, engine.ErrAlreadyRunning) {
			zap.L().Warn("extraction already running, skipping", zap.String("entity", entityID))
			return nil
		}
		return err
	}

	zap.L().Info("resume finished",
		zap.String("entity", summary.EntityID),
		zap.String("status", string(summary.Status)),
		zap.Int("steps_run", summary.StepsRun),
	)
	return nil
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeAllFailed, "all-failed", false, "resume every failed entity")
	rootCmd.AddCommand(resumeCmd)
}
