package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/engine"
)

var extractForce bool

var extractCmd = &cobra.Command{
	Use:   "extract <entity-id>",
	Short: "Run the extraction pipeline for one entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entityID := args[0]
		entity, err := env.Store.GetEntity(ctx, entityID)
		if err != nil {
			return eris.Wrapf(err, "load entity %s", entityID)
		}
		def, err := env.definitionFor(entity.Type)
		if err != nil {
			return err
		}

		summary, err := env.Orchestrator.Execute(ctx, entityID, def, engine.Options{ForceRerun: extractForce})
		if err != nil {
			return eris.Wrap(err, "extraction")
		}

		zap.L().Info("extraction finished",
			zap.String("entity", summary.EntityID),
			zap.String("status", string(summary.Status)),
			zap.Int("steps_run", summary.StepsRun),
			zap.Duration("duration", summary.Duration),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	extractCmd.Flags().BoolVar(&extractForce, "force", false, "re-run steps already completed")
	rootCmd.AddCommand(extractCmd)
}
