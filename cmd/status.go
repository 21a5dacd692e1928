package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cityhive/directory/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status <entity-id>",
	Short: "Show the extraction status report for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entity, err := env.Store.GetEntity(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "load entity %s", args[0])
		}
		def, err := env.definitionFor(entity.Type)
		if err != nil {
			return err
		}

		report := engine.BuildReport(def, entity)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
