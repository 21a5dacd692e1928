package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/model"
)

var importType string

var importCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import an entity seed list (CSV, XLSX, or YAML)",
	Long:  "Creates pending entities from a seed list. The source may be a local path, an http(s) URL, or an ftp URL; the format is detected from the file extension.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		t := model.EntityType(importType)
		if importType != "" && !t.Valid() {
			return eris.Errorf("unknown entity type %q", importType)
		}

		result, err := env.Importer.Import(ctx, args[0], t)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.String("source", args[0]),
			zap.Int("created", result.Created),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("skipped", result.Skipped),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importType, "type", "", "entity type for rows without a type column")
	rootCmd.AddCommand(importCmd)
}
