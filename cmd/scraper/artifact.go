package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ecscrape/scraper-service/internal/adapter/artifact"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact NAME",
	Short: "Prints a stored raw page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		store, err := artifact.NewFSStore(cfg.ArtifactDir, logger)
		if err != nil {
			return err
		}
		body, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(body)
		return err
	},
}
