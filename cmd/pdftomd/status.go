// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pdftomd/internal/manifest"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded pipeline run",
	Long: `Status reads the run manifest and prints the most recent run: the stages
it selected, how many files each stage processed, and every file that failed.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the run as JSON")
	statusCmd.Flags().String("export", "", "also write the run to this YAML file")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := cfg.Paths.ManifestPath
	if path == "" {
		return errors.New("run manifest is disabled (--manifest is empty)")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist", manifest.ErrNoRuns, path)
		}
		return err
	}

	store, err := manifest.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.LastRun(cmd.Context())
	if err != nil {
		return err
	}

	if export, _ := cmd.Flags().GetString("export"); export != "" {
		if err := manifest.ExportYAML(run, export); err != nil {
			return err
		}
		logger.Info().Str("file", export).Int64("run", run.ID).Msg("run exported")
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return manifest.WriteJSON(out, run)
	}
	manifest.WriteText(out, run)
	return nil
}
