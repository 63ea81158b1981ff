// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pdftomd/internal/manifest"
	"github.com/pdiddy/pdftomd/internal/pipeline"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// selectedStages reads the stage flags. --all selects every stage.
func selectedStages(cmd *cobra.Command) []types.Stage {
	if all, _ := cmd.Flags().GetBool("all"); all {
		return types.Stages
	}
	var stages []types.Stage
	for _, s := range types.Stages {
		if on, _ := cmd.Flags().GetBool(string(s)); on {
			stages = append(stages, s)
		}
	}
	return stages
}

func runPipeline(cmd *cobra.Command, args []string) error {
	stages := selectedStages(cmd)
	if len(stages) == 0 {
		logger.Warn().Msg("no stage selected: pass --extract, --convert, --clean, --finetune, or --all")
		return cmd.Usage()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []pipeline.Option
	if cfg.Progress {
		opts = append(opts, pipeline.WithProgress(os.Stderr))
	}
	if cfg.Paths.ManifestPath != "" {
		store, err := manifest.Open(cfg.Paths.ManifestPath)
		if err != nil {
			logger.Warn().Err(err).Msg("run manifest unavailable, continuing without it")
		} else {
			defer store.Close()
			opts = append(opts, pipeline.WithRecorder(store))
		}
	}

	results, err := pipeline.New(cfg, logger, os.Stderr, opts...).Run(ctx, stages...)
	printResults(cmd.OutOrStdout(), results)
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("interrupted: %w", err)
	}
	return err
}

func printResults(w io.Writer, results []manifest.StageResult) {
	for _, sr := range results {
		status := "ok"
		if sr.Error != "" {
			status = "failed"
		}
		fmt.Fprintf(w, "%-9s %-6s done: %d, failed: %d\n", sr.Stage, status, sr.Done, sr.Failed)
	}
}
