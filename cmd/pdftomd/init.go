// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pdftomd/internal/batch"
	"github.com/pdiddy/pdftomd/internal/secrets"
	"github.com/pdiddy/pdftomd/pkg/types"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directories and a default pdftomd.yaml",
	Long: `Init creates every directory the pipeline reads or writes, the .secrets
directory for registry tokens, and a pdftomd.yaml holding the current
configuration. An existing pdftomd.yaml is kept unless --force is given.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing pdftomd.yaml")

	rootCmd.AddCommand(initCmd)
}

// layoutDirs lists the directories init creates for c.
func layoutDirs(c types.PipelineConfig) []string {
	dirs := []string{
		c.Paths.PDFDir,
		c.Paths.TextDir,
		c.Paths.MarkdownDir,
		c.Paths.CleanedDir,
		filepath.Dir(c.Paths.TrainingFile),
		filepath.Dir(c.Finetune.OutputDir),
	}
	if c.Paths.ManifestPath != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.ManifestPath))
	}
	return dirs
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	seen := map[string]bool{".": true}
	for _, dir := range layoutDirs(cfg) {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Fprintf(out, "created %s\n", dir)
	}
	if err := os.MkdirAll(secrets.DefaultDir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", secrets.DefaultDir, err)
	}

	path := configName + ".yaml"
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(out, "kept    %s\n", path)
		return nil
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := batch.WriteFileAtomic(path, data); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote   %s\n", path)
	return nil
}
