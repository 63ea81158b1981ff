// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the pdftomd CLI. The root command runs
// the selected pipeline stages; subcommands inspect runs and set up the
// working directory.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/pdftomd/internal/logging"
	"github.com/pdiddy/pdftomd/internal/secrets"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is the merged configuration: defaults, config file, environment,
	// then flags.
	cfg       types.PipelineConfig
	logger    = zerolog.Nop()
	logCloser io.Closer
)

// rootCmd is the base command for the pdftomd CLI.
var rootCmd = &cobra.Command{
	Use:   "pdftomd",
	Short: "Turn a directory of PDFs into Markdown fine-tuning data",
	Long: `pdftomd converts batches of PDF documents into cleaned Markdown and
fine-tuning records, then drives a fine-tuning run.

Stages run in a fixed order, each reading the previous stage's directory:

  extract   data/pdf/*.pdf        -> data/text/*.txt
  convert   data/text/*.txt       -> data/markdown/*.md
  clean     data/markdown/*.md    -> data/cleaned_markdown/*.md + training file
  finetune  training file + model -> models/finetuned_model

Select stages with --extract, --convert, --clean, --finetune, or --all.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is not an error.
		_ = godotenv.Load()

		v := viper.GetViper()
		if err := bindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		cfgFile, _ := cmd.Flags().GetString("config")
		loaded, used, err := loadConfig(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		logger, logCloser, err = logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		if used != "" {
			logger.Debug().Str("file", used).Msg("using config file")
		}

		s, err := secrets.Load(secrets.DefaultDir, logger)
		if err != nil {
			return err
		}
		cfg.Finetune.HFToken = secrets.Lookup(s, secrets.HFToken, "HF_TOKEN")
		if len(s) > 0 {
			logger.Debug().Int("count", len(s)).Msg("loaded secrets")
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
	RunE: runPipeline,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./pdftomd.yaml or ~/.config/pdftomd/pdftomd.yaml)")
	registerFlags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logCloser != nil {
			logCloser.Close()
		}
		fmt.Fprintln(os.Stderr, "pdftomd:", err)
		os.Exit(1)
	}
}
