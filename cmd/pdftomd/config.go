// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pdiddy/pdftomd/pkg/types"
)

const (
	configName = "pdftomd"
	envPrefix  = "PDFTOMD"
)

// flagKeys maps each configuration flag to its key in the config file.
var flagKeys = map[string]string{
	"pdf_dir":       "paths.pdf_dir",
	"text_dir":      "paths.text_dir",
	"markdown_dir":  "paths.markdown_dir",
	"cleaned_dir":   "paths.cleaned_dir",
	"training_file": "paths.training_file",
	"manifest":      "paths.manifest",
	"model_name":    "finetune.model_name",
	"output_dir":    "finetune.output_dir",
	"learning_rate": "finetune.learning_rate",
	"num_epochs":    "finetune.num_epochs",
	"batch_size":    "finetune.batch_size",
	"trainer":       "finetune.backend",
	"eval_prompt":   "finetune.eval_prompt",
	"backend":       "extraction.backend",
	"workers":       "workers",
	"progress":      "progress",
	"log_level":     "log.level",
	"log_format":    "log.format",
	"log_file":      "log.file",
}

// registerFlags adds the stage selectors to root and the configuration
// flags as persistent flags shared by every subcommand.
func registerFlags(root *cobra.Command) {
	def := types.DefaultPipelineConfig()

	stages := root.Flags()
	stages.Bool("extract", false, "extract text from PDFs")
	stages.Bool("convert", false, "convert text to Markdown")
	stages.Bool("clean", false, "clean Markdown and write training records")
	stages.Bool("finetune", false, "fine-tune a model on the training records")
	stages.Bool("all", false, "run every stage")

	f := root.PersistentFlags()
	f.String("pdf_dir", def.Paths.PDFDir, "directory of source PDFs")
	f.String("text_dir", def.Paths.TextDir, "directory for extracted text")
	f.String("markdown_dir", def.Paths.MarkdownDir, "directory for converted Markdown")
	f.String("cleaned_dir", def.Paths.CleanedDir, "directory for cleaned Markdown")
	f.String("training_file", def.Paths.TrainingFile, "training record file (.csv or .jsonl)")
	f.String("manifest", def.Paths.ManifestPath, "run manifest database (empty disables)")

	f.String("model_name", def.Finetune.ModelName, "local model directory or registry model id")
	f.String("output_dir", def.Finetune.OutputDir, "directory for the fine-tuned model")
	f.Float64("learning_rate", def.Finetune.LearningRate, "learning rate")
	f.Int("num_epochs", def.Finetune.NumEpochs, "training epochs")
	f.Int("batch_size", def.Finetune.BatchSize, "training batch size")
	f.String("trainer", string(def.Finetune.Backend), "trainer backend: container or command")
	f.String("eval_prompt", "", "prompt to run through the model after training")

	f.String("backend", string(def.Extraction.Backend), "PDF extraction backend: ledongthuc or pdfcpu")
	f.Int("workers", def.Workers, "files processed concurrently")
	f.Bool("progress", def.Progress, "show progress bars")
	f.String("log_level", def.Log.Level, "log level: debug, info, warn, error")
	f.String("log_format", def.Log.Format, "log format: console or json")
	f.String("log_file", "", "also append logs to this file")
}

// bindFlags binds every configuration flag in fs to its config key. Only
// flags set on the command line override the file and environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		fl := fs.Lookup(name)
		if fl == nil {
			continue
		}
		if err := v.BindPFlag(key, fl); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// setDefaults registers every config key so that environment variables
// such as PDFTOMD_FINETUNE_MODEL_NAME are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	def := types.DefaultPipelineConfig()

	v.SetDefault("paths.pdf_dir", def.Paths.PDFDir)
	v.SetDefault("paths.text_dir", def.Paths.TextDir)
	v.SetDefault("paths.markdown_dir", def.Paths.MarkdownDir)
	v.SetDefault("paths.cleaned_dir", def.Paths.CleanedDir)
	v.SetDefault("paths.training_file", def.Paths.TrainingFile)
	v.SetDefault("paths.manifest", def.Paths.ManifestPath)

	v.SetDefault("extraction.backend", string(def.Extraction.Backend))
	v.SetDefault("extraction.max_file_size", def.Extraction.MaxFileSize)

	c := def.Conversion
	v.SetDefault("conversion.max_heading_length", c.MaxHeadingLength)
	v.SetDefault("conversion.max_heading_depth", c.MaxHeadingDepth)
	v.SetDefault("conversion.unnumbered_heading_level", c.UnnumberedHeadingLevel)
	v.SetDefault("conversion.heading_keywords", c.HeadingKeywords)
	v.SetDefault("conversion.keyword_heading_max_length", c.KeywordHeadingMaxLength)
	v.SetDefault("conversion.indent_width", c.IndentWidth)
	v.SetDefault("conversion.break_on_terminal_punctuation", c.BreakOnTerminalPunctuation)
	v.SetDefault("conversion.edge_lines", c.EdgeLines)
	v.SetDefault("conversion.add_title", c.AddTitle)

	cl := def.Cleaning
	v.SetDefault("cleaning.repeat_ratio", cl.RepeatRatio)
	v.SetDefault("cleaning.min_repeat_pages", cl.MinRepeatPages)
	v.SetDefault("cleaning.min_duplicate_length", cl.MinDuplicateLength)
	v.SetDefault("cleaning.prepare_training", cl.PrepareTraining)
	v.SetDefault("cleaning.record_mode", string(cl.RecordMode))
	v.SetDefault("cleaning.prompt_template", cl.PromptTemplate)
	v.SetDefault("cleaning.min_record_length", cl.MinRecordLength)
	v.SetDefault("cleaning.training_format", string(cl.TrainingFormat))

	ft := def.Finetune
	v.SetDefault("finetune.model_name", ft.ModelName)
	v.SetDefault("finetune.output_dir", ft.OutputDir)
	v.SetDefault("finetune.learning_rate", ft.LearningRate)
	v.SetDefault("finetune.num_epochs", ft.NumEpochs)
	v.SetDefault("finetune.batch_size", ft.BatchSize)
	v.SetDefault("finetune.warmup_steps", ft.WarmupSteps)
	v.SetDefault("finetune.weight_decay", ft.WeightDecay)
	v.SetDefault("finetune.max_length", ft.MaxLength)
	v.SetDefault("finetune.backend", string(ft.Backend))
	v.SetDefault("finetune.image", ft.Image)
	v.SetDefault("finetune.command", ft.Command)
	v.SetDefault("finetune.registry_url", ft.RegistryURL)
	v.SetDefault("finetune.eval_prompt", ft.EvalPrompt)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.file", def.Log.File)

	v.SetDefault("workers", def.Workers)
	v.SetDefault("progress", def.Progress)
}

// loadConfig merges defaults, the config file, PDFTOMD_* environment
// variables, and flags bound to v. It returns the config file used, if any.
func loadConfig(v *viper.Viper, cfgFile string) (types.PipelineConfig, string, error) {
	setDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return types.PipelineConfig{}, "", fmt.Errorf("reading config: %w", err)
		}
	}

	var out types.PipelineConfig
	if err := v.Unmarshal(&out); err != nil {
		return types.PipelineConfig{}, "", fmt.Errorf("decoding config: %w", err)
	}
	return out, v.ConfigFileUsed(), nil
}
