// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "runtime"

// PathsConfig holds the directory layout shared by all stages. Each stage
// reads one directory and writes another; no two stages share an output.
type PathsConfig struct {
	// PDFDir holds the source PDF files (default "data/pdf").
	PDFDir string `json:"pdf_dir" yaml:"pdf_dir" mapstructure:"pdf_dir"`

	// TextDir receives one <stem>.txt per PDF (default "data/text").
	TextDir string `json:"text_dir" yaml:"text_dir" mapstructure:"text_dir"`

	// MarkdownDir receives one <stem>.md per text file (default "data/markdown").
	MarkdownDir string `json:"markdown_dir" yaml:"markdown_dir" mapstructure:"markdown_dir"`

	// CleanedDir receives one cleaned <stem>.md per Markdown file
	// (default "data/cleaned_markdown").
	CleanedDir string `json:"cleaned_dir" yaml:"cleaned_dir" mapstructure:"cleaned_dir"`

	// TrainingFile is the tabular training-record file written by the clean
	// stage and read by the finetune stage (default "data/training_data.csv").
	TrainingFile string `json:"training_file" yaml:"training_file" mapstructure:"training_file"`

	// ManifestPath is the SQLite run ledger (default "data/pipeline.db").
	// Empty disables run recording.
	ManifestPath string `json:"manifest" yaml:"manifest" mapstructure:"manifest"`
}

// ExtractionBackend identifies the PDF text extraction library.
type ExtractionBackend string

const (
	BackendLedongthuc ExtractionBackend = "ledongthuc"
	BackendPdfcpu     ExtractionBackend = "pdfcpu"
)

// ExtractionConfig holds settings for the extract stage.
type ExtractionConfig struct {
	// Backend selects the PDF library: ledongthuc (default) or pdfcpu.
	Backend ExtractionBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// MaxFileSize rejects PDFs larger than this many bytes (default 100 MiB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size" mapstructure:"max_file_size"`
}

// ConversionConfig holds the structure-recovery thresholds used by the
// convert stage. None of these have a principled value; they are exposed so
// they can be tuned per corpus.
type ConversionConfig struct {
	// MaxHeadingLength is the longest line, in runes, still considered a
	// heading candidate (default 80).
	MaxHeadingLength int `json:"max_heading_length" yaml:"max_heading_length" mapstructure:"max_heading_length"`

	// MaxHeadingDepth caps the inferred heading level (default 6).
	MaxHeadingDepth int `json:"max_heading_depth" yaml:"max_heading_depth" mapstructure:"max_heading_depth"`

	// UnnumberedHeadingLevel is the level given to all-caps and keyword
	// headings that carry no numbering (default 2).
	UnnumberedHeadingLevel int `json:"unnumbered_heading_level" yaml:"unnumbered_heading_level" mapstructure:"unnumbered_heading_level"`

	// HeadingKeywords mark a short line as a heading when it contains one.
	HeadingKeywords []string `json:"heading_keywords" yaml:"heading_keywords" mapstructure:"heading_keywords"`

	// KeywordHeadingMaxLength is the longest line, in runes, that a keyword
	// can promote to a heading (default 30).
	KeywordHeadingMaxLength int `json:"keyword_heading_max_length" yaml:"keyword_heading_max_length" mapstructure:"keyword_heading_max_length"`

	// IndentWidth is the number of columns per list nesting level (default 2).
	IndentWidth int `json:"indent_width" yaml:"indent_width" mapstructure:"indent_width"`

	// BreakOnTerminalPunctuation ends a paragraph at a line that finishes a
	// sentence. When false, every line of a block is joined (default true).
	BreakOnTerminalPunctuation bool `json:"break_on_terminal_punctuation" yaml:"break_on_terminal_punctuation" mapstructure:"break_on_terminal_punctuation"`

	// EdgeLines is how many leading and trailing lines of each page are kept
	// as standalone blocks in multi-page documents (default 1).
	EdgeLines int `json:"edge_lines" yaml:"edge_lines" mapstructure:"edge_lines"`

	// AddTitle prefixes each document with a level-1 heading of its stem.
	AddTitle bool `json:"add_title" yaml:"add_title" mapstructure:"add_title"`
}

// RecordMode selects how cleaned documents are cut into training records.
type RecordMode string

const (
	// RecordSection emits one record per heading section.
	RecordSection RecordMode = "section"
	// RecordPairs pairs paragraph i with paragraph i+1 for i = 0, 3, 6, ...
	RecordPairs RecordMode = "pairs"
)

// TrainingFormat selects the encoding of the training-record file.
type TrainingFormat string

const (
	FormatCSV   TrainingFormat = "csv"
	FormatJSONL TrainingFormat = "jsonl"
)

// CleaningConfig holds settings for the clean stage.
type CleaningConfig struct {
	// RepeatRatio is the fraction of pages a line must appear on to be
	// treated as a running header or footer (default 0.5, strictly greater).
	RepeatRatio float64 `json:"repeat_ratio" yaml:"repeat_ratio" mapstructure:"repeat_ratio"`

	// MinRepeatPages is the minimum page count before header/footer
	// detection runs at all (default 3).
	MinRepeatPages int `json:"min_repeat_pages" yaml:"min_repeat_pages" mapstructure:"min_repeat_pages"`

	// MinDuplicateLength is the rune length above which repeated lines are
	// dropped after their first occurrence (default 10).
	MinDuplicateLength int `json:"min_duplicate_length" yaml:"min_duplicate_length" mapstructure:"min_duplicate_length"`

	// PrepareTraining writes the training-record file after cleaning.
	PrepareTraining bool `json:"prepare_training" yaml:"prepare_training" mapstructure:"prepare_training"`

	// RecordMode is section (default) or pairs.
	RecordMode RecordMode `json:"record_mode" yaml:"record_mode" mapstructure:"record_mode"`

	// PromptTemplate is a text/template rendered with .Document and .Section
	// to build the input column in section mode.
	PromptTemplate string `json:"prompt_template" yaml:"prompt_template" mapstructure:"prompt_template"`

	// MinRecordLength drops records whose input or output is not longer
	// than this many runes (default 10).
	MinRecordLength int `json:"min_record_length" yaml:"min_record_length" mapstructure:"min_record_length"`

	// TrainingFormat is csv or jsonl. Empty infers from the file extension.
	TrainingFormat TrainingFormat `json:"training_format" yaml:"training_format" mapstructure:"training_format"`
}

// TrainerBackend identifies how the fine-tuning runtime is launched.
type TrainerBackend string

const (
	TrainerContainer TrainerBackend = "container"
	TrainerCommand   TrainerBackend = "command"
)

// FinetuneConfig holds settings for the finetune stage.
type FinetuneConfig struct {
	// ModelName is a local model directory or a registry model id
	// (default "THUDM/chatglm2-6b").
	ModelName string `json:"model_name" yaml:"model_name" mapstructure:"model_name"`

	// OutputDir receives the fine-tuned model (default "models/finetuned_model").
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`

	LearningRate float64 `json:"learning_rate" yaml:"learning_rate" mapstructure:"learning_rate"`
	NumEpochs    int     `json:"num_epochs" yaml:"num_epochs" mapstructure:"num_epochs"`
	BatchSize    int     `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	WarmupSteps  int     `json:"warmup_steps" yaml:"warmup_steps" mapstructure:"warmup_steps"`
	WeightDecay  float64 `json:"weight_decay" yaml:"weight_decay" mapstructure:"weight_decay"`

	// MaxLength is the tokenizer truncation length (default 512).
	MaxLength int `json:"max_length" yaml:"max_length" mapstructure:"max_length"`

	// Backend selects container (default) or command.
	Backend TrainerBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Image is the trainer container image (default "pdftomd-trainer:latest").
	Image string `json:"image" yaml:"image" mapstructure:"image"`

	// Command is the local trainer invocation for the command backend,
	// e.g. ["python", "-m", "trainer"].
	Command []string `json:"command" yaml:"command" mapstructure:"command"`

	// RegistryURL is the model registry queried when ModelName is not a
	// local directory (default "https://huggingface.co"). Empty skips the check.
	RegistryURL string `json:"registry_url" yaml:"registry_url" mapstructure:"registry_url"`

	// EvalPrompt, when set, is run through the fine-tuned model after training.
	EvalPrompt string `json:"eval_prompt" yaml:"eval_prompt" mapstructure:"eval_prompt"`

	// HFToken is passed to the trainer for gated registry models. Loaded
	// from .secrets/hf-token; never written to disk.
	HFToken string `json:"-" yaml:"-" mapstructure:"-"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is debug, info, warn, or error (default info).
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is console (default) or json.
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// File, when set, also receives every log line.
	File string `json:"file" yaml:"file" mapstructure:"file"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Paths      PathsConfig      `json:"paths" yaml:"paths" mapstructure:"paths"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction" mapstructure:"extraction"`
	Conversion ConversionConfig `json:"conversion" yaml:"conversion" mapstructure:"conversion"`
	Cleaning   CleaningConfig   `json:"cleaning" yaml:"cleaning" mapstructure:"cleaning"`
	Finetune   FinetuneConfig   `json:"finetune" yaml:"finetune" mapstructure:"finetune"`
	Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`

	// Workers bounds per-file concurrency in extract, convert, and clean
	// (default runtime.NumCPU()).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// Progress draws a progress bar per stage on stderr.
	Progress bool `json:"progress" yaml:"progress" mapstructure:"progress"`
}

// DefaultHeadingKeywords are the keywords that promote a short line to a
// heading when no numbering is present.
var DefaultHeadingKeywords = []string{
	"引言", "介绍", "概述", "目录", "参考文献", "结论", "总结",
	"Abstract", "Introduction", "Contents", "Conclusion", "Summary", "References",
}

// DefaultPromptTemplate frames a section as a writing instruction.
const DefaultPromptTemplate = `Write the section "{{.Section}}" of the document "{{.Document}}".`

// DefaultPipelineConfig returns the configuration used when no config file,
// environment variable, or flag overrides a value.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Paths: PathsConfig{
			PDFDir:       "data/pdf",
			TextDir:      "data/text",
			MarkdownDir:  "data/markdown",
			CleanedDir:   "data/cleaned_markdown",
			TrainingFile: "data/training_data.csv",
			ManifestPath: "data/pipeline.db",
		},
		Extraction: ExtractionConfig{
			Backend:     BackendLedongthuc,
			MaxFileSize: 100 * 1024 * 1024,
		},
		Conversion: DefaultConversionConfig(),
		Cleaning:   DefaultCleaningConfig(),
		Finetune: FinetuneConfig{
			ModelName:    "THUDM/chatglm2-6b",
			OutputDir:    "models/finetuned_model",
			LearningRate: 2e-5,
			NumEpochs:    1,
			BatchSize:    4,
			WeightDecay:  0.01,
			MaxLength:    512,
			Backend:      TrainerContainer,
			Image:        "pdftomd-trainer:latest",
			RegistryURL:  "https://huggingface.co",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Workers:  runtime.NumCPU(),
		Progress: true,
	}
}

// DefaultConversionConfig returns the default structure-recovery thresholds.
func DefaultConversionConfig() ConversionConfig {
	return ConversionConfig{
		MaxHeadingLength:           80,
		MaxHeadingDepth:            6,
		UnnumberedHeadingLevel:     2,
		HeadingKeywords:            append([]string(nil), DefaultHeadingKeywords...),
		KeywordHeadingMaxLength:    30,
		IndentWidth:                2,
		BreakOnTerminalPunctuation: true,
		EdgeLines:                  1,
		AddTitle:                   true,
	}
}

// DefaultCleaningConfig returns the default cleaning thresholds.
func DefaultCleaningConfig() CleaningConfig {
	return CleaningConfig{
		RepeatRatio:        0.5,
		MinRepeatPages:     3,
		MinDuplicateLength: 10,
		PrepareTraining:    true,
		RecordMode:         RecordSection,
		PromptTemplate:     DefaultPromptTemplate,
		MinRecordLength:    10,
	}
}
