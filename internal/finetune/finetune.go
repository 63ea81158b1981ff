// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package finetune hands the training-record file to an external training
// runtime. It checks its inputs, launches one training job, and records the
// run next to the saved model. It has no training loop of its own and does
// not retry a failed job.
package finetune

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pdftomd/internal/batch"
	"github.com/pdiddy/pdftomd/internal/clean"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// RunFile is written into the output directory after training.
const RunFile = "pdftomd-run.yaml"

var (
	// ErrNoRecords reports a training file without a single record.
	ErrNoRecords = errors.New("training file has no records")

	// ErrUnsafeOutput reports an output directory that cannot be cleared.
	ErrUnsafeOutput = errors.New("refusing to clear output directory")
)

// Job is one fine-tuning run after preflight.
type Job struct {
	// Model is a local directory or a registry model id.
	Model      string `yaml:"model"`
	LocalModel bool   `yaml:"local_model"`

	TrainingFile string               `yaml:"training_file"`
	Format       types.TrainingFormat `yaml:"format"`
	Records      int                  `yaml:"records"`
	OutputDir    string               `yaml:"output_dir"`

	LearningRate float64 `yaml:"learning_rate"`
	NumEpochs    int     `yaml:"num_epochs"`
	BatchSize    int     `yaml:"batch_size"`
	WarmupSteps  int     `yaml:"warmup_steps"`
	WeightDecay  float64 `yaml:"weight_decay"`
	MaxLength    int     `yaml:"max_length"`

	Token string `yaml:"-"`
}

// RunInfo is the content of RunFile.
type RunInfo struct {
	Job        Job       `yaml:"job"`
	Trainer    string    `yaml:"trainer"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	Duration   string    `yaml:"duration"`
	EvalPrompt string    `yaml:"eval_prompt,omitempty"`
	EvalOutput string    `yaml:"eval_output,omitempty"`
}

// Stage is the finetune stage.
type Stage struct {
	cfg     types.FinetuneConfig
	trainer Trainer
	client  *http.Client
	log     zerolog.Logger
}

// NewStage returns a Stage that trains with trainer. Zero hyperparameters
// take their defaults. trainer may be nil until Execute is called.
func NewStage(cfg types.FinetuneConfig, trainer Trainer, log zerolog.Logger) *Stage {
	return &Stage{
		cfg:     withDefaults(cfg),
		trainer: trainer,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("stage", string(types.StageFinetune)).Logger(),
	}
}

// WithTrainer replaces the trainer.
func (s *Stage) WithTrainer(t Trainer) *Stage {
	s.trainer = t
	return s
}

// WithHTTPClient replaces the client used for registry lookups.
func (s *Stage) WithHTTPClient(c *http.Client) *Stage {
	s.client = c
	return s
}

func withDefaults(cfg types.FinetuneConfig) types.FinetuneConfig {
	def := types.DefaultPipelineConfig().Finetune
	if cfg.ModelName == "" {
		cfg.ModelName = def.ModelName
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.NumEpochs <= 0 {
		cfg.NumEpochs = def.NumEpochs
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.WarmupSteps < 0 {
		cfg.WarmupSteps = 0
	}
	if cfg.WeightDecay < 0 {
		cfg.WeightDecay = def.WeightDecay
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	return cfg
}

// Preflight checks the training file and the model before anything is
// launched. A missing or empty training file wraps batch.ErrInputMissing.
// A model id unknown to the registry returns ErrModelNotFound.
func (s *Stage) Preflight(ctx context.Context, trainingFile string, format types.TrainingFormat) (Job, error) {
	job := Job{
		Model:        s.cfg.ModelName,
		TrainingFile: trainingFile,
		Format:       clean.FormatFor(trainingFile, format),
		OutputDir:    s.cfg.OutputDir,
		LearningRate: s.cfg.LearningRate,
		NumEpochs:    s.cfg.NumEpochs,
		BatchSize:    s.cfg.BatchSize,
		WarmupSteps:  s.cfg.WarmupSteps,
		WeightDecay:  s.cfg.WeightDecay,
		MaxLength:    s.cfg.MaxLength,
		Token:        s.cfg.HFToken,
	}

	info, err := os.Stat(trainingFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return job, fmt.Errorf("%s: %w", trainingFile, batch.ErrInputMissing)
		}
		return job, fmt.Errorf("checking training file: %w", err)
	}
	if info.IsDir() {
		return job, fmt.Errorf("training file %s is a directory", trainingFile)
	}
	recs, err := clean.ReadRecords(trainingFile, job.Format)
	if err != nil {
		return job, fmt.Errorf("reading training file %s: %w", trainingFile, err)
	}
	if len(recs) == 0 {
		return job, fmt.Errorf("%s: %w: %w", trainingFile, batch.ErrInputMissing, ErrNoRecords)
	}
	job.Records = len(recs)

	if fi, err := os.Stat(job.Model); err == nil && fi.IsDir() {
		job.LocalModel = true
	} else if err := s.resolveModel(ctx, job.Model, job.Token); err != nil {
		return job, err
	}

	protected := []string{trainingFile}
	if job.LocalModel {
		protected = append(protected, job.Model)
	}
	if err := checkOutputDir(job.OutputDir, protected...); err != nil {
		return job, err
	}
	return job, nil
}

// Run trains one model and writes RunFile into the output directory. The
// output directory is cleared first, so a rerun replaces the previous model.
func (s *Stage) Run(ctx context.Context, trainingFile string, format types.TrainingFormat) (RunInfo, error) {
	job, err := s.Preflight(ctx, trainingFile, format)
	if err != nil {
		return RunInfo{}, err
	}
	return s.Execute(ctx, job)
}

// Execute runs a job returned by Preflight.
func (s *Stage) Execute(ctx context.Context, job Job) (RunInfo, error) {
	if s.trainer == nil {
		return RunInfo{}, errors.New("finetune stage has no trainer")
	}
	if err := os.RemoveAll(job.OutputDir); err != nil {
		return RunInfo{}, fmt.Errorf("clearing %s: %w", job.OutputDir, err)
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return RunInfo{}, fmt.Errorf("creating %s: %w", job.OutputDir, err)
	}

	s.log.Info().
		Str("model", job.Model).
		Bool("local", job.LocalModel).
		Str("trainer", s.trainer.Name()).
		Int("records", job.Records).
		Int("epochs", job.NumEpochs).
		Msg("training started")

	info := RunInfo{Job: job, Trainer: s.trainer.Name(), StartedAt: time.Now().UTC()}
	if err := s.trainer.Train(ctx, job); err != nil {
		return info, fmt.Errorf("fine-tuning %s: %w", job.Model, err)
	}
	info.FinishedAt = time.Now().UTC()
	info.Duration = info.FinishedAt.Sub(info.StartedAt).Round(time.Second).String()
	s.log.Info().Str("output", job.OutputDir).Str("duration", info.Duration).Msg("training finished")

	if prompt := strings.TrimSpace(s.cfg.EvalPrompt); prompt != "" {
		info.EvalPrompt = prompt
		out, err := s.trainer.Generate(ctx, job, prompt)
		if err != nil {
			s.log.Warn().Err(err).Msg("evaluation prompt failed")
		} else {
			info.EvalOutput = out
			s.log.Info().Str("prompt", prompt).Str("output", out).Msg("evaluation")
		}
	}

	data, err := yaml.Marshal(&info)
	if err != nil {
		return info, fmt.Errorf("marshaling run info: %w", err)
	}
	if err := batch.WriteFileAtomic(filepath.Join(job.OutputDir, RunFile), data); err != nil {
		return info, err
	}
	return info, nil
}

// checkOutputDir refuses directories whose removal would destroy the
// working tree or any of the protected paths.
func checkOutputDir(outDir string, protected ...string) error {
	if strings.TrimSpace(outDir) == "" {
		return fmt.Errorf("%w: output directory is empty", ErrUnsafeOutput)
	}
	out, err := filepath.Abs(outDir)
	if err != nil {
		return err
	}
	if out == filepath.Dir(out) {
		return fmt.Errorf("%w: %s is a filesystem root", ErrUnsafeOutput, outDir)
	}
	if wd, err := os.Getwd(); err == nil && within(wd, out) {
		return fmt.Errorf("%w: %s contains the working directory", ErrUnsafeOutput, outDir)
	}
	for _, p := range protected {
		if abs, err := filepath.Abs(p); err == nil && within(abs, out) {
			return fmt.Errorf("%w: %s contains %s", ErrUnsafeOutput, outDir, p)
		}
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
