// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the selected stages in order, handing each stage's
// output directory to the next, and records every stage in the run manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/pdftomd/internal/batch"
	"github.com/pdiddy/pdftomd/internal/clean"
	"github.com/pdiddy/pdftomd/internal/convert"
	"github.com/pdiddy/pdftomd/internal/extract"
	"github.com/pdiddy/pdftomd/internal/finetune"
	"github.com/pdiddy/pdftomd/internal/manifest"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// ErrNoStages reports a run with nothing selected.
var ErrNoStages = errors.New("no stage selected")

// Recorder persists run results. *manifest.Store implements it.
type Recorder interface {
	BeginRun(ctx context.Context, stages []types.Stage, cfg types.PipelineConfig) (int64, error)
	RecordStage(ctx context.Context, runID int64, sr manifest.StageResult) error
	FinishRun(ctx context.Context, runID int64, runErr error) error
}

// TrainerFactory builds the finetune trainer. It is only called when the
// finetune stage runs and its preflight passed.
type TrainerFactory func(ctx context.Context, cfg types.FinetuneConfig) (finetune.Trainer, error)

// Pipeline runs stages against one configuration.
type Pipeline struct {
	cfg        types.PipelineConfig
	log        zerolog.Logger
	progress   io.Writer
	recorder   Recorder
	backend    extract.Backend
	newTrainer TrainerFactory
	client     *http.Client
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder records runs in r.
func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.recorder = r } }

// WithProgress draws per-stage progress bars on w.
func WithProgress(w io.Writer) Option { return func(p *Pipeline) { p.progress = w } }

// WithBackend overrides the extraction backend named in the config.
func WithBackend(b extract.Backend) Option { return func(p *Pipeline) { p.backend = b } }

// WithTrainerFactory overrides how the finetune trainer is built.
func WithTrainerFactory(f TrainerFactory) Option { return func(p *Pipeline) { p.newTrainer = f } }

// WithHTTPClient sets the client used for model registry lookups.
func WithHTTPClient(c *http.Client) Option { return func(p *Pipeline) { p.client = c } }

// New returns a Pipeline. Trainer output goes to trainerOut unless a
// TrainerFactory option replaces the default.
func New(cfg types.PipelineConfig, log zerolog.Logger, trainerOut io.Writer, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, log: log}
	p.newTrainer = func(ctx context.Context, fc types.FinetuneConfig) (finetune.Trainer, error) {
		return finetune.NewTrainer(ctx, fc, trainerOut)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select returns the requested stages once each, in pipeline order.
func Select(requested ...types.Stage) []types.Stage {
	want := make(map[types.Stage]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	var stages []types.Stage
	for _, s := range types.Stages {
		if want[s] {
			stages = append(stages, s)
		}
	}
	return stages
}

// Run executes the selected stages in pipeline order and stops at the first
// stage that fails entirely. Per-file failures do not stop the run.
func (p *Pipeline) Run(ctx context.Context, requested ...types.Stage) ([]manifest.StageResult, error) {
	stages := Select(requested...)
	if len(stages) == 0 {
		return nil, ErrNoStages
	}

	runID, recording := p.beginRun(ctx, stages)

	var results []manifest.StageResult
	var runErr error
	for _, stage := range stages {
		p.log.Info().Str("stage", string(stage)).Msg("stage started")
		sr, err := p.runStage(ctx, stage)
		results = append(results, sr)
		if recording {
			if rerr := p.recorder.RecordStage(ctx, runID, sr); rerr != nil {
				p.log.Warn().Err(rerr).Msg("could not record stage result")
			}
		}
		if err != nil {
			runErr = fmt.Errorf("%s stage: %w", stage, err)
			break
		}
		p.log.Info().
			Str("stage", string(stage)).
			Int("done", sr.Done).
			Int("failed", sr.Failed).
			Dur("elapsed", sr.Duration).
			Msg("stage finished")
	}

	if recording {
		// The run's own context may be cancelled; the outcome is still recorded.
		if err := p.recorder.FinishRun(context.WithoutCancel(ctx), runID, runErr); err != nil {
			p.log.Warn().Err(err).Msg("could not record run outcome")
		}
	}
	return results, runErr
}

func (p *Pipeline) beginRun(ctx context.Context, stages []types.Stage) (int64, bool) {
	if p.recorder == nil {
		return 0, false
	}
	id, err := p.recorder.BeginRun(ctx, stages, p.cfg)
	if err != nil {
		p.log.Warn().Err(err).Msg("run manifest unavailable, continuing without it")
		return 0, false
	}
	return id, true
}

func (p *Pipeline) options(stage types.Stage) batch.Options {
	return batch.Options{Stage: stage, Workers: p.cfg.Workers, Logger: p.log, Progress: p.progress}
}

// runStage runs one stage. The returned error is set when the stage failed
// entirely: missing input, a configuration error, or every file failed.
func (p *Pipeline) runStage(ctx context.Context, stage types.Stage) (manifest.StageResult, error) {
	start := time.Now()
	paths := p.cfg.Paths

	switch stage {
	case types.StageExtract:
		backend := p.backend
		if backend == nil {
			var err error
			if backend, err = extract.NewBackend(p.cfg.Extraction.Backend); err != nil {
				return failed(stage, start, err)
			}
		}
		ex := extract.NewExtractor(backend, p.cfg.Extraction, p.log)
		res, err := ex.ExtractAll(ctx, paths.PDFDir, paths.TextDir, p.options(stage))
		return fromBatch(p.log, res, start, err)

	case types.StageConvert:
		res, err := convert.ConvertAll(ctx, p.cfg.Conversion, paths.TextDir, paths.MarkdownDir, p.options(stage))
		return fromBatch(p.log, res, start, err)

	case types.StageClean:
		st, err := clean.NewStage(p.cfg.Cleaning)
		if err != nil {
			return failed(stage, start, err)
		}
		res, err := st.CleanAll(ctx, paths.MarkdownDir, paths.CleanedDir, paths.TrainingFile, p.options(stage))
		return fromBatch(p.log, res, start, err)

	case types.StageFinetune:
		return p.runFinetune(ctx, start)

	default:
		return failed(stage, start, fmt.Errorf("unknown stage %q", stage))
	}
}

func (p *Pipeline) runFinetune(ctx context.Context, start time.Time) (manifest.StageResult, error) {
	path := p.cfg.Paths.TrainingFile
	file := manifest.FileResult{Stem: types.Stem(path), Path: path}

	st := finetune.NewStage(p.cfg.Finetune, nil, p.log)
	if p.client != nil {
		st.WithHTTPClient(p.client)
	}
	job, err := st.Preflight(ctx, path, p.cfg.Cleaning.TrainingFormat)
	if err == nil {
		var trainer finetune.Trainer
		if trainer, err = p.newTrainer(ctx, p.cfg.Finetune); err == nil {
			_, err = st.WithTrainer(trainer).Execute(ctx, job)
		}
	}

	sr := manifest.StageResult{Stage: types.StageFinetune, Duration: time.Since(start)}
	if err != nil {
		file.Status, file.Error = types.FileFailed, err.Error()
		sr.Failed, sr.Error = 1, err.Error()
	} else {
		file.Status = types.FileDone
		sr.Done = 1
	}
	file.Elapsed = sr.Duration
	sr.Files = []manifest.FileResult{file}
	return sr, err
}

// fromBatch folds a batch result and its setup error into a StageResult
// plus the stage-level error.
func fromBatch[T any](log zerolog.Logger, res batch.Result[T], start time.Time, err error) (manifest.StageResult, error) {
	if err == nil {
		err = res.Err()
	}
	if err == nil && res.HasFailures() {
		log.Warn().
			Str("stage", string(res.Stage)).
			Int("failed", len(res.Failures)).
			Int("total", res.Total()).
			Msg("stage finished with failed files")
	}
	return manifest.FromBatch(res, time.Since(start), err), err
}

func failed(stage types.Stage, start time.Time, err error) (manifest.StageResult, error) {
	return manifest.StageResult{Stage: stage, Duration: time.Since(start), Error: err.Error()}, err
}
