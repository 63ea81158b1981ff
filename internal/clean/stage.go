// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package clean

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/pdftomd/internal/batch"
	"github.com/pdiddy/pdftomd/pkg/types"
)

var (
	// ErrEmptyInput reports a Markdown file with nothing to clean.
	ErrEmptyInput = errors.New("markdown file is empty")

	// ErrInvalidEncoding reports a Markdown file that is not valid UTF-8.
	ErrInvalidEncoding = errors.New("markdown file is not valid UTF-8")
)

// Stage is the clean stage: cleaning plus optional training-record output.
type Stage struct {
	cfg      types.CleaningConfig
	cleaner  *Cleaner
	recorder *Recorder
}

// NewStage validates cfg and returns a Stage.
func NewStage(cfg types.CleaningConfig) (*Stage, error) {
	rec, err := NewRecorder(cfg)
	if err != nil {
		return nil, err
	}
	return &Stage{cfg: cfg, cleaner: NewCleaner(cfg), recorder: rec}, nil
}

// CleanFile cleans one Markdown file into outDir/<stem>.md and returns the
// training records cut from it.
func (s *Stage) CleanFile(doc types.Document, outDir string) ([]types.TrainingRecord, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", doc.Path, err)
	}
	if !utf8.Valid(data) {
		return nil, ErrInvalidEncoding
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrEmptyInput
	}

	cleaned := s.cleaner.Clean(string(data))
	if err := batch.WriteFileAtomic(batch.OutputPath(outDir, doc.Stem, ".md"), []byte(cleaned)); err != nil {
		return nil, err
	}
	if !s.cfg.PrepareTraining {
		return nil, nil
	}
	return s.recorder.Records(doc.Stem, cleaned)
}

// CleanAll cleans every .md file in inDir into outDir and, when training
// preparation is enabled, writes the records of all cleaned documents, in
// stem order, to trainingFile. The training file always reflects this run.
func (s *Stage) CleanAll(ctx context.Context, inDir, outDir, trainingFile string, opts batch.Options) (batch.Result[[]types.TrainingRecord], error) {
	opts.Stage = types.StageClean
	result := batch.Result[[]types.TrainingRecord]{Stage: types.StageClean}

	if err := batch.EnsureDistinct(inDir, outDir); err != nil {
		return result, err
	}
	docs, dups, err := batch.ListInputs(inDir, ".md")
	if err != nil {
		return result, err
	}
	for _, d := range dups {
		opts.Logger.Warn().Str("file", d).Msg("duplicate stem ignored")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return result, fmt.Errorf("creating output directory %s: %w", outDir, err)
	}

	result = batch.Run(ctx, docs, opts, func(_ context.Context, doc types.Document) ([]types.TrainingRecord, error) {
		return s.CleanFile(doc, outDir)
	})

	var records []types.TrainingRecord
	for _, o := range result.Outputs {
		records = append(records, o.Value...)
	}
	removed, err := batch.Prune(outDir, ".md", result.Stems())
	for _, path := range removed {
		opts.Logger.Debug().Str("file", path).Msg("removed stale output")
	}
	if err != nil {
		return result, err
	}

	// With nothing cleaned the file is still rewritten, header only, so a
	// later finetune never trains on records of documents that are gone.
	if !s.cfg.PrepareTraining || trainingFile == "" {
		return result, nil
	}
	format := FormatFor(trainingFile, s.cfg.TrainingFormat)
	if err := WriteRecords(trainingFile, format, records); err != nil {
		return result, fmt.Errorf("writing training file %s: %w", trainingFile, err)
	}
	opts.Logger.Info().
		Str("file", trainingFile).
		Str("format", string(format)).
		Int("records", len(records)).
		Msg("training data written")
	return result, nil
}
