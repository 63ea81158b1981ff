// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert recovers document structure from extracted plain text and
// renders it as Markdown. Headings, list items, and paragraphs are inferred
// from line shape alone; page boundaries are kept as HTML comments so the
// clean stage can work per page.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pdiddy/pdftomd/internal/batch"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// ErrEmptyInput reports a text file with no content to structure.
var ErrEmptyInput = errors.New("text file is empty")

// ConvertFile structures one text file and writes <stem>.md to outDir. It
// returns the path written.
func ConvertFile(s *Structurer, doc types.Document, outDir string) (string, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", doc.Path, err)
	}

	text, err := Decode(data)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", doc.Path, err)
	}
	if strings.TrimSpace(strings.ReplaceAll(text, "\f", "")) == "" {
		return "", ErrEmptyInput
	}

	md := s.Convert(doc.Stem, text)
	outPath := batch.OutputPath(outDir, doc.Stem, ".md")
	if err := batch.WriteFileAtomic(outPath, []byte(md)); err != nil {
		return "", err
	}
	return outPath, nil
}

// ConvertAll converts every .txt file in inDir into outDir. Markdown files in
// outDir whose text source no longer converts are removed. The returned
// error is non-nil only when the stage as a whole cannot run; per-file
// failures are in the result.
func ConvertAll(ctx context.Context, cfg types.ConversionConfig, inDir, outDir string, opts batch.Options) (batch.Result[string], error) {
	opts.Stage = types.StageConvert
	result := batch.Result[string]{Stage: types.StageConvert}

	if err := batch.EnsureDistinct(inDir, outDir); err != nil {
		return result, err
	}
	docs, dups, err := batch.ListInputs(inDir, ".txt")
	if err != nil {
		return result, err
	}
	for _, d := range dups {
		opts.Logger.Warn().Str("file", d).Msg("duplicate stem ignored")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return result, fmt.Errorf("creating output directory %s: %w", outDir, err)
	}

	s := NewStructurer(cfg)
	result = batch.Run(ctx, docs, opts, func(_ context.Context, doc types.Document) (string, error) {
		return ConvertFile(s, doc, outDir)
	})

	removed, err := batch.Prune(outDir, ".md", result.Stems())
	for _, path := range removed {
		opts.Logger.Debug().Str("file", path).Msg("removed stale output")
	}
	if err != nil {
		return result, err
	}
	return result, nil
}
