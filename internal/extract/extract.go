// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract pulls the text layer out of PDF files. Each PDF becomes one
// UTF-8 text file whose pages are separated by a line holding a single form
// feed. Parsing is delegated to a Backend so the PDF library can be swapped.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/pdftomd/internal/batch"
	"github.com/pdiddy/pdftomd/internal/mdtext"
	"github.com/pdiddy/pdftomd/pkg/types"
)

var (
	// ErrNoText reports a PDF whose pages yielded no text at all, typically a
	// scanned document without a text layer.
	ErrNoText = errors.New("no extractable text")

	// ErrTooLarge reports a PDF over the configured size limit.
	ErrTooLarge = errors.New("file exceeds size limit")
)

// Page is the text of one PDF page. Err is set when the page could not be
// read; Text is then empty and the rest of the document is still used.
type Page struct {
	Number int
	Text   string
	Err    error
}

// Backend reads the text layer of a PDF, one entry per page in page order.
// The returned error is reserved for failures of the whole document.
type Backend interface {
	Name() string
	Pages(ctx context.Context, path string) ([]Page, error)
}

// NewBackend returns the Backend registered under name. An empty name
// selects the ledongthuc backend.
func NewBackend(name types.ExtractionBackend) (Backend, error) {
	switch name {
	case "", types.BackendLedongthuc:
		return LedongthucBackend{}, nil
	case types.BackendPdfcpu:
		return PdfcpuBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown extraction backend %q (want %s or %s)", name, types.BackendLedongthuc, types.BackendPdfcpu)
	}
}

// JoinPages concatenates page texts with a form-feed line between pages.
func JoinPages(pages []Page) string {
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = strings.Trim(p.Text, "\n")
	}
	return strings.Join(texts, "\n"+mdtext.FormFeed+"\n") + "\n"
}

// Extractor runs a Backend over PDF files.
type Extractor struct {
	backend Backend
	maxSize int64
	log     zerolog.Logger
}

// NewExtractor returns an Extractor. maxSize of zero disables the size check.
func NewExtractor(backend Backend, cfg types.ExtractionConfig, log zerolog.Logger) *Extractor {
	return &Extractor{backend: backend, maxSize: cfg.MaxFileSize, log: log}
}

// ExtractFile writes the text of one PDF to outDir/<stem>.txt and returns the
// path written.
func (e *Extractor) ExtractFile(ctx context.Context, doc types.Document, outDir string) (string, error) {
	info, err := os.Stat(doc.Path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", doc.Path, err)
	}
	if e.maxSize > 0 && info.Size() > e.maxSize {
		return "", fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, info.Size(), e.maxSize)
	}

	pages, err := e.backend.Pages(ctx, doc.Path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", e.backend.Name(), err)
	}

	hasText := false
	for i := range pages {
		if pages[i].Err != nil {
			e.log.Warn().Err(pages[i].Err).
				Str("file", doc.Path).
				Int("page", pages[i].Number).
				Msg("page unreadable, left empty")
			pages[i].Text = ""
			continue
		}
		pages[i].Text = strings.ToValidUTF8(pages[i].Text, "�")
		if strings.TrimSpace(pages[i].Text) != "" {
			hasText = true
		}
	}
	if !hasText {
		return "", fmt.Errorf("%w in %d pages", ErrNoText, len(pages))
	}

	outPath := batch.OutputPath(outDir, doc.Stem, ".txt")
	if err := batch.WriteFileAtomic(outPath, []byte(JoinPages(pages))); err != nil {
		return "", err
	}
	return outPath, nil
}

// ExtractAll extracts every .pdf in inDir into outDir. Text files in outDir
// without a successfully extracted PDF are removed afterwards.
func (e *Extractor) ExtractAll(ctx context.Context, inDir, outDir string, opts batch.Options) (batch.Result[string], error) {
	opts.Stage = types.StageExtract
	result := batch.Result[string]{Stage: types.StageExtract}

	if err := batch.EnsureDistinct(inDir, outDir); err != nil {
		return result, err
	}
	docs, dups, err := batch.ListInputs(inDir, ".pdf")
	if err != nil {
		return result, err
	}
	for _, d := range dups {
		opts.Logger.Warn().Str("file", d).Msg("duplicate stem ignored")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return result, fmt.Errorf("creating output directory %s: %w", outDir, err)
	}

	opts.Logger.Info().Str("backend", e.backend.Name()).Int("files", len(docs)).Msg("extracting")
	result = batch.Run(ctx, docs, opts, func(ctx context.Context, doc types.Document) (string, error) {
		return e.ExtractFile(ctx, doc, outDir)
	})

	removed, err := batch.Prune(outDir, ".txt", result.Stems())
	for _, path := range removed {
		opts.Logger.Debug().Str("file", path).Msg("removed stale output")
	}
	return result, err
}
