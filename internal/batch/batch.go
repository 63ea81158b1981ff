// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch runs one pipeline stage over a directory of files. Each file
// is processed independently on a bounded worker pool; failures are collected
// per file and returned alongside the successes instead of aborting the batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/pdftomd/pkg/types"
)

var (
	// ErrInputMissing reports that a stage's input directory does not exist.
	ErrInputMissing = errors.New("input directory missing")

	// ErrAllFailed reports that a stage had inputs and every one of them failed.
	ErrAllFailed = errors.New("every file in the stage failed")

	// ErrSameDirectory reports a stage configured to write into its own input.
	ErrSameDirectory = errors.New("input and output directories are the same")
)

// Func processes one document and returns the value kept for later stages.
type Func[T any] func(ctx context.Context, doc types.Document) (T, error)

// Output is one successfully processed document.
type Output[T any] struct {
	Doc     types.Document
	Value   T
	Elapsed time.Duration
}

// Failure is one document that could not be processed.
type Failure struct {
	Doc     types.Document
	Err     error
	Elapsed time.Duration
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Doc.Path, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Result holds the outcome of a stage run. Outputs and Failures keep the
// order of the input list.
type Result[T any] struct {
	Stage    types.Stage
	Outputs  []Output[T]
	Failures []Failure
}

// Total returns the number of documents processed.
func (r Result[T]) Total() int {
	return len(r.Outputs) + len(r.Failures)
}

// HasFailures reports whether any document failed.
func (r Result[T]) HasFailures() bool {
	return len(r.Failures) > 0
}

// Stems returns the stems of the documents that succeeded.
func (r Result[T]) Stems() map[string]bool {
	set := make(map[string]bool, len(r.Outputs))
	for _, o := range r.Outputs {
		set[o.Doc.Stem] = true
	}
	return set
}

// Err returns ErrAllFailed when the stage had inputs and none succeeded.
// Partial failure is not an error.
func (r Result[T]) Err() error {
	if r.Total() > 0 && len(r.Outputs) == 0 {
		return fmt.Errorf("%s: %w (%d of %d)", r.Stage, ErrAllFailed, len(r.Failures), r.Total())
	}
	return nil
}

// Options configures a Run.
type Options struct {
	Stage types.Stage

	// Workers bounds concurrency; zero or negative uses runtime.NumCPU().
	Workers int

	Logger zerolog.Logger

	// Progress receives a progress bar when non-nil.
	Progress io.Writer
}

type outcome[T any] struct {
	value   T
	err     error
	elapsed time.Duration
}

// Run applies fn to every document. It never returns early on a document
// error; a cancelled context marks the documents not yet started as failed.
func Run[T any](ctx context.Context, docs []types.Document, opts Options, fn Func[T]) Result[T] {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	log := opts.Logger.With().Str("stage", string(opts.Stage)).Logger()

	var bar *progressbar.ProgressBar
	if opts.Progress != nil && len(docs) > 0 {
		bar = newProgressBar(opts.Progress, len(docs), string(opts.Stage))
	}

	outcomes := make([]outcome[T], len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			start := time.Now()
			v, err := call(gctx, fn, doc)
			outcomes[i] = outcome[T]{value: v, err: err, elapsed: time.Since(start)}

			if err != nil {
				log.Error().Err(err).Str("file", doc.Path).Msg("skipped")
			} else {
				log.Debug().Str("file", doc.Path).Dur("elapsed", outcomes[i].elapsed).Msg("processed")
			}
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	result := Result[T]{Stage: opts.Stage}
	for i, o := range outcomes {
		if o.err != nil {
			result.Failures = append(result.Failures, Failure{Doc: docs[i], Err: o.err, Elapsed: o.elapsed})
			continue
		}
		result.Outputs = append(result.Outputs, Output[T]{Doc: docs[i], Value: o.value, Elapsed: o.elapsed})
	}

	log.Info().
		Int("done", len(result.Outputs)).
		Int("failed", len(result.Failures)).
		Int("total", result.Total()).
		Msg("batch summary")
	return result
}

// call runs fn and turns a panic inside a third-party parser into an error
// for that document.
func call[T any](ctx context.Context, fn Func[T], doc types.Document) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing %s: %v", doc.Stem, r)
		}
	}()
	return fn(ctx, doc)
}

func newProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
}
