// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pdftomd/pkg/types"
)

func docsFor(stems ...string) []types.Document {
	docs := make([]types.Document, len(stems))
	for i, s := range stems {
		docs[i] = types.Document{Stem: s, Path: s + ".pdf"}
	}
	return docs
}

func TestRun_CollectsFailuresInInputOrder(t *testing.T) {
	var logBuf bytes.Buffer
	opts := Options{
		Stage:   types.StageExtract,
		Workers: 3,
		Logger:  zerolog.New(&logBuf),
	}

	docs := docsFor("a", "b", "c", "d", "e")
	result := Run(context.Background(), docs, opts, func(_ context.Context, doc types.Document) (string, error) {
		if doc.Stem == "c" {
			return "", errors.New("corrupt")
		}
		return "out-" + doc.Stem, nil
	})

	require.Len(t, result.Outputs, 4)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "c", result.Failures[0].Doc.Stem)
	assert.EqualError(t, result.Failures[0].Err, "corrupt")

	var stems []string
	for _, o := range result.Outputs {
		stems = append(stems, o.Doc.Stem)
		assert.Equal(t, "out-"+o.Doc.Stem, o.Value)
	}
	assert.Equal(t, []string{"a", "b", "d", "e"}, stems)

	assert.Equal(t, 5, result.Total())
	assert.True(t, result.HasFailures())
	assert.NoError(t, result.Err(), "partial failure is not a stage failure")
	assert.Contains(t, logBuf.String(), "c.pdf")
	assert.Contains(t, logBuf.String(), "batch summary")
}

func TestRun_AllFailed(t *testing.T) {
	result := Run(context.Background(), docsFor("a", "b"), Options{Stage: types.StageClean, Logger: zerolog.Nop()},
		func(_ context.Context, _ types.Document) (int, error) {
			return 0, errors.New("bad")
		})

	err := result.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllFailed))
}

func TestRun_EmptyInputIsNotAFailure(t *testing.T) {
	result := Run(context.Background(), nil, Options{Logger: zerolog.Nop()},
		func(_ context.Context, _ types.Document) (int, error) { return 1, nil })

	assert.Equal(t, 0, result.Total())
	assert.NoError(t, result.Err())
}

func TestRun_RecoversPanics(t *testing.T) {
	result := Run(context.Background(), docsFor("boom", "ok"), Options{Workers: 1, Logger: zerolog.Nop()},
		func(_ context.Context, doc types.Document) (int, error) {
			if doc.Stem == "boom" {
				panic("malformed xref")
			}
			return 1, nil
		})

	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Err.Error(), "malformed xref")
	assert.Len(t, result.Outputs, 1)
}

func TestRun_RespectsWorkerLimit(t *testing.T) {
	var inFlight, peak int32
	block := make(chan struct{})
	go func() {
		// Release workers once the pool has had a chance to fill.
		for atomic.LoadInt32(&inFlight) < 2 {
		}
		close(block)
	}()

	Run(context.Background(), docsFor("a", "b", "c", "d"), Options{Workers: 2, Logger: zerolog.Nop()},
		func(_ context.Context, _ types.Document) (int, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			<-block
			atomic.AddInt32(&inFlight, -1)
			return 0, nil
		})

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Run(ctx, docsFor("a", "b"), Options{Workers: 1, Logger: zerolog.Nop()},
		func(_ context.Context, _ types.Document) (int, error) { return 1, nil })

	require.Len(t, result.Failures, 2)
	assert.True(t, errors.Is(result.Failures[0].Err, context.Canceled))
}

func TestRun_ProgressBar(t *testing.T) {
	var bar bytes.Buffer
	Run(context.Background(), docsFor("a"), Options{Stage: types.StageConvert, Logger: zerolog.Nop(), Progress: &bar},
		func(_ context.Context, _ types.Document) (int, error) { return 1, nil })

	assert.Contains(t, bar.String(), "convert")
}

func TestListInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.PDF", "a.pdf", "notes.txt", ".hidden.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))

	docs, dups, err := ListInputs(dir, ".pdf")
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Stem)
	assert.Equal(t, filepath.Join(dir, "a.PDF"), docs[0].Path)
	assert.Equal(t, "b", docs[1].Stem)
	assert.Equal(t, []string{filepath.Join(dir, "a.pdf")}, dups)
}

func TestListInputs_Missing(t *testing.T) {
	_, _, err := ListInputs(filepath.Join(t.TempDir(), "nope"), ".pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInputMissing))
}

func TestEnsureDistinct(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, EnsureDistinct(filepath.Join(dir, "in"), filepath.Join(dir, "out")))

	err := EnsureDistinct(filepath.Join(dir, "same"), filepath.Join(dir, "x", "..", "same"))
	assert.True(t, errors.Is(err, ErrSameDirectory))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	require.NoError(t, WriteFileAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"keep.md", "stale.md", "README.md", "other.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	removed, err := Prune(dir, ".md", map[string]bool{"keep": true, "stale": true})
	require.NoError(t, err)
	assert.Empty(t, removed, "first run only records its outputs")

	removed, err = Prune(dir, ".md", map[string]bool{"keep": true})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "stale.md")}, removed)

	assert.FileExists(t, filepath.Join(dir, "keep.md"))
	assert.FileExists(t, filepath.Join(dir, "README.md"), "files this stage never wrote are untouched")
	assert.FileExists(t, filepath.Join(dir, "other.txt"))

	index, err := os.ReadFile(IndexPath(dir, ".md"))
	require.NoError(t, err)
	assert.Equal(t, "keep\n", string(index))

	removed, err = Prune(filepath.Join(dir, "missing"), ".md", nil)
	assert.NoError(t, err)
	assert.Empty(t, removed)
	assert.NoDirExists(t, filepath.Join(dir, "missing"))
}

func TestPrune_IgnoresPathsInIndex(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	outside := filepath.Join(root, "victim.md")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(IndexPath(dir, ".md"), []byte("../victim\n"), 0o644))

	removed, err := Prune(dir, ".md", nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.FileExists(t, outside)
}

func TestResultStems(t *testing.T) {
	res := Result[string]{
		Outputs:  []Output[string]{{Doc: types.Document{Stem: "a"}}, {Doc: types.Document{Stem: "b"}}},
		Failures: []Failure{{Doc: types.Document{Stem: "c"}, Err: errors.New("bad")}},
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, res.Stems())
}
