// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/pdftomd/pkg/types"
)

// ListInputs returns the files in dir whose extension matches ext
// (case-insensitive), sorted by name. A missing dir yields ErrInputMissing.
// When two files share a stem (a.pdf, a.PDF) only the first is kept; the
// others are returned as duplicates so the caller can report them.
func ListInputs(dir, ext string) (docs []types.Document, duplicates []string, err error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrInputMissing, dir)
		}
		return nil, nil, fmt.Errorf("stat input directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is not a directory", ErrInputMissing, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading input directory %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	seen := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		stem := types.Stem(name)
		path := filepath.Join(dir, name)
		if seen[stem] {
			duplicates = append(duplicates, path)
			continue
		}
		seen[stem] = true
		docs = append(docs, types.Document{Stem: stem, Path: path})
	}
	return docs, duplicates, nil
}

// EnsureDistinct rejects a stage whose output directory is its input directory.
func EnsureDistinct(in, out string) error {
	absIn, err := filepath.Abs(in)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", in, err)
	}
	absOut, err := filepath.Abs(out)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", out, err)
	}
	if absIn == absOut {
		return fmt.Errorf("%w: %s", ErrSameDirectory, in)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partially written output.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// OutputPath returns dir/<stem><ext>.
func OutputPath(dir, stem, ext string) string {
	return filepath.Join(dir, stem+ext)
}

// indexPrefix names the hidden file in an output directory that lists the
// stems a stage wrote there, one per line.
const indexPrefix = ".pdftomd-outputs"

// IndexPath returns the path of the output index for files with extension
// ext in dir.
func IndexPath(dir, ext string) string {
	return filepath.Join(dir, indexPrefix+"-"+strings.ToLower(strings.TrimPrefix(ext, ".")))
}

// Prune removes the outputs a previous run wrote to dir whose stem is not in
// keep, then records keep as the new index. Only stems listed in the index
// are ever removed, so unrelated files that share the directory survive. It
// returns the removed paths. A missing dir is not an error.
func Prune(dir, ext string, keep map[string]bool) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	index := IndexPath(dir, ext)
	data, err := os.ReadFile(index)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading output index %s: %w", index, err)
	}

	var removed []string
	for _, stem := range strings.Split(string(data), "\n") {
		stem = strings.TrimSpace(stem)
		if stem == "" || keep[stem] || stem != filepath.Base(stem) {
			continue
		}
		path := OutputPath(dir, stem, ext)
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("removing stale output %s: %w", path, err)
		}
		removed = append(removed, path)
	}

	stems := make([]string, 0, len(keep))
	for stem, ok := range keep {
		if ok {
			stems = append(stems, stem)
		}
	}
	sort.Strings(stems)
	var b strings.Builder
	for _, stem := range stems {
		b.WriteString(stem)
		b.WriteByte('\n')
	}
	if err := WriteFileAtomic(index, []byte(b.String())); err != nil {
		return removed, fmt.Errorf("writing output index: %w", err)
	}
	return removed, nil
}
