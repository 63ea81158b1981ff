// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pdftomd/internal/batch"
)

// ExportYAML writes run to path as YAML.
func ExportYAML(run *Run, path string) error {
	data, err := yaml.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return batch.WriteFileAtomic(path, data)
}

// WriteJSON writes run to w as indented JSON.
func WriteJSON(w io.Writer, run *Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

// WriteText writes a human-readable summary of run to w. Failed files are
// listed under their stage.
func WriteText(w io.Writer, run *Run) {
	fmt.Fprintf(w, "run %d  %s  started %s", run.ID, run.Status, run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  took %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	for _, sr := range run.Results {
		fmt.Fprintf(w, "  %-9s done: %d, failed: %d (%s)\n", sr.Stage, sr.Done, sr.Failed, sr.Duration.Round(time.Millisecond))
		if sr.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", sr.Error)
		}
		for _, f := range sr.Files {
			if f.Error != "" {
				fmt.Fprintf(w, "    failed  %s: %s\n", f.Path, f.Error)
			}
		}
	}
}
