// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package clean

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/pdiddy/pdftomd/internal/batch"
	"github.com/pdiddy/pdftomd/internal/mdtext"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// ErrMissingColumns reports a training file without input and output columns.
var ErrMissingColumns = errors.New("training file lacks input/output columns")

var csvHeader = []string{"input", "output", "source", "section"}

var paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)

// Recorder cuts cleaned documents into training records.
type Recorder struct {
	mode      types.RecordMode
	minLength int
	prompt    *template.Template
}

// NewRecorder parses the prompt template and returns a Recorder.
func NewRecorder(cfg types.CleaningConfig) (*Recorder, error) {
	def := types.DefaultCleaningConfig()
	r := &Recorder{mode: cfg.RecordMode, minLength: cfg.MinRecordLength}
	if r.mode == "" {
		r.mode = def.RecordMode
	}
	if r.mode != types.RecordSection && r.mode != types.RecordPairs {
		return nil, fmt.Errorf("unknown record mode %q (want %s or %s)", r.mode, types.RecordSection, types.RecordPairs)
	}
	if r.minLength <= 0 {
		r.minLength = def.MinRecordLength
	}

	src := cfg.PromptTemplate
	if src == "" {
		src = def.PromptTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}
	r.prompt = tmpl
	return r, nil
}

// Records returns the training records of one cleaned document.
func (r *Recorder) Records(stem, cleaned string) ([]types.TrainingRecord, error) {
	var (
		recs []types.TrainingRecord
		err  error
	)
	switch r.mode {
	case types.RecordPairs:
		recs = r.pairs(stem, cleaned)
	default:
		recs, err = r.sections(stem, cleaned)
	}
	if err != nil {
		return nil, err
	}

	out := recs[:0]
	for _, rec := range recs {
		if mdtext.RuneLen(rec.Input) > r.minLength && mdtext.RuneLen(rec.Output) > r.minLength {
			out = append(out, rec)
		}
	}
	return out, nil
}

// pairs pairs paragraph i with paragraph i+1 for i = 0, 3, 6, ...
func (r *Recorder) pairs(stem, text string) []types.TrainingRecord {
	var paras []string
	for _, p := range paragraphSplitRe.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}

	var recs []types.TrainingRecord
	for i := 0; i+1 < len(paras); i += 3 {
		recs = append(recs, types.TrainingRecord{Input: paras[i], Output: paras[i+1], Source: stem})
	}
	return recs
}

type section struct {
	heading string
	body    []string
}

// sections emits one record per heading with a non-empty body. Text before
// the first heading is filed under the document stem.
func (r *Recorder) sections(stem, text string) ([]types.TrainingRecord, error) {
	var secs []section
	cur := section{heading: stem}
	for _, line := range strings.Split(text, "\n") {
		if _, heading, ok := mdtext.ParseHeading(line); ok {
			secs = append(secs, cur)
			cur = section{heading: heading}
			continue
		}
		cur.body = append(cur.body, line)
	}
	secs = append(secs, cur)

	var recs []types.TrainingRecord
	for _, s := range secs {
		body := strings.TrimSpace(strings.Join(s.body, "\n"))
		if body == "" {
			continue
		}
		var prompt bytes.Buffer
		err := r.prompt.Execute(&prompt, struct{ Document, Section string }{Document: stem, Section: s.heading})
		if err != nil {
			return nil, fmt.Errorf("rendering prompt for %q: %w", s.heading, err)
		}
		recs = append(recs, types.TrainingRecord{
			Input:   prompt.String(),
			Output:  body,
			Source:  stem,
			Section: s.heading,
		})
	}
	return recs, nil
}

// FormatFor returns the record format for path: the explicit format when
// set, otherwise jsonl for .jsonl files and csv for anything else.
func FormatFor(path string, explicit types.TrainingFormat) types.TrainingFormat {
	if explicit != "" {
		return explicit
	}
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return types.FormatJSONL
	}
	return types.FormatCSV
}

// WriteRecords writes records to path atomically.
func WriteRecords(path string, format types.TrainingFormat, recs []types.TrainingRecord) error {
	var buf bytes.Buffer
	switch format {
	case types.FormatJSONL:
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("encoding record: %w", err)
			}
		}
	case types.FormatCSV:
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return err
		}
		for _, rec := range recs {
			if err := w.Write([]string{rec.Input, rec.Output, rec.Source, rec.Section}); err != nil {
				return fmt.Errorf("writing record: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
	default:
		return fmt.Errorf("unknown training format %q", format)
	}
	return batch.WriteFileAtomic(path, buf.Bytes())
}

// ReadRecords loads a training file written by WriteRecords, or any CSV with
// input and output columns.
func ReadRecords(path string, format types.TrainingFormat) ([]types.TrainingRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if format == types.FormatJSONL {
		return readJSONL(f)
	}
	return readCSV(f)
}

func readJSONL(r io.Reader) ([]types.TrainingRecord, error) {
	var recs []types.TrainingRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var rec types.TrainingRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	return recs, sc.Err()
}

func readCSV(r io.Reader) ([]types.TrainingRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrMissingColumns
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	col := make(map[string]int)
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	in, okIn := col["input"]
	out, okOut := col["output"]
	if !okIn || !okOut {
		return nil, ErrMissingColumns
	}
	field := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	var recs []types.TrainingRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if in >= len(row) || out >= len(row) {
			continue
		}
		recs = append(recs, types.TrainingRecord{
			Input:   row[in],
			Output:  row[out],
			Source:  field(row, "source"),
			Section: field(row, "section"),
		})
	}
	return recs, nil
}
