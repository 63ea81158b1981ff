// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package manifest records pipeline runs in a SQLite ledger: one row per
// run, one per stage, and one per file processed by that stage.
package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pdftomd/internal/batch"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// ErrNoRuns reports an empty ledger.
var ErrNoRuns = errors.New("no runs recorded")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Store manages the run ledger.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the ledger at path and creates its schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating manifest directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			stages TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			config TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS stage_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			done INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS file_results (
			stage_result_id INTEGER NOT NULL REFERENCES stage_results(id) ON DELETE CASCADE,
			stem TEXT NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			elapsed_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_results_run ON stage_results(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_file_results_stage ON file_results(stage_result_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// FileResult is the outcome of one document in one stage.
type FileResult struct {
	Stem    string           `json:"stem" yaml:"stem"`
	Path    string           `json:"path" yaml:"path"`
	Status  types.FileStatus `json:"status" yaml:"status"`
	Error   string           `json:"error,omitempty" yaml:"error,omitempty"`
	Elapsed time.Duration    `json:"elapsed" yaml:"elapsed"`
}

// StageResult is the outcome of one stage in one run.
type StageResult struct {
	Stage    types.Stage   `json:"stage" yaml:"stage"`
	Done     int           `json:"done" yaml:"done"`
	Failed   int           `json:"failed" yaml:"failed"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Files    []FileResult  `json:"files,omitempty" yaml:"files,omitempty"`
}

// Run is one pipeline invocation.
type Run struct {
	ID         int64         `json:"id" yaml:"id"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero" yaml:"finished_at,omitempty"`
	Stages     []types.Stage `json:"stages" yaml:"stages"`
	Status     string        `json:"status" yaml:"status"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Results    []StageResult `json:"results" yaml:"results"`
}

// FromBatch converts a stage's batch result into a StageResult.
func FromBatch[T any](res batch.Result[T], elapsed time.Duration, stageErr error) StageResult {
	sr := StageResult{
		Stage:    res.Stage,
		Done:     len(res.Outputs),
		Failed:   len(res.Failures),
		Duration: elapsed,
	}
	if stageErr != nil {
		sr.Error = stageErr.Error()
	}
	for _, o := range res.Outputs {
		sr.Files = append(sr.Files, FileResult{Stem: o.Doc.Stem, Path: o.Doc.Path, Status: types.FileDone, Elapsed: o.Elapsed})
	}
	for _, f := range res.Failures {
		sr.Files = append(sr.Files, FileResult{Stem: f.Doc.Stem, Path: f.Doc.Path, Status: types.FileFailed, Error: f.Err.Error(), Elapsed: f.Elapsed})
	}
	return sr
}

// BeginRun inserts a running run and returns its id. cfg is stored as YAML.
func (s *Store) BeginRun(ctx context.Context, stages []types.Stage, cfg types.PipelineConfig) (int64, error) {
	cfgYAML, err := yaml.Marshal(&cfg)
	if err != nil {
		return 0, fmt.Errorf("marshaling config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, stages, status, config) VALUES (?, ?, ?, ?)`,
		formatTime(time.Now()), joinStages(stages), StatusRunning, string(cfgYAML),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

// RecordStage stores one stage result and its file outcomes.
func (s *Store) RecordStage(ctx context.Context, runID int64, sr StageResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO stage_results (run_id, stage, done, failed, duration_ms, error) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(sr.Stage), sr.Done, sr.Failed, sr.Duration.Milliseconds(), sr.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting stage result: %w", err)
	}
	stageID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO file_results (stage_result_id, stem, path, status, error, elapsed_ms) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range sr.Files {
		if _, err := stmt.ExecContext(ctx, stageID, f.Stem, f.Path, string(f.Status), f.Error, f.Elapsed.Milliseconds()); err != nil {
			return fmt.Errorf("inserting file result %s: %w", f.Stem, err)
		}
	}
	return tx.Commit()
}

// FinishRun marks a run succeeded, or failed with runErr.
func (s *Store) FinishRun(ctx context.Context, runID int64, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		formatTime(time.Now()), status, msg, runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", runID, err)
	}
	return nil
}

// LastRun returns the most recent run with its stage and file results.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("querying last run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun returns one run with its stage and file results.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	var (
		run                  Run
		started, stages      string
		finished, errMessage sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, stages, status, error FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &started, &finished, &stages, &run.Status, &errMessage)
	if err != nil {
		return nil, fmt.Errorf("querying run %d: %w", id, err)
	}
	run.StartedAt = parseTime(started)
	if finished.Valid {
		run.FinishedAt = parseTime(finished.String)
	}
	run.Stages = splitStages(stages)
	run.Error = errMessage.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage, done, failed, duration_ms, error FROM stage_results WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying stage results: %w", err)
	}
	defer rows.Close()

	var stageIDs []int64
	for rows.Next() {
		var (
			sid      int64
			sr       StageResult
			stage    string
			duration int64
			stageErr sql.NullString
		)
		if err := rows.Scan(&sid, &stage, &sr.Done, &sr.Failed, &duration, &stageErr); err != nil {
			return nil, fmt.Errorf("scanning stage result: %w", err)
		}
		sr.Stage = types.Stage(stage)
		sr.Duration = time.Duration(duration) * time.Millisecond
		sr.Error = stageErr.String
		run.Results = append(run.Results, sr)
		stageIDs = append(stageIDs, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, sid := range stageIDs {
		files, err := s.fileResults(ctx, sid)
		if err != nil {
			return nil, err
		}
		run.Results[i].Files = files
	}
	return &run, nil
}

func (s *Store) fileResults(ctx context.Context, stageID int64) ([]FileResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stem, path, status, error, elapsed_ms FROM file_results WHERE stage_result_id = ? ORDER BY rowid`, stageID)
	if err != nil {
		return nil, fmt.Errorf("querying file results: %w", err)
	}
	defer rows.Close()

	var files []FileResult
	for rows.Next() {
		var (
			f       FileResult
			status  string
			fileErr sql.NullString
			elapsed int64
		)
		if err := rows.Scan(&f.Stem, &f.Path, &status, &fileErr, &elapsed); err != nil {
			return nil, fmt.Errorf("scanning file result: %w", err)
		}
		f.Status = types.FileStatus(status)
		f.Error = fileErr.String
		f.Elapsed = time.Duration(elapsed) * time.Millisecond
		files = append(files, f)
	}
	return files, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func joinStages(stages []types.Stage) string {
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = string(st)
	}
	return strings.Join(names, ",")
}

func splitStages(s string) []types.Stage {
	if s == "" {
		return nil
	}
	var stages []types.Stage
	for _, name := range strings.Split(s, ",") {
		stages = append(stages, types.Stage(name))
	}
	return stages
}
