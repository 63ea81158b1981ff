// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"path/filepath"
	"strings"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageExtract  Stage = "extract"
	StageConvert  Stage = "convert"
	StageClean    Stage = "clean"
	StageFinetune Stage = "finetune"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageExtract, StageConvert, StageClean, StageFinetune}

// FileStatus is the outcome of one document in one stage.
type FileStatus string

const (
	FileDone   FileStatus = "done"
	FileFailed FileStatus = "failed"
)

// Document is one source PDF followed through the pipeline. Every stage
// output carries the same stem.
type Document struct {
	// Stem is the file name without extension (e.g. "annual-report-2024").
	Stem string `json:"stem" yaml:"stem"`

	// Path is the input file for the current stage.
	Path string `json:"path" yaml:"path"`
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// TrainingRecord is one prompt/response example written to the training file.
type TrainingRecord struct {
	// Input is the prompt column.
	Input string `json:"input" yaml:"input"`

	// Output is the target response column.
	Output string `json:"output" yaml:"output"`

	// Source is the stem of the document the record came from.
	Source string `json:"source" yaml:"source"`

	// Section is the heading the record was cut from, if any.
	Section string `json:"section,omitempty" yaml:"section,omitempty"`
}
