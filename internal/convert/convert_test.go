// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/pdiddy/pdftomd/internal/batch"
	"github.com/pdiddy/pdftomd/pkg/types"
)

func noTitle() types.ConversionConfig {
	cfg := types.DefaultConversionConfig()
	cfg.AddTitle = false
	return cfg
}

func TestConvert_HeadingThenParagraph(t *testing.T) {
	s := NewStructurer(types.DefaultConversionConfig())
	got := s.Convert("doc", "1. Introduction\n\nThis paper studies wrap-\nped lines and joins them.\n")

	want := "# doc\n\n<!-- page 1 -->\n\n# 1. Introduction\n\nThis paper studies wrapped lines and joins them.\n"
	assert.Equal(t, want, got)
}

func TestConvert_ListBlock(t *testing.T) {
	s := NewStructurer(noTitle())
	got := s.Convert("doc", "- a\n- b\n- c")

	assert.Equal(t, "<!-- page 1 -->\n\n- a\n- b\n- c\n", got)
}

func TestConvert_NumberedEnumerationIsAList(t *testing.T) {
	s := NewStructurer(noTitle())
	got := s.Convert("doc", "1. Apples\n2. Pears\n3. Plums")

	assert.Equal(t, "<!-- page 1 -->\n\n1. Apples\n2. Pears\n3. Plums\n", got)
}

func TestConvert_NestedList(t *testing.T) {
	s := NewStructurer(noTitle())
	got := s.Convert("doc", "• fruit\n  • apple\n  • pear\n• vegetables")

	assert.Equal(t, "<!-- page 1 -->\n\n- fruit\n    - apple\n    - pear\n- vegetables\n", got)
}

func TestConvert_ListContinuation(t *testing.T) {
	s := NewStructurer(noTitle())
	got := s.Convert("doc", "- a long item that\n  wraps onto the next line\n- short")

	assert.Equal(t, "<!-- page 1 -->\n\n- a long item that wraps onto the next line\n- short\n", got)
}

func TestConvert_PageMarkers(t *testing.T) {
	s := NewStructurer(noTitle())
	got := s.Convert("doc", "First page body\n\f\nSecond page body")

	assert.Equal(t, "<!-- page 1 -->\n\nFirst page body\n\n<!-- page 2 -->\n\nSecond page body\n", got)
}

func TestConvert_EdgeLinesStayStandalone(t *testing.T) {
	s := NewStructurer(noTitle())
	text := "ACME Corp Annual Report\nbody line one\ncontinues here\nInternal use only\n12\n\f\n" +
		"ACME Corp Annual Report\nmore body\ntext here\nInternal use only\nPage 13"
	got := s.Convert("doc", text)

	want := "<!-- page 1 -->\n\n" +
		"ACME Corp Annual Report\n\nbody line one continues here\n\nInternal use only\n\n12\n\n" +
		"<!-- page 2 -->\n\n" +
		"ACME Corp Annual Report\n\nmore body text here\n\nInternal use only\n\nPage 13\n"
	assert.Equal(t, want, got)
}

func TestConvert_PageNumberDoesNotTakeEdgeSlot(t *testing.T) {
	s := NewStructurer(noTitle())
	text := "Page 1\nHeader line\nbody text\nFooter line\n\f\nbody two\nFooter line\n- 2 -"
	got := s.Convert("doc", text)

	want := "<!-- page 1 -->\n\n" +
		"Page 1\n\nHeader line\n\nbody text\n\nFooter line\n\n" +
		"<!-- page 2 -->\n\n" +
		"body two\n\nFooter line\n\n- 2 -\n"
	assert.Equal(t, want, got)
}

func TestConvert_SentenceEndClosesParagraph(t *testing.T) {
	cfg := noTitle()
	s := NewStructurer(cfg)
	got := s.Convert("doc", "One sentence.\nAnother line\nthat continues.")
	assert.Equal(t, "<!-- page 1 -->\n\nOne sentence.\n\nAnother line that continues.\n", got)

	cfg.BreakOnTerminalPunctuation = false
	s = NewStructurer(cfg)
	got = s.Convert("doc", "One sentence.\nAnother line\nthat continues.")
	assert.Equal(t, "<!-- page 1 -->\n\nOne sentence. Another line that continues.\n", got)
}

func TestConvert_CJKJoinsWithoutSpace(t *testing.T) {
	s := NewStructurer(noTitle())
	got := s.Convert("doc", "这是第一行\n这是第二行。")
	assert.Equal(t, "<!-- page 1 -->\n\n这是第一行这是第二行。\n", got)
}

func TestConvert_Deterministic(t *testing.T) {
	s := NewStructurer(types.DefaultConversionConfig())
	text := "ANNUAL REPORT\n\n1 Overview\nSome text here\nand more.\n\f\n2.1 Details\n- x\n- y\n3"
	assert.Equal(t, s.Convert("r", text), s.Convert("r", text))
}

func TestConvert_EmptyText(t *testing.T) {
	s := NewStructurer(noTitle())
	assert.Equal(t, "<!-- page 1 -->\n", s.Convert("doc", ""))
}

func TestClassify(t *testing.T) {
	s := NewStructurer(types.DefaultConversionConfig())

	tests := []struct {
		line   string
		kind   LineKind
		level  int
		marker string
	}{
		{"", KindBlank, 0, ""},
		{"\f", KindPageBreak, 0, ""},
		{"Page 3 of 10", KindPageNumber, 0, ""},
		{"12", KindPageNumber, 0, ""},
		{"1. Introduction", KindHeading, 1, ""},
		{"2.3.1 Data sources", KindHeading, 3, ""},
		{"1.2.3.4.5.6.7 Very deep", KindHeading, 6, ""},
		{"INTRODUCTION TO SYSTEMS", KindHeading, 2, ""},
		{"概述", KindHeading, 2, ""},
		{"References", KindHeading, 2, ""},
		{"- item", KindListItem, 0, "-"},
		{"  - nested", KindListItem, 1, "-"},
		{"\t• tabbed", KindListItem, 2, "-"},
		{"1) first", KindListItem, 0, "1)"},
		{"(2) second", KindListItem, 0, "(2)"},
		{"b) option", KindListItem, 0, "b)"},
		{"3.14 is roughly pi.", KindParagraph, 0, ""},
		{"1. This is a full sentence that ends with a period.", KindListItem, 0, "1."},
		{"ABC", KindParagraph, 0, ""},
		{"NOTE:", KindParagraph, 0, ""},
		{"This line ends with a period.", KindParagraph, 0, ""},
		{"这是一段没有标点的中文文本", KindParagraph, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := s.Classify(tt.line)
			assert.Equal(t, tt.kind, got.Kind, "kind is %s", got.Kind)
			assert.Equal(t, tt.level, got.Level)
			assert.Equal(t, tt.marker, got.Marker)
		})
	}
}

func TestClassify_LongLineIsNotAHeading(t *testing.T) {
	cfg := types.DefaultConversionConfig()
	cfg.MaxHeadingLength = 10
	s := NewStructurer(cfg)

	assert.Equal(t, KindParagraph, s.Classify("SHOUTING BUT LONG").Kind)
	assert.Equal(t, KindHeading, s.Classify("SHORT ONE").Kind)
}

func TestDecode(t *testing.T) {
	got, err := Decode([]byte("plain utf-8 ✓"))
	require.NoError(t, err)
	assert.Equal(t, "plain utf-8 ✓", got)

	got, err = Decode(append([]byte{0xEF, 0xBB, 0xBF}, "bom"...))
	require.NoError(t, err)
	assert.Equal(t, "bom", got)

	gb, err := simplifiedchinese.GB18030.NewEncoder().String("概述")
	require.NoError(t, err)
	got, err = Decode([]byte(gb))
	require.NoError(t, err)
	assert.Equal(t, "概述", got)

	got, err = Decode([]byte{'c', 'a', 'f', 0xE9})
	require.NoError(t, err)
	assert.Equal(t, "café", got)
}

func TestConvertAll(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "text")
	out := filepath.Join(root, "markdown")
	require.NoError(t, os.MkdirAll(in, 0o755))
	require.NoError(t, os.MkdirAll(out, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(in, "stale.txt"), []byte("Old text."), 0o644))
	_, err := ConvertAll(context.Background(), types.DefaultConversionConfig(), in, out, batch.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(out, "stale.md"))
	require.NoError(t, os.Remove(filepath.Join(in, "stale.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(out, "README.md"), []byte("notes"), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(in, "report.txt"), []byte("SUMMARY\n\nAll good."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "blank.txt"), []byte("\n\f\n"), 0o644))

	result, err := ConvertAll(context.Background(), types.DefaultConversionConfig(), in, out,
		batch.Options{Workers: 2, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.NoError(t, result.Err())

	require.Len(t, result.Outputs, 1)
	assert.Equal(t, "report", result.Outputs[0].Doc.Stem)
	require.Len(t, result.Failures, 1)
	assert.True(t, errors.Is(result.Failures[0].Err, ErrEmptyInput))

	md, err := os.ReadFile(filepath.Join(out, "report.md"))
	require.NoError(t, err)
	assert.Equal(t, "# report\n\n<!-- page 1 -->\n\n## SUMMARY\n\nAll good.\n", string(md))

	assert.NoFileExists(t, filepath.Join(out, "stale.md"), "stale output removed")
	assert.FileExists(t, filepath.Join(out, "README.md"), "unrelated files are kept")
}

func TestConvertAll_InputMissing(t *testing.T) {
	root := t.TempDir()
	_, err := ConvertAll(context.Background(), types.DefaultConversionConfig(),
		filepath.Join(root, "nope"), filepath.Join(root, "md"), batch.Options{Logger: zerolog.Nop()})
	assert.True(t, errors.Is(err, batch.ErrInputMissing))
}

func TestConvertAll_SameDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := ConvertAll(context.Background(), types.DefaultConversionConfig(), dir, dir, batch.Options{Logger: zerolog.Nop()})
	assert.True(t, errors.Is(err, batch.ErrSameDirectory))
}
