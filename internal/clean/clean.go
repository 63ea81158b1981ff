// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package clean normalizes structured Markdown into training-ready text and
// cuts it into training records.
//
// Cleaning removes what the PDF layout left behind: running headers and
// footers, page numbers, page markers, broken line wraps, missing table
// separators, and duplicated lines. Clean is a fixed point, so re-running
// the stage over its own output changes nothing.
package clean

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/pdftomd/internal/mdtext"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// minDuplicateParagraph is the rune length above which a repeated paragraph
// is dropped after its first occurrence.
const minDuplicateParagraph = 50

// maxPasses bounds the rewrite loop; real documents settle in two or three.
const maxPasses = 64

var (
	headingSpaceRe = regexp.MustCompile(`^(#{1,6})([^#\s])`)
	bulletSpaceRe  = regexp.MustCompile(`^(\s*)-([^\s-])`)
	quoteSpaceRe   = regexp.MustCompile(`^(\s*>)([^>\s])`)
	keyMarkerRe    = regexp.MustCompile(`^(#{1,6}\s+|[-*+]\s+|\d+[.)]\s+)`)
	digitRunRe     = regexp.MustCompile(`\d+`)
)

// Cleaner applies the cleaning rules with a fixed set of thresholds.
type Cleaner struct {
	cfg types.CleaningConfig
}

// NewCleaner returns a Cleaner; zero thresholds fall back to
// types.DefaultCleaningConfig.
func NewCleaner(cfg types.CleaningConfig) *Cleaner {
	def := types.DefaultCleaningConfig()
	if cfg.RepeatRatio <= 0 || cfg.RepeatRatio >= 1 {
		cfg.RepeatRatio = def.RepeatRatio
	}
	if cfg.MinRepeatPages <= 0 {
		cfg.MinRepeatPages = def.MinRepeatPages
	}
	if cfg.MinDuplicateLength <= 0 {
		cfg.MinDuplicateLength = def.MinDuplicateLength
	}
	return &Cleaner{cfg: cfg}
}

// Clean returns the cleaned form of a Markdown document.
func (c *Cleaner) Clean(text string) string {
	lines := normalize(text)
	lines = c.removeRunningLines(lines)
	lines = removePageMarkers(lines)

	out := render(lines)
	for range maxPasses {
		lines = removePageNumbers(lines)
		lines = fixFormatting(lines)
		lines = joinFragments(lines)
		lines = repairTables(lines)
		lines = c.dedupe(lines)
		lines = collapseBlank(lines)

		next := render(lines)
		if next == out {
			break
		}
		out = next
	}
	return out
}

// normalize strips control characters, composes to NFC, and trims trailing
// whitespace from every line.
func normalize(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == '\uFEFF' {
			return -1
		}
		return r
	}, text)
	text = norm.NFC.String(text)

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	return lines
}

// lineKey identifies a line across pages regardless of the page number it
// carries and of the Markdown marker the structurer gave it.
func lineKey(line string) string {
	k := strings.ToLower(strings.TrimSpace(line))
	k = keyMarkerRe.ReplaceAllString(k, "")
	k = digitRunRe.ReplaceAllString(k, "#")
	return strings.TrimSpace(k)
}

// removeRunningLines drops lines that repeat on more than RepeatRatio of the
// pages. Pages come from the page markers; text before the first marker is
// not a page. The document title is always kept.
func (c *Cleaner) removeRunningLines(lines []string) []string {
	pageOf := make([]int, len(lines))
	pages := 0
	for i, l := range lines {
		if _, ok := mdtext.ParsePageMarker(l); ok {
			pages++
		}
		pageOf[i] = pages
	}
	if pages < c.cfg.MinRepeatPages {
		return lines
	}

	seen := make(map[string]map[int]bool)
	for i, l := range lines {
		if pageOf[i] == 0 || isMarker(l) {
			continue
		}
		k := lineKey(l)
		if k == "" {
			continue
		}
		if seen[k] == nil {
			seen[k] = make(map[int]bool)
		}
		seen[k][pageOf[i]] = true
	}

	threshold := c.cfg.RepeatRatio * float64(pages)
	title := titleIndex(lines)
	out := lines[:0:0]
	for i, l := range lines {
		if i != title && pageOf[i] > 0 && !isMarker(l) {
			if k := lineKey(l); k != "" && float64(len(seen[k])) > threshold {
				continue
			}
		}
		out = append(out, l)
	}
	return out
}

// titleIndex returns the index of the first line of text when it is a
// level-1 heading, or -1.
func titleIndex(lines []string) int {
	for i, l := range lines {
		if strings.TrimSpace(l) == "" || isMarker(l) {
			continue
		}
		if level, _, ok := mdtext.ParseHeading(l); ok && level == 1 {
			return i
		}
		return -1
	}
	return -1
}

func isMarker(line string) bool {
	_, ok := mdtext.ParsePageMarker(line)
	return ok
}

func removePageMarkers(lines []string) []string {
	out := lines[:0:0]
	for _, l := range lines {
		if !isMarker(l) {
			out = append(out, l)
		}
	}
	return out
}

func removePageNumbers(lines []string) []string {
	out := lines[:0:0]
	for _, l := range lines {
		if !mdtext.IsPageNumber(l) {
			out = append(out, l)
		}
	}
	return out
}

// fixFormatting inserts the space a Markdown marker needs: "#Title",
// "-item" and ">quote".
func fixFormatting(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		l = headingSpaceRe.ReplaceAllString(l, "$1 $2")
		l = bulletSpaceRe.ReplaceAllString(l, "$1- $2")
		l = quoteSpaceRe.ReplaceAllString(l, "$1 $2")
		out[i] = l
	}
	return out
}

// joinFragments merges a plain line into the previous plain line when it
// starts lowercase and the previous one does not end a sentence.
func joinFragments(lines []string) []string {
	var out []string
	for _, l := range lines {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if mdtext.IsPlain(prev) && mdtext.IsPlain(l) && mdtext.StartsLower(l) && !mdtext.EndsSentence(prev) {
				out[n-1] = prev + " " + strings.TrimSpace(l)
				continue
			}
		}
		out = append(out, l)
	}
	return out
}

// repairTables inserts a header separator under the first row of a pipe table
// that lacks one.
func repairTables(lines []string) []string {
	var out []string
	for i, l := range lines {
		out = append(out, l)
		if !mdtext.IsTableRow(l) || mdtext.IsTableSeparator(l) {
			continue
		}
		if i > 0 && mdtext.IsTableRow(lines[i-1]) {
			continue
		}
		if i+1 < len(lines) && mdtext.IsTableSeparator(lines[i+1]) {
			continue
		}
		out = append(out, tableSeparator(l))
	}
	return out
}

func tableSeparator(row string) string {
	cols := strings.Count(strings.TrimSpace(row), "|") - 1
	if cols < 1 {
		cols = 1
	}
	return "|" + strings.Repeat(" --- |", cols)
}

// dedupe drops repeated lines longer than MinDuplicateLength runes and
// repeated paragraphs longer than minDuplicateParagraph runes, keeping the
// first occurrence. Table separators are exempt.
func (c *Cleaner) dedupe(lines []string) []string {
	seenLine := make(map[string]bool)
	var kept []string
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t != "" && !mdtext.IsTableSeparator(t) && mdtext.RuneLen(t) > c.cfg.MinDuplicateLength {
			if seenLine[t] {
				continue
			}
			seenLine[t] = true
		}
		kept = append(kept, l)
	}

	seenPara := make(map[string]bool)
	var out, para []string
	flush := func() {
		if len(para) == 0 {
			return
		}
		p := strings.Join(para, "\n")
		if mdtext.RuneLen(p) > minDuplicateParagraph {
			if seenPara[p] {
				para = nil
				return
			}
			seenPara[p] = true
		}
		out = append(out, para...)
		para = nil
	}
	for _, l := range kept {
		if strings.TrimSpace(l) == "" {
			flush()
			out = append(out, l)
			continue
		}
		para = append(para, l)
	}
	flush()
	return out
}

// collapseBlank keeps at most one blank line between blocks and none at the
// start or end.
func collapseBlank(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if len(out) == 0 || out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, l)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func render(lines []string) string {
	lines = collapseBlank(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
