// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package mdtext holds the line-level text heuristics shared by the convert
// and clean stages: page boundaries, page-number lines, sentence endings, and
// Markdown block recognition.
package mdtext

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FormFeed separates pages in extracted text files. It always sits on a line
// of its own.
const FormFeed = "\f"

// PageMarker returns the Markdown comment that opens page n.
func PageMarker(n int) string {
	return fmt.Sprintf("<!-- page %d -->", n)
}

// ParsePageMarker extracts the page number from a line like <!-- page 3 -->.
func ParsePageMarker(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "<!-- page ") || !strings.HasSuffix(line, " -->") {
		return 0, false
	}
	inner := strings.TrimPrefix(line, "<!-- page ")
	inner = strings.TrimSuffix(inner, " -->")
	var page int
	if _, err := fmt.Sscanf(inner, "%d", &page); err != nil {
		return 0, false
	}
	return page, true
}

// IsPageBreak reports whether a raw text line is a page separator.
func IsPageBreak(line string) bool {
	return strings.Trim(line, " \t\r") == FormFeed
}

var pageNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:[-–—]\s*\d{1,4}\s*[-–—]|\d{1,4})$`),
	regexp.MustCompile(`(?i)^page\s+\d{1,4}(\s*(of|/)\s*\d{1,4})?$`),
	regexp.MustCompile(`^\d{1,4}\s*/\s*\d{1,4}$`),
	regexp.MustCompile(`^第\s*\d{1,4}\s*页(\s*[,，/]?\s*共\s*\d{1,4}\s*页)?$`),
}

// IsPageNumber reports whether line consists only of a page number, such as
// "12", "- 12 -", "Page 3 of 10", "3/10", or "第 3 页".
func IsPageNumber(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, re := range pageNumberPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

const closers = `"'”’)]）」』`

// EndsSentence reports whether line ends in sentence-terminal punctuation,
// optionally followed by closing quotes or brackets.
func EndsSentence(line string) bool {
	line = strings.TrimRight(strings.TrimSpace(line), closers)
	if line == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(line)
	return strings.ContainsRune(".!?。！？…", r)
}

// EndsWithPunctuation reports whether line ends in any clause or sentence
// punctuation. Headings never do.
func EndsWithPunctuation(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(line)
	return strings.ContainsRune(".,;:!?。，；：！？、…", r)
}

// StartsLower reports whether the first rune of s is a lowercase letter.
func StartsLower(s string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(s))
	return unicode.IsLower(r)
}

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

var (
	atxHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	listItemRe   = regexp.MustCompile(`^\s*([-*+]|\d+[.)]|\(\d+\)|[a-zA-Z][.)])\s+`)
	tableRowRe   = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	tableSepRe   = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)
)

// ParseHeading returns the level and text of an ATX Markdown heading.
func ParseHeading(line string) (level int, text string, ok bool) {
	m := atxHeadingRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, "", false
	}
	return len(m[1]), strings.TrimSpace(m[2]), true
}

// IsListItem reports whether line is a Markdown list item.
func IsListItem(line string) bool {
	return listItemRe.MatchString(line)
}

// IsTableRow reports whether line looks like a pipe-table row.
func IsTableRow(line string) bool {
	return strings.Count(line, "|") >= 2 && tableRowRe.MatchString(line)
}

// IsTableSeparator reports whether line is a table header separator row.
func IsTableSeparator(line string) bool {
	return strings.Contains(line, "---") && tableSepRe.MatchString(line)
}

// IsPlain reports whether line is ordinary paragraph text: not blank, not a
// heading, list item, quote, table row, fence, or HTML comment.
func IsPlain(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if _, _, ok := ParseHeading(trimmed); ok {
		return false
	}
	if IsListItem(line) || IsTableRow(line) {
		return false
	}
	for _, prefix := range []string{">", "```", "~~~", "<!--", "|"} {
		if strings.HasPrefix(trimmed, prefix) {
			return false
		}
	}
	return true
}
