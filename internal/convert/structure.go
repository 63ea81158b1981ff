// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pdiddy/pdftomd/internal/mdtext"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// LineKind classifies one line of extracted text.
type LineKind int

const (
	KindBlank LineKind = iota
	KindPageBreak
	KindPageNumber
	KindHeading
	KindListItem
	KindParagraph
)

func (k LineKind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindPageBreak:
		return "page-break"
	case KindPageNumber:
		return "page-number"
	case KindHeading:
		return "heading"
	case KindListItem:
		return "list-item"
	default:
		return "paragraph"
	}
}

// Line is a classified line of extracted text. It only lives for the
// duration of one Convert call.
type Line struct {
	Kind LineKind

	// Text is the line content without indentation or list marker.
	Text string

	// Level is the heading level for headings and the nesting depth for
	// list items.
	Level int

	// Marker is the rendered list marker ("-", "3.", "(2)").
	Marker string

	// numbered is set on headings inferred from a numeric prefix.
	numbered bool
}

var (
	numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)(\.?)\s+(\S.*)$`)
	bulletRe          = regexp.MustCompile(`^([•●◦▪■□‣⁃∙·*+\-–])\s+(\S.*)$`)
	numberedListRe    = regexp.MustCompile(`^(\d+[.)]|\(\d+\)|（\d+）|[a-z]\))\s+(\S.*)$`)
	spaceRunRe        = regexp.MustCompile(`\s+`)
)

// Structurer turns raw extracted text into Markdown using line heuristics.
// It holds no state between documents.
type Structurer struct {
	cfg types.ConversionConfig
}

// NewStructurer returns a Structurer, filling zero thresholds from
// types.DefaultConversionConfig.
func NewStructurer(cfg types.ConversionConfig) *Structurer {
	def := types.DefaultConversionConfig()
	if cfg.MaxHeadingLength <= 0 {
		cfg.MaxHeadingLength = def.MaxHeadingLength
	}
	if cfg.MaxHeadingDepth <= 0 {
		cfg.MaxHeadingDepth = def.MaxHeadingDepth
	}
	if cfg.MaxHeadingDepth > 6 {
		cfg.MaxHeadingDepth = 6
	}
	if cfg.UnnumberedHeadingLevel <= 0 {
		cfg.UnnumberedHeadingLevel = def.UnnumberedHeadingLevel
	}
	if cfg.KeywordHeadingMaxLength <= 0 {
		cfg.KeywordHeadingMaxLength = def.KeywordHeadingMaxLength
	}
	if cfg.IndentWidth <= 0 {
		cfg.IndentWidth = def.IndentWidth
	}
	if cfg.EdgeLines < 0 {
		cfg.EdgeLines = 0
	}
	return &Structurer{cfg: cfg}
}

// Classify infers the kind of a single raw line, without context.
func (s *Structurer) Classify(raw string) Line {
	if mdtext.IsPageBreak(raw) {
		return Line{Kind: KindPageBreak}
	}
	trimmed := collapseSpaces(raw)
	if trimmed == "" {
		return Line{Kind: KindBlank}
	}
	if mdtext.IsPageNumber(trimmed) {
		return Line{Kind: KindPageNumber, Text: trimmed}
	}

	depth := indentColumns(raw) / s.cfg.IndentWidth

	if m := bulletRe.FindStringSubmatch(trimmed); m != nil {
		return Line{Kind: KindListItem, Text: m[2], Level: depth, Marker: "-"}
	}

	if m := numberedHeadingRe.FindStringSubmatch(trimmed); m != nil && s.headingShaped(trimmed) && hasLetter(m[3]) {
		level := strings.Count(m[1], ".") + 1
		return Line{Kind: KindHeading, Text: trimmed, Level: s.capLevel(level), numbered: true}
	}

	if m := numberedListRe.FindStringSubmatch(trimmed); m != nil {
		return Line{Kind: KindListItem, Text: m[2], Level: depth, Marker: m[1]}
	}

	if s.headingShaped(trimmed) && isAllCaps(trimmed) && mdtext.RuneLen(trimmed) > 3 {
		return Line{Kind: KindHeading, Text: trimmed, Level: s.capLevel(s.cfg.UnnumberedHeadingLevel + depth)}
	}

	if mdtext.RuneLen(trimmed) <= s.cfg.KeywordHeadingMaxLength && !mdtext.EndsWithPunctuation(trimmed) && s.hasKeyword(trimmed) {
		return Line{Kind: KindHeading, Text: trimmed, Level: s.capLevel(s.cfg.UnnumberedHeadingLevel)}
	}

	return Line{Kind: KindParagraph, Text: trimmed}
}

// Convert structures the text of one document. The same input always
// yields the same output.
func (s *Structurer) Convert(stem, text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	raw := strings.Split(text, "\n")

	lines := make([]Line, len(raw))
	for i, r := range raw {
		lines[i] = s.Classify(r)
	}
	demoteListedHeadings(lines)
	edges := s.edgeLines(lines)

	var r renderer
	if s.cfg.AddTitle && stem != "" {
		r.block("# " + collapseSpaces(stem))
	}

	page := 1
	r.block(mdtext.PageMarker(page))
	for i, ln := range lines {
		switch ln.Kind {
		case KindPageBreak:
			r.flush()
			page++
			r.block(mdtext.PageMarker(page))
		case KindBlank:
			r.flush()
		case KindPageNumber:
			r.block(ln.Text)
		case KindHeading:
			r.block(strings.Repeat("#", ln.Level) + " " + ln.Text)
		case KindListItem:
			r.listItem(strings.Repeat("    ", ln.Level) + ln.Marker + " " + ln.Text)
		case KindParagraph:
			if edges[i] {
				r.block(ln.Text)
				continue
			}
			if r.inList() {
				r.continueItem(ln.Text)
				continue
			}
			r.paragraphLine(ln.Text)
			if s.cfg.BreakOnTerminalPunctuation && mdtext.EndsSentence(ln.Text) {
				r.flush()
			}
		}
	}
	return r.String()
}

func (s *Structurer) headingShaped(line string) bool {
	return mdtext.RuneLen(line) <= s.cfg.MaxHeadingLength && !mdtext.EndsWithPunctuation(line)
}

func (s *Structurer) capLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > s.cfg.MaxHeadingDepth {
		return s.cfg.MaxHeadingDepth
	}
	return level
}

func (s *Structurer) hasKeyword(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range s.cfg.HeadingKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// edgeLines marks the first and last EdgeLines non-blank lines of every page
// when the document has more than one page. Page-number lines are already
// standalone blocks and do not take an edge slot, so a running footer above
// "Page N" is still marked.
func (s *Structurer) edgeLines(lines []Line) map[int]bool {
	edges := make(map[int]bool)
	if s.cfg.EdgeLines == 0 {
		return edges
	}

	var pages [][]int
	current := []int{}
	for i, ln := range lines {
		switch ln.Kind {
		case KindPageBreak:
			pages = append(pages, current)
			current = []int{}
		case KindBlank, KindPageNumber:
		default:
			current = append(current, i)
		}
	}
	pages = append(pages, current)
	if len(pages) < 2 {
		return edges
	}

	for _, idx := range pages {
		n := min(s.cfg.EdgeLines, len(idx))
		for _, i := range idx[:n] {
			edges[i] = true
		}
		for _, i := range idx[len(idx)-n:] {
			edges[i] = true
		}
	}
	return edges
}

// demoteListedHeadings turns numbered headings that sit directly next to
// other list-like lines into list items: "1. Scope" followed by "2. Terms"
// is an enumeration, not two chapters.
func demoteListedHeadings(lines []Line) {
	listy := func(i int) bool {
		if i < 0 || i >= len(lines) {
			return false
		}
		return lines[i].Kind == KindListItem || (lines[i].Kind == KindHeading && lines[i].numbered)
	}

	demote := make([]bool, len(lines))
	for i, ln := range lines {
		if ln.Kind == KindHeading && ln.numbered && (listy(i-1) || listy(i+1)) {
			demote[i] = true
		}
	}
	for i, d := range demote {
		if !d {
			continue
		}
		m := numberedHeadingRe.FindStringSubmatch(lines[i].Text)
		if m != nil && m[2] == "." && !strings.Contains(m[1], ".") {
			lines[i] = Line{Kind: KindListItem, Text: m[3], Marker: m[1] + "."}
			continue
		}
		lines[i] = Line{Kind: KindListItem, Text: lines[i].Text, Marker: "-"}
	}
}

// renderer accumulates Markdown blocks separated by blank lines.
type renderer struct {
	blocks []string
	para   []string
	list   []string
}

func (r *renderer) block(s string) {
	r.flush()
	r.blocks = append(r.blocks, s)
}

func (r *renderer) paragraphLine(s string) {
	r.flushList()
	r.para = append(r.para, s)
}

func (r *renderer) listItem(s string) {
	r.flushParagraph()
	r.list = append(r.list, s)
}

func (r *renderer) inList() bool { return len(r.list) > 0 }

// continueItem appends a wrapped continuation line to the last list item.
func (r *renderer) continueItem(s string) {
	last := len(r.list) - 1
	r.list[last] = joinWrapped(r.list[last], s)
}

func (r *renderer) flushParagraph() {
	if len(r.para) == 0 {
		return
	}
	text := r.para[0]
	for _, next := range r.para[1:] {
		text = joinWrapped(text, next)
	}
	r.blocks = append(r.blocks, text)
	r.para = nil
}

func (r *renderer) flushList() {
	if len(r.list) == 0 {
		return
	}
	r.blocks = append(r.blocks, strings.Join(r.list, "\n"))
	r.list = nil
}

func (r *renderer) flush() {
	r.flushParagraph()
	r.flushList()
}

func (r *renderer) String() string {
	r.flush()
	if len(r.blocks) == 0 {
		return ""
	}
	return strings.Join(r.blocks, "\n\n") + "\n"
}

// joinWrapped joins two wrapped lines, undoing end-of-line hyphenation
// ("exam-" + "ple" = "example").
func joinWrapped(prev, next string) string {
	runes := []rune(prev)
	if n := len(runes); n >= 2 && runes[n-1] == '-' && unicode.IsLetter(runes[n-2]) && mdtext.StartsLower(next) {
		return string(runes[:n-1]) + next
	}
	if isCJK(lastRune(prev)) && isCJK(firstRune(next)) {
		return prev + next
	}
	return prev + " " + next
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(s, " "))
}

func indentColumns(s string) int {
	cols := 0
	for _, r := range s {
		switch r {
		case ' ':
			cols++
		case '\t':
			cols += 4
		default:
			return cols
		}
	}
	return cols
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// isAllCaps reports whether s has at least one uppercase letter and no
// lowercase ones. Scripts without case never qualify.
func isAllCaps(s string) bool {
	upper := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			upper = true
		}
	}
	return upper
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

func lastRune(s string) rune {
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
