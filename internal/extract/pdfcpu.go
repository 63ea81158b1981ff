// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/pdiddy/pdftomd/pkg/types"
)

// PdfcpuBackend validates the document with pdfcpu and reads text showing
// operators from each page's content stream. It handles simple fonts only;
// documents with composite (CID) fonts extract better with ledongthuc.
type PdfcpuBackend struct{}

func (PdfcpuBackend) Name() string { return string(types.BackendPdfcpu) }

func (PdfcpuBackend) Pages(ctx context.Context, path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	pctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	pages := make([]Page, 0, pctx.PageCount)
	for nr := 1; nr <= pctx.PageCount; nr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := Page{Number: nr}
		page.Text, page.Err = pageContentText(pctx, nr)
		pages = append(pages, page)
	}
	return pages, nil
}

func pageContentText(pctx *model.Context, nr int) (string, error) {
	r, err := pdfcpu.ExtractPageContent(pctx, nr)
	if err != nil {
		return "", fmt.Errorf("page %d content: %w", nr, err)
	}
	if r == nil {
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("page %d content: %w", nr, err)
	}
	return streamText(data), nil
}

// kerningSpace is the TJ adjustment, in thousandths of an em, beyond which
// a gap between two strings is read as a word space.
const kerningSpace = -200

// streamText interprets the text operators of a content stream. Tj, TJ, '
// and " show strings; T* and any Td or TD with a vertical offset start a new
// line.
func streamText(data []byte) string {
	var (
		out     strings.Builder
		line    strings.Builder
		shown   []string
		numbers []float64
		inArray bool
	)
	newline := func() {
		out.WriteString(strings.TrimRight(line.String(), " "))
		out.WriteByte('\n')
		line.Reset()
	}
	show := func() {
		for _, s := range shown {
			line.WriteString(s)
		}
		shown = shown[:0]
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readLiteral(data[i:])
			shown = append(shown, decodeTextBytes(s))
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(data) && data[i+1] == '>':
			i += 2
		case c == '<':
			end := i + 1
			for end < len(data) && data[end] != '>' {
				end++
			}
			shown = append(shown, decodeTextBytes(decodeHex(data[i+1:end])))
			i = end + 1
		case c == '/':
			i++
			for i < len(data) && !isSpace(data[i]) && !isDelim(data[i]) {
				i++
			}
		case c == '[':
			inArray = true
			i++
		case c == ']':
			inArray = false
			i++
		case isSpace(c):
			i++
		default:
			start := i
			for i < len(data) && !isSpace(data[i]) && !isDelim(data[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			tok := string(data[start:i])
			if v, err := strconv.ParseFloat(tok, 64); err == nil {
				if inArray && v < kerningSpace {
					shown = append(shown, " ")
				}
				numbers = append(numbers, v)
				continue
			}
			switch tok {
			case "Tj", "TJ":
				show()
			case "'", `"`:
				newline()
				show()
			case "T*":
				newline()
			case "Td", "TD":
				if len(numbers) >= 2 && numbers[len(numbers)-1] != 0 {
					newline()
				} else if line.Len() > 0 {
					line.WriteByte(' ')
				}
			case "ET":
				if line.Len() > 0 {
					newline()
				}
			}
			shown = shown[:0]
			numbers = numbers[:0]
		}
	}
	if line.Len() > 0 {
		newline()
	}
	return collapseBlankLines(out.String())
}

// readLiteral reads a parenthesised string starting at data[0] and returns
// its unescaped bytes and the number of input bytes consumed.
func readLiteral(data []byte) ([]byte, int) {
	var out []byte
	depth := 0
	i := 0
	for ; i < len(data); i++ {
		c := data[i]
		switch c {
		case '(':
			if depth > 0 {
				out = append(out, c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return out, i + 1
			}
			out = append(out, c)
		case '\\':
			if i+1 >= len(data) {
				continue
			}
			i++
			switch e := data[i]; e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && i+1 < len(data) && data[i+1] >= '0' && data[i+1] <= '7'; k++ {
						i++
						v = v*8 + int(data[i]-'0')
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, c)
		}
	}
	return out, i
}

func decodeHex(h []byte) []byte {
	var digits []byte
	for _, c := range h {
		if !isSpace(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			continue
		}
		out = append(out, byte(v))
	}
	return out
}

// decodeTextBytes interprets string bytes as UTF-16BE when they carry a byte
// order mark and as single-byte codes otherwise.
func decodeTextBytes(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		b = b[2:]
		units := make([]uint16, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(units))
	}
	runes := make([]rune, 0, len(b))
	for _, c := range b {
		if c < 0x20 && c != '\t' {
			continue
		}
		runes = append(runes, rune(c))
	}
	return string(runes)
}

func collapseBlankLines(s string) string {
	var lines []string
	blank := false
	for _, l := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if strings.TrimSpace(l) == "" {
			if !blank && len(lines) > 0 {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		blank = false
		lines = append(lines, l)
	}
	return strings.Join(lines, "\n")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}
