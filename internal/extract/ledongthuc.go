// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/pdiddy/pdftomd/pkg/types"
)

// LedongthucBackend reads the text layer with github.com/ledongthuc/pdf.
type LedongthucBackend struct{}

func (LedongthucBackend) Name() string { return string(types.BackendLedongthuc) }

// Pages returns the plain text of every page. Fonts are cached across pages
// so shared font dictionaries are decoded once.
func (LedongthucBackend) Pages(ctx context.Context, path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	n := r.NumPage()
	fonts := make(map[string]*pdf.Font)
	pages := make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := Page{Number: i}
		p := r.Page(i)
		if p.V.IsNull() {
			page.Err = fmt.Errorf("page %d: missing page object", i)
			pages = append(pages, page)
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		page.Text, page.Err = plainText(p, fonts)
		pages = append(pages, page)
	}
	return pages, nil
}

// plainText isolates panics from a single malformed page.
func plainText(p pdf.Page, fonts map[string]*pdf.Font) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading page content: %v", r)
		}
	}()
	return p.GetPlainText(fonts)
}
