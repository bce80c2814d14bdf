// Package ledong extracts a PDF's text layer using github.com/ledongthuc/pdf.
package ledong

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Engine implements crawler.PDFTextEngine via direct text-layer reads.
// This is the fast path; it produces nothing for scanned documents.
type Engine struct{}

// New returns a text-layer extraction engine.
func New() *Engine {
	return &Engine{}
}

// ExtractText reads the text layer of up to maxPages pages, joining
// per-page text with blank lines.
func (Engine) ExtractText(data []byte, maxPages int) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := reader.NumPage()
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}

	var parts []string
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single undecodable page should not void the document.
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
