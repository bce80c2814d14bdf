// Package tesseract provides OCR via github.com/otiai10/gosseract.
package tesseract

import (
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Engine implements crawler.OCREngine. A fresh gosseract client is used
// per call; the underlying Tesseract handle is not goroutine-safe.
type Engine struct {
	languages []string
}

// New returns an OCR engine. languages is a Tesseract language spec such
// as "eng+ara+hin+urd".
func New(languages string) *Engine {
	var langs []string
	for _, l := range strings.Split(languages, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return &Engine{languages: langs}
}

// ImageText recognizes text in one encoded page image.
func (e *Engine) ImageText(image []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(e.languages) > 0 {
		if err := client.SetLanguage(e.languages...); err != nil {
			return "", fmt.Errorf("set ocr languages: %w", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set ocr image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr text: %w", err)
	}
	return text, nil
}
