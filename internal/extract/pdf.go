package extract

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mfalkin/sitefeeder/internal/crawler"
)

// DefaultMinTextLen is the heuristic threshold under which a PDF's text
// layer is considered unusable and the next extraction tier is tried.
// It is a tunable guess, not a correctness rule.
const DefaultMinTextLen = 100

// PDFConfig controls the tiered PDF extraction policy.
type PDFConfig struct {
	MinTextLen int
	MaxPages   int
	OCREnabled bool
}

// PDFExtractor extracts text from PDF bytes through up to three tiers:
// a direct text-layer engine, a layout-aware engine, and OCR over
// rasterized pages as a last resort.
type PDFExtractor struct {
	direct crawler.PDFTextEngine
	layout crawler.PDFTextEngine
	raster crawler.Rasterizer
	ocr    crawler.OCREngine
	cfg    PDFConfig
	logger *zap.Logger
}

// NewPDFExtractor builds a PDFExtractor. The layout engine, rasterizer,
// and OCR engine may be nil; missing tiers are skipped.
func NewPDFExtractor(
	direct crawler.PDFTextEngine,
	layout crawler.PDFTextEngine,
	raster crawler.Rasterizer,
	ocr crawler.OCREngine,
	cfg PDFConfig,
	logger *zap.Logger,
) *PDFExtractor {
	if cfg.MinTextLen <= 0 {
		cfg.MinTextLen = DefaultMinTextLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFExtractor{
		direct: direct,
		layout: layout,
		raster: raster,
		ocr:    ocr,
		cfg:    cfg,
		logger: logger,
	}
}

// Text runs the tiered extraction policy. A PDF with no recoverable text
// yields an empty string, not an error; engine failures demote to the
// next tier. sourceURL is only for logging.
func (e *PDFExtractor) Text(data []byte, sourceURL string) string {
	text := e.tryEngine(e.direct, data, sourceURL, "direct")

	if e.underThreshold(text) && e.layout != nil {
		text = e.tryEngine(e.layout, data, sourceURL, "layout")
	}

	if e.underThreshold(text) && e.cfg.OCREnabled && e.raster != nil && e.ocr != nil {
		e.logger.Info("falling back to OCR", zap.String("url", sourceURL))
		text = e.ocrText(data, sourceURL)
	}

	return strings.TrimSpace(text)
}

func (e *PDFExtractor) underThreshold(text string) bool {
	return len(strings.TrimSpace(text)) < e.cfg.MinTextLen
}

func (e *PDFExtractor) tryEngine(engine crawler.PDFTextEngine, data []byte, sourceURL, tier string) string {
	if engine == nil {
		return ""
	}
	text, err := engine.ExtractText(data, e.cfg.MaxPages)
	if err != nil {
		e.logger.Debug("pdf extraction tier failed",
			zap.String("tier", tier),
			zap.String("url", sourceURL),
			zap.Error(err),
		)
		return ""
	}
	return text
}

func (e *PDFExtractor) ocrText(data []byte, sourceURL string) string {
	images, err := e.raster.PageImages(data, e.cfg.MaxPages)
	if err != nil {
		e.logger.Error("pdf rasterization failed", zap.String("url", sourceURL), zap.Error(err))
		return ""
	}

	var parts []string
	for i, img := range images {
		pageText, err := e.ocr.ImageText(img)
		if err != nil {
			e.logger.Debug("ocr page failed",
				zap.String("url", sourceURL),
				zap.Int("page", i+1),
				zap.Error(err),
			)
			continue
		}
		if trimmed := strings.TrimSpace(pageText); trimmed != "" {
			parts = append(parts, fmt.Sprintf("[Page %d]\n%s", i+1, trimmed))
		}
	}
	return strings.Join(parts, "\n\n")
}
