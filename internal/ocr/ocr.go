// Package ocr extracts per-page text from PDF documents.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finrecon/internal/config"
)

// Extractor returns the text of each page of a PDF. Index i holds page i+1.
type Extractor interface {
	ExtractPages(ctx context.Context, pdf []byte) ([]string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
