// Package ocr reads receipt images into cleaned text.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

// Engine extracts raw text from image bytes
type Engine interface {
	ExtractText(ctx context.Context, imageBytes []byte) (string, error)
	Name() string
}

// NewEngine picks the engine named in the configuration
func NewEngine(ctx context.Context, cfg models.OCRConfig) (Engine, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", "tesseract":
		return NewTesseractOCR(cfg.Language), nil
	case "vision", "google":
		v, err := NewVisionOCR(ctx, cfg.VisionAPIKey)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Engine)
	}
}

// Reader runs preprocessing, the engine and text cleanup
type Reader struct {
	engine       Engine
	preprocessor *Preprocessor
}

// NewReader creates a reader. A nil preprocessor skips preprocessing.
func NewReader(engine Engine, preprocessor *Preprocessor) *Reader {
	if preprocessor == nil {
		preprocessor = NewPreprocessor(false)
	}
	return &Reader{engine: engine, preprocessor: preprocessor}
}

// Read returns the raw engine output and its cleaned form
func (r *Reader) Read(ctx context.Context, image []byte) (raw string, cleaned string, err error) {
	raw, err = r.engine.ExtractText(ctx, r.preprocessor.Preprocess(ctx, image))
	if err != nil {
		return "", "", fmt.Errorf("%s OCR: %w", r.engine.Name(), err)
	}
	cleaned = Clean(raw)
	slog.Debug("ocr.read.done", "engine", r.engine.Name(), "raw_len", len(raw), "cleaned_len", len(cleaned))
	return raw, cleaned, nil
}
