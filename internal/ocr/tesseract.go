package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// TesseractOCR shells out to the tesseract binary
type TesseractOCR struct {
	language string
	binary   string
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(language string) *TesseractOCR {
	if language == "" {
		language = "eng" // Default to English
	}
	return &TesseractOCR{
		language: language,
		binary:   "tesseract",
	}
}

// Name returns the engine name
func (t *TesseractOCR) Name() string { return "tesseract" }

// ExtractText runs tesseract in single-block mode, keeping the spacing
// between columns so item names and prices stay on one line.
func (t *TesseractOCR) ExtractText(ctx context.Context, imageBytes []byte) (string, error) {
	cmd := exec.CommandContext(ctx, t.binary,
		"stdin", "stdout",
		"-l", t.language,
		"--psm", "6",
		"-c", "preserve_interword_spaces=1",
	)
	cmd.Stdin = bytes.NewReader(imageBytes)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %w - %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
