package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
)

// Preprocessor handles image preprocessing for optimal OCR results
type Preprocessor struct {
	enabled bool
}

// NewPreprocessor creates a new image preprocessor. A disabled preprocessor
// returns images unchanged.
func NewPreprocessor(enabled bool) *Preprocessor {
	return &Preprocessor{
		enabled: enabled,
	}
}

// Preprocess applies image enhancement filters with ImageMagick: grayscale,
// contrast, denoise, sharpen. Any failure returns the original image.
func (p *Preprocessor) Preprocess(ctx context.Context, imageData []byte) []byte {
	if !p.enabled {
		return imageData
	}

	in, err := os.CreateTemp("", "receipt_in_*.jpg")
	if err != nil {
		return imageData
	}
	defer os.Remove(in.Name())
	out, err := os.CreateTemp("", "receipt_out_*.jpg")
	if err != nil {
		in.Close()
		return imageData
	}
	out.Close()
	defer os.Remove(out.Name())

	if _, err := in.Write(imageData); err != nil {
		in.Close()
		return imageData
	}
	in.Close()

	// Pipeline: resize (if too large) -> grayscale -> contrast -> denoise -> sharpen
	args := []string{
		in.Name(),
		// Resize if larger than 2000px (keeps aspect ratio)
		"-resize", "2000x2000>",
		"-colorspace", "Gray",
		"-normalize",
		// Thermal paper fades; stretch harder than for printed invoices
		"-contrast-stretch", "3%x1%",
		"-despeckle",
		"-sharpen", "0x1",
		"-quality", "95",
		out.Name(),
	}

	// Try 'magick' first (ImageMagick 7), fallback to 'convert' (ImageMagick 6)
	var cmd *exec.Cmd
	if _, err := exec.LookPath("magick"); err == nil {
		cmd = exec.CommandContext(ctx, "magick", args...)
	} else {
		cmd = exec.CommandContext(ctx, "convert", args...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Warn("ocr.preprocess.failed", "error", err, "stderr", stderr.String())
		return imageData
	}

	processed, err := os.ReadFile(out.Name())
	if err != nil || len(processed) == 0 {
		return imageData
	}

	slog.Debug("ocr.preprocess.done", "in_bytes", len(imageData), "out_bytes", len(processed))
	return processed
}
