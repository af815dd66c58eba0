package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splitreceipt/receipt-split-service/internal/ai"
	"github.com/splitreceipt/receipt-split-service/internal/metrics"
	"github.com/splitreceipt/receipt-split-service/internal/models"
	"github.com/splitreceipt/receipt-split-service/internal/ocr"
	"github.com/splitreceipt/receipt-split-service/internal/reconcile"
	"github.com/splitreceipt/receipt-split-service/internal/split"
)

// ErrNoExtractor is returned when a receipt needs extraction and no AI
// provider is available
var ErrNoExtractor = errors.New("no AI extractor configured")

// ErrNoReader is returned when an image arrives and neither OCR nor a vision
// model can read it
var ErrNoReader = errors.New("no OCR engine configured")

// TextReader turns an image into raw and cleaned OCR text
type TextReader interface {
	Read(ctx context.Context, image []byte) (raw string, cleaned string, err error)
}

// Extractor turns OCR text or an image into an extraction
type Extractor interface {
	Extract(ctx context.Context, ocrText string, imageBase64 string) (*models.Extraction, float64, error)
}

// SplitRequest says who shares the bill and how
type SplitRequest struct {
	Participants     []string
	ParticipantCount int
	Mode             string
	Assignments      map[int][]string // expanded item index -> participants
}

// Outcome is the result of one pipeline run
type Outcome struct {
	Receipt     *models.Receipt
	Validation  *ValidationResult
	OCRDuration float64
	AIDuration  float64
}

// Pipeline runs OCR, extraction, reconciliation, validation and the split
type Pipeline struct {
	reader     TextReader
	extractor  Extractor
	reconciler *reconcile.Reconciler
	validator  *LedgerValidator
}

// NewPipeline wires a pipeline. Reader and extractor may be nil; the
// operations needing them then fail with ErrNoReader or ErrNoExtractor.
func NewPipeline(reader TextReader, extractor Extractor, reconciler *reconcile.Reconciler, validator *LedgerValidator) *Pipeline {
	if reconciler == nil {
		reconciler = reconcile.New(reconcile.Options{})
	}
	if validator == nil {
		validator = NewLedgerValidator(DefaultTotalTolerance)
	}
	return &Pipeline{
		reader:     reader,
		extractor:  extractor,
		reconciler: reconciler,
		validator:  validator,
	}
}

// WithExtractor returns a copy of the pipeline using another extractor
func (p *Pipeline) WithExtractor(e Extractor) *Pipeline {
	cp := *p
	cp.extractor = e
	return &cp
}

// ProcessImage reads the image, extracts and reconciles it. With useVision
// the image is also sent to the extractor.
func (p *Pipeline) ProcessImage(ctx context.Context, image []byte, useVision bool, req SplitRequest) (*Outcome, error) {
	if p.extractor == nil {
		return nil, ErrNoExtractor
	}
	if p.reader == nil && !useVision {
		return nil, ErrNoReader
	}

	var ocrText string
	var ocrDuration float64
	if p.reader != nil {
		start := time.Now()
		_, cleaned, err := p.reader.Read(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("OCR failed: %w", err)
		}
		ocrDuration = time.Since(start).Seconds()
		metrics.ObserveStage("ocr", time.Since(start))
		ocrText = cleaned
	}

	var imageBase64 string
	if useVision {
		imageBase64 = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
	}

	start := time.Now()
	ext, aiDuration, err := p.extractor.Extract(ctx, ocrText, imageBase64)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("ai", time.Since(start))

	out, err := p.Build(ocrText, *ext, req)
	if err != nil {
		return nil, err
	}
	out.OCRDuration = ocrDuration
	out.AIDuration = aiDuration
	return out, nil
}

// ProcessText reconciles OCR text. A given extraction wins over a raw
// extraction reply; the extractor is only called when both are missing.
func (p *Pipeline) ProcessText(ctx context.Context, ocrText string, ext *models.Extraction, rawResponse string, req SplitRequest) (*Outcome, error) {
	ocrText = ocr.Clean(ocrText)

	var aiDuration float64
	switch {
	case ext != nil:
	case rawResponse != "":
		ext = ai.ParseResponse(rawResponse)
	case p.extractor == nil:
		return nil, ErrNoExtractor
	default:
		start := time.Now()
		var err error
		ext, aiDuration, err = p.extractor.Extract(ctx, ocrText, "")
		if err != nil {
			return nil, err
		}
		metrics.ObserveStage("ai", time.Since(start))
	}

	out, err := p.Build(ocrText, *ext, req)
	if err != nil {
		return nil, err
	}
	out.AIDuration = aiDuration
	return out, nil
}

// Build reconciles, validates and splits without touching any external
// service
func (p *Pipeline) Build(ocrText string, ext models.Extraction, req SplitRequest) (*Outcome, error) {
	start := time.Now()
	ledger := p.reconciler.Reconcile(ocrText, ext)
	metrics.ObserveStage("reconcile", time.Since(start))

	validation := p.validator.Validate(ledger, ocrText)
	for _, w := range validation.Warnings {
		if w.Code == "total_mismatch" {
			metrics.RecordTotalMismatch()
		}
	}
	floating := len(ledger.FloatingDiscounts())
	metrics.RecordDiscounts(len(ledger.Discounts)-floating, floating)

	receipt := &models.Receipt{
		ID:           uuid.New().String(),
		OCRText:      ocrText,
		Ledger:       ledger,
		PrintedTotal: validation.Computed.PrintedTotal,
		Warnings:     validation.Messages(),
		CreatedAt:    time.Now().UTC(),
	}

	result, err := Split(ledger, req)
	if err != nil {
		return nil, err
	}
	receipt.Split = result

	slog.Info("receipt.built",
		"receipt_id", receipt.ID,
		"items", len(ledger.Items),
		"discounts", len(ledger.Discounts),
		"computed_total", ledger.ComputedTotal.String(),
		"warnings", len(receipt.Warnings),
	)
	return &Outcome{Receipt: receipt, Validation: validation}, nil
}

// Split applies assignments and computes the split
func Split(ledger *models.Ledger, req SplitRequest) (*models.SplitResult, error) {
	if ledger == nil {
		ledger = &models.Ledger{}
	}
	if err := split.Assign(ledger, req.Assignments); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := split.Compute(ledger, split.Participants(req.Participants, req.ParticipantCount), req.Mode)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("split", time.Since(start))
	metrics.RecordReceipt(result.Mode)
	return result, nil
}
