package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/splitreceipt/receipt-split-service/internal/models"
	"github.com/splitreceipt/receipt-split-service/internal/money"
)

// Extractor turns OCR text (or an image) into a leniently decoded extraction
type Extractor struct {
	provider Provider
	limiter  *rate.Limiter
	timeout  time.Duration
}

// NewExtractor creates an extractor. Calls are throttled to
// cfg.RequestsPerMin and bounded by cfg.Timeout; zero disables either.
func NewExtractor(provider Provider, cfg models.AIConfig) *Extractor {
	e := &Extractor{provider: provider, timeout: cfg.Timeout}
	if cfg.RequestsPerMin > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMin)), 1)
	}
	return e
}

// Provider returns the underlying provider
func (e *Extractor) Provider() Provider {
	return e.provider
}

// Extract asks the provider for the receipt structure.
//
// A provider error is a hard failure. A reply that cannot be salvaged, or a
// call that runs past the timeout, yields an empty extraction instead.
func (e *Extractor) Extract(ctx context.Context, ocrText string, imageBase64 string) (*models.Extraction, float64, error) {
	startTime := time.Now()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("AI rate limit wait: %w", err)
		}
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	slog.Info("ai.extract.start", "provider", e.provider.Name(), "vision", imageBase64 != "", "ocr_len", len(ocrText))
	response, err := e.provider.ExtractData(callCtx, BuildPrompt(ocrText), imageBase64)
	duration := time.Since(startTime).Seconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			slog.Warn("ai.extract.timeout", "provider", e.provider.Name(), "timeout", e.timeout)
			return EmptyExtraction(), duration, nil
		}
		return nil, duration, fmt.Errorf("AI extraction failed: %w", err)
	}

	slog.Debug("ai.extract.done", "provider", e.provider.Name(), "response_len", len(response), "duration", duration)
	return ParseResponse(response), duration, nil
}

// BuildPrompt renders the extraction prompt around the OCR text
func BuildPrompt(ocrText string) string {
	fence := strings.Repeat("`", 3)
	return fmt.Sprintf(`You are an assistant that extracts structured line items from noisy receipt OCR text.
Given the raw OCR text delimited by triple backticks, return JSON with these keys:
- items: list of {name, qty (float), unit_price (float|null), total_price (float)}
- taxes: list of {type, amount}
- service_charge: {percent|null, amount|null}
- discounts: list of {description, amount}
- currency: string (if possible)

Return only valid JSON.

OCR_TEXT:
%s
%s
%s
`, fence, ocrText, fence)
}

// EmptyExtraction is the skeleton used when a reply cannot be salvaged
func EmptyExtraction() *models.Extraction {
	return &models.Extraction{
		Items:     []models.ExtractedItem{},
		Taxes:     []models.TaxEntry{},
		Discounts: []models.Discount{},
	}
}

var (
	fenceLine   = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	firstObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// Salvage returns the JSON object inside a model reply: the reply itself
// once markdown fences are stripped, else the span from the first '{' to
// the last '}'. It reports false when neither is valid JSON.
func Salvage(response string) ([]byte, bool) {
	cleaned := strings.TrimSpace(fenceLine.ReplaceAllString(response, ""))
	if strings.HasPrefix(cleaned, "{") && json.Valid([]byte(cleaned)) {
		return []byte(cleaned), true
	}
	if m := firstObject.FindString(cleaned); m != "" && json.Valid([]byte(m)) {
		return []byte(m), true
	}
	return nil, false
}

// ParseResponse salvages, validates and decodes a reply. It never fails.
func ParseResponse(response string) *models.Extraction {
	payload, ok := Salvage(response)
	if !ok {
		slog.Warn("ai.parse.unsalvageable", "response_len", len(response))
		return EmptyExtraction()
	}

	raw, err := decodeJSON(payload)
	if err != nil {
		slog.Warn("ai.parse.decode_failed", "error", err)
		return EmptyExtraction()
	}
	if err := ValidatePayload(raw); err != nil {
		slog.Warn("ai.parse.schema_mismatch", "error", err)
	}
	return DecodeExtraction(raw)
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeExtraction reads a generic payload field by field. Missing, null or
// mistyped fields become zero values.
func DecodeExtraction(v any) *models.Extraction {
	ext := EmptyExtraction()
	m, ok := v.(map[string]any)
	if !ok {
		return ext
	}

	for _, raw := range list(m["items"]) {
		it, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ext.Items = append(ext.Items, models.ExtractedItem{
			Name:       str(first(it, "name", "description")),
			Quantity:   money.Normalize(first(it, "qty", "quantity")),
			UnitPrice:  money.Normalize(first(it, "unit_price", "price")),
			TotalPrice: money.Normalize(first(it, "total_price", "total", "amount")),
			AssignedTo: names(it["assigned_to"]),
		})
	}

	for _, raw := range list(m["taxes"]) {
		t, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ext.Taxes = append(ext.Taxes, models.TaxEntry{
			Type:   str(first(t, "type", "name")),
			Amount: money.Normalize(t["amount"]),
		})
	}

	for _, raw := range list(m["discounts"]) {
		d, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ext.Discounts = append(ext.Discounts, models.Discount{
			Description: str(first(d, "description", "name")),
			Amount:      money.Normalize(d["amount"]).Abs(),
			Source:      models.SourceAI,
		})
	}

	ext.ServiceCharge = serviceCharge(m["service_charge"])
	ext.Currency = str(m["currency"])
	return ext
}

func serviceCharge(v any) *models.ServiceCharge {
	if v == nil {
		return nil
	}
	s, ok := v.(map[string]any)
	if !ok {
		// a bare number is the amount
		r := money.Parse(v)
		if !r.OK() {
			return nil
		}
		return &models.ServiceCharge{Amount: &r.Amount}
	}

	sc := &models.ServiceCharge{}
	if r := money.Parse(s["percent"]); r.OK() {
		p := r.Amount.InexactFloat64()
		sc.Percent = &p
	}
	if r := money.Parse(s["amount"]); r.OK() {
		a := r.Amount
		sc.Amount = &a
	}
	if sc.Percent == nil && sc.Amount == nil {
		return nil
	}
	return sc
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func names(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, x := range t {
			if s := str(x); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func decodeImage(imageBase64 string) ([]byte, error) {
	if i := strings.Index(imageBase64, ","); i >= 0 && strings.HasPrefix(imageBase64, "data:") {
		imageBase64 = imageBase64[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return b, nil
}
