package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Discount sources
const (
	SourceAI   = "ai"   // declared by the extraction service
	SourceOCR  = "ocr"  // detected on a discount line of the OCR text
	SourceItem = "item" // reclassified from an extracted item
)

// DiscountKindFlat is the only discount kind attached to line items.
const DiscountKindFlat = "flat"

// LineItem is one priced row of the ledger
type LineItem struct {
	Name       string            `json:"name"`
	Quantity   int               `json:"qty"`
	UnitPrice  decimal.Decimal   `json:"unit_price"`
	TotalPrice decimal.Decimal   `json:"total_price"`           // Post-discount once discounts are applied
	AssignedTo []string          `json:"assigned_to,omitempty"` // Participants bearing this item
	Discounts  []AppliedDiscount `json:"discounts,omitempty"`   // In application order
}

// Gross reconstructs the pre-discount amount
func (li LineItem) Gross() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// DiscountTotal sums the discounts applied to the item
func (li LineItem) DiscountTotal() decimal.Decimal {
	total := decimal.Zero
	for _, d := range li.Discounts {
		total = total.Add(d.Amount)
	}
	return total
}

// AppliedDiscount records a reduction already baked into a LineItem total
type AppliedDiscount struct {
	Kind        string          `json:"kind"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// Discount is a ledger-level discount entry. An empty Item means floating.
type Discount struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"` // Non-negative magnitude
	Item        string          `json:"item,omitempty"`
	Source      string          `json:"source,omitempty"`
}

// Floating reports whether the discount is not attributed to an item
func (d Discount) Floating() bool {
	return d.Item == ""
}

// TaxEntry is a labelled tax amount
type TaxEntry struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// ServiceCharge carries an optional percent and an optional amount
type ServiceCharge struct {
	Percent *float64         `json:"percent"`
	Amount  *decimal.Decimal `json:"amount"`
}

// Value returns the service amount, zero when unset
func (s *ServiceCharge) Value() decimal.Decimal {
	if s == nil || s.Amount == nil {
		return decimal.Zero
	}
	return *s.Amount
}

// Ledger is the reconciled view of one receipt
type Ledger struct {
	Items         []LineItem      `json:"items"`
	Discounts     []Discount      `json:"discounts"`
	Taxes         []TaxEntry      `json:"taxes"`
	ServiceCharge *ServiceCharge  `json:"service_charge"`
	Currency      string          `json:"currency,omitempty"`
	ComputedTotal decimal.Decimal `json:"computed_total"`
}

// ItemsSubtotal sums item totals
func (l *Ledger) ItemsSubtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range l.Items {
		total = total.Add(it.TotalPrice)
	}
	return total
}

// TaxTotal sums tax amounts
func (l *Ledger) TaxTotal() decimal.Decimal {
	total := decimal.Zero
	for _, t := range l.Taxes {
		total = total.Add(t.Amount)
	}
	return total
}

// ServiceAmount returns the service charge amount or zero
func (l *Ledger) ServiceAmount() decimal.Decimal {
	return l.ServiceCharge.Value()
}

// FloatingDiscounts returns discounts not attributed to any item
func (l *Ledger) FloatingDiscounts() []Discount {
	var out []Discount
	for _, d := range l.Discounts {
		if d.Floating() {
			out = append(out, d)
		}
	}
	return out
}

// FloatingDiscountTotal sums floating discount magnitudes
func (l *Ledger) FloatingDiscountTotal() decimal.Decimal {
	total := decimal.Zero
	for _, d := range l.FloatingDiscounts() {
		total = total.Add(d.Amount)
	}
	return total
}

// Total recomputes items + taxes + service
func (l *Ledger) Total() decimal.Decimal {
	return l.ItemsSubtotal().Add(l.TaxTotal()).Add(l.ServiceAmount())
}

// ExtractedItem is an item as guessed by the extraction service
type ExtractedItem struct {
	Name       string          `json:"name"`
	Quantity   decimal.Decimal `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	AssignedTo []string        `json:"assigned_to,omitempty"`
}

// Extraction is the leniently decoded extraction payload
type Extraction struct {
	Items         []ExtractedItem `json:"items"`
	Taxes         []TaxEntry      `json:"taxes"`
	ServiceCharge *ServiceCharge  `json:"service_charge"`
	Discounts     []Discount      `json:"discounts"`
	Currency      string          `json:"currency,omitempty"`
}

// Share is one participant's part of a split
type Share struct {
	Participant string          `json:"participant"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Service     decimal.Decimal `json:"service"`
	Discount    decimal.Decimal `json:"discount"` // Floating discounts borne, as a positive magnitude
	Amount      decimal.Decimal `json:"amount"`
}

// SplitResult is the outcome of splitting a ledger
type SplitResult struct {
	Mode         string          `json:"mode"`
	Participants []string        `json:"participants"`
	Shares       []Share         `json:"shares"`
	Total        decimal.Decimal `json:"total"`
}

// Amounts maps participant to owed amount
func (r *SplitResult) Amounts() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(r.Shares))
	for _, s := range r.Shares {
		out[s.Participant] = s.Amount
	}
	return out
}

// Receipt is a processed receipt as persisted and returned by the API
type Receipt struct {
	ID           string           `json:"id"`
	Owner        string           `json:"owner,omitempty"`
	ImagePath    string           `json:"image_path,omitempty"`
	OCRText      string           `json:"ocr_text"`
	Ledger       *Ledger          `json:"ledger"`
	Split        *SplitResult     `json:"split,omitempty"`
	PrintedTotal *decimal.Decimal `json:"printed_total,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ProcessResponse represents the output of receipt processing
type ProcessResponse struct {
	Success bool     `json:"success"`
	Receipt *Receipt `json:"receipt,omitempty"`
	Error   string   `json:"error,omitempty"`

	// Processing metadata
	OCRDuration   float64 `json:"ocrDuration,omitempty"` // OCR time in seconds
	AIDuration    float64 `json:"aiDuration,omitempty"`  // AI extraction time in seconds
	TotalDuration float64 `json:"totalDuration"`         // Total processing time
	SavedToDB     bool    `json:"saved_to_db"`
}
