package services

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/splitreceipt/receipt-split-service/internal/models"
	"github.com/splitreceipt/receipt-split-service/internal/money"
)

// DefaultTotalTolerance is the accepted gap between printed and computed totals
var DefaultTotalTolerance = decimal.RequireFromString("0.05")

// ValidationError represents a single validation error
type ValidationError struct {
	Field    string          `json:"field"`
	Code     string          `json:"code"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	Message  string          `json:"message,omitempty"`
}

// ValidationWarning represents a non-critical issue
type ValidationWarning struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ComputedValues holds calculated/expected values
type ComputedValues struct {
	ItemsSubtotal decimal.Decimal  `json:"items_subtotal"`
	NetTotal      decimal.Decimal  `json:"net_total"` // computed total minus floating discounts
	PrintedTotal  *decimal.Decimal `json:"printed_total,omitempty"`
}

// ValidationResult is the response from validation
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	NeedsReview bool                `json:"needs_review"`
	Errors      []ValidationError   `json:"errors"`
	Warnings    []ValidationWarning `json:"warnings"`
	Computed    ComputedValues      `json:"computed"`
}

// Messages returns the warning messages, for attaching to a receipt
func (r *ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Errors)+len(r.Warnings))
	for _, e := range r.Errors {
		out = append(out, e.Message)
	}
	for _, w := range r.Warnings {
		out = append(out, w.Message)
	}
	return out
}

// LedgerValidator cross-checks a reconciled ledger. It reports, it never
// adjusts the ledger.
type LedgerValidator struct {
	tolerance decimal.Decimal // absolute tolerance on the printed total
}

// NewLedgerValidator creates a validator; a non-positive tolerance uses the default
func NewLedgerValidator(tolerance decimal.Decimal) *LedgerValidator {
	if !tolerance.IsPositive() {
		tolerance = DefaultTotalTolerance
	}
	return &LedgerValidator{tolerance: tolerance}
}

// Validate performs all cross-validations on a ledger and its OCR text
func (v *LedgerValidator) Validate(ledger *models.Ledger, ocrText string) *ValidationResult {
	result := &ValidationResult{
		Valid:       true,
		NeedsReview: false,
		Errors:      []ValidationError{},
		Warnings:    []ValidationWarning{},
	}

	subtotal := ledger.ItemsSubtotal()
	net := ledger.ComputedTotal.Sub(ledger.FloatingDiscountTotal())
	result.Computed = ComputedValues{
		ItemsSubtotal: subtotal,
		NetTotal:      net,
		PrintedTotal:  PrintedTotal(ocrText),
	}

	// 1. Printed total vs computed
	v.validateTotal(result, net)

	// 2. Service charge percent vs amount
	v.validateService(ledger, result, subtotal)

	// 3. Discounts that could not be tied to an item
	v.validateDiscounts(ledger, result)

	// 4. Field coherence
	v.validateCoherence(ledger, result, subtotal)

	result.Valid = len(result.Errors) == 0
	result.NeedsReview = len(result.Warnings) > 0
	return result
}

// validateTotal compares the printed total against the net computed total
func (v *LedgerValidator) validateTotal(result *ValidationResult, net decimal.Decimal) {
	printed := result.Computed.PrintedTotal
	if printed == nil {
		return
	}
	if printed.Sub(net).Abs().GreaterThan(v.tolerance) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "computed_total",
			Code:    "total_mismatch",
			Message: "computed total " + money.Format(net) + " differs from printed total " + money.Format(*printed),
		})
	}
}

// validateService checks the service amount is about percent of the subtotal
func (v *LedgerValidator) validateService(ledger *models.Ledger, result *ValidationResult, subtotal decimal.Decimal) {
	sc := ledger.ServiceCharge
	if sc == nil || sc.Percent == nil || sc.Amount == nil || !subtotal.IsPositive() {
		return
	}

	expected := subtotal.Mul(decimal.NewFromFloat(*sc.Percent)).Div(decimal.NewFromInt(100))
	diff := sc.Amount.Sub(expected).Abs()
	toleranceAmount := expected.Mul(decimal.RequireFromString("0.10")) // 10% tolerance for service

	if diff.GreaterThan(toleranceAmount) && diff.GreaterThan(v.tolerance) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "service_charge",
			Code:    "service_mismatch",
			Message: "service charge " + money.Format(*sc.Amount) + " does not match its percent of the subtotal",
		})
	}
}

func (v *LedgerValidator) validateDiscounts(ledger *models.Ledger, result *ValidationResult) {
	for _, d := range ledger.FloatingDiscounts() {
		label := d.Description
		if label == "" {
			label = "discount"
		}
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "discounts",
			Code:    "discount_floating",
			Message: label + " " + money.Format(d.Amount) + " is not tied to an item and is shared across the bill",
		})
	}
}

// validateCoherence checks field coherence
func (v *LedgerValidator) validateCoherence(ledger *models.Ledger, result *ValidationResult, subtotal decimal.Decimal) {
	if len(ledger.Items) == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:    "items",
			Code:     "no_items",
			Expected: decimal.NewFromInt(1),
			Actual:   decimal.Zero,
			Message:  "no line items could be read from the receipt",
		})
		return
	}

	for _, it := range ledger.Items {
		if it.TotalPrice.IsNegative() {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "items",
				Code:    "discount_exceeds_item",
				Message: "discounts on " + it.Name + " exceed its price",
			})
		}
	}

	if subtotal.IsPositive() && ledger.TaxTotal().GreaterThan(subtotal) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "taxes",
			Code:    "tax_exceeds_subtotal",
			Message: "taxes exceed the item subtotal",
		})
	}
}

var (
	totalLabel    = regexp.MustCompile(`(?i)\btotal\b`)
	notGrandTotal = regexp.MustCompile(`(?i)sub\s*-?\s*total|total\s+(?:qty|quantity|items?|savings?|discounts?)`)
	totalAmount   = regexp.MustCompile(`-?\d[\d,]*[.,]\d{2}\b`)
)

// PrintedTotal finds the grand total printed on the receipt: the largest
// amount on a TOTAL line that is not a subtotal or a count. Nil when absent.
func PrintedTotal(ocrText string) *decimal.Decimal {
	var best *decimal.Decimal
	for _, line := range strings.Split(ocrText, "\n") {
		if !totalLabel.MatchString(line) || notGrandTotal.MatchString(line) {
			continue
		}
		tokens := totalAmount.FindAllString(line, -1)
		if len(tokens) == 0 {
			continue
		}
		amount := money.Normalize(tokens[len(tokens)-1])
		if best == nil || amount.GreaterThan(*best) {
			best = &amount
		}
	}
	return best
}
