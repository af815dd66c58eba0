// Package reconcile merges an extraction service's guess with the raw OCR
// text into a single ledger where every amount is accounted for once.
package reconcile

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/splitreceipt/receipt-split-service/internal/models"
	"github.com/splitreceipt/receipt-split-service/internal/money"
)

const (
	// maxExpandedUnits bounds unit expansion; larger quantities stay one line
	maxExpandedUnits = 50

	// maxQuantity is the largest quantity taken at face value. Anything
	// above is treated like a fractional quantity: one unit priced by total.
	maxQuantity = 9999
)

var maxQuantityDec = decimal.NewFromInt(maxQuantity)

// Options tunes a Reconciler
type Options struct {
	PriceTolerance decimal.Decimal   // exact-name price proximity
	Normalizer     *money.Normalizer // amount parsing for OCR lines
}

// Reconciler builds ledgers. It keeps no per-request state and is safe for
// concurrent use.
type Reconciler struct {
	matcher    *Matcher
	normalizer *money.Normalizer
}

// New creates a reconciler
func New(opts Options) *Reconciler {
	n := opts.Normalizer
	if n == nil {
		n = money.NewNormalizer()
	}
	return &Reconciler{
		matcher:    NewMatcher(opts.PriceTolerance),
		normalizer: n,
	}
}

// Reconcile never fails: missing or malformed data degrades to zero or empty.
func (r *Reconciler) Reconcile(ocrText string, ext models.Extraction) *models.Ledger {
	lines := SplitLines(ocrText)

	extracted, discounts := reclassify(ext)
	items := derivePrices(extracted)

	attr := NewAttributor(r.matcher, lines, items)
	discounts = MergeDiscounts(discounts, attr.DetectLines())
	discounts = attr.Sweep(discounts)

	ledger := &models.Ledger{
		Items:     ExpandUnits(items),
		Discounts: discounts,
		Currency:  strings.TrimSpace(ext.Currency),
	}
	if ledger.Currency == "" {
		ledger.Currency = money.DetectCurrency(ocrText)
	}

	ledger.Taxes, ledger.ServiceCharge = r.resolveTaxes(lines, ext, ledger.ItemsSubtotal())
	ledger.ComputedTotal = ledger.Total()

	slog.Debug("reconcile.done",
		"items", len(ledger.Items),
		"discounts", len(ledger.Discounts),
		"floating", len(ledger.FloatingDiscounts()),
		"total", ledger.ComputedTotal.String(),
	)
	return ledger
}

// reclassify moves negative or discount-named items into floating discounts
func reclassify(ext models.Extraction) ([]models.ExtractedItem, []models.Discount) {
	discounts := make([]models.Discount, 0, len(ext.Discounts))
	for _, d := range ext.Discounts {
		d.Description = strings.TrimSpace(d.Description)
		d.Amount = d.Amount.Abs()
		if d.Source == "" {
			d.Source = models.SourceAI
		}
		discounts = append(discounts, d)
	}

	items := make([]models.ExtractedItem, 0, len(ext.Items))
	for _, it := range ext.Items {
		it.Name = strings.TrimSpace(it.Name)
		value := it.TotalPrice
		if value.IsZero() {
			value = it.UnitPrice.Mul(positiveOr1(it.Quantity))
		}
		if value.IsNegative() || IsDiscountName(it.Name) {
			discounts = append(discounts, models.Discount{
				Description: it.Name,
				Amount:      value.Abs(),
				Source:      models.SourceItem,
			})
			continue
		}
		items = append(items, it)
	}
	return items, discounts
}

// derivePrices fills the missing side of unit/total and rounds both.
// Fractional or non-positive quantities become a single unit priced by total.
func derivePrices(extracted []models.ExtractedItem) []models.LineItem {
	items := make([]models.LineItem, 0, len(extracted))
	for _, it := range extracted {
		unit, total := it.UnitPrice, it.TotalPrice
		if it.Name == "" && unit.IsZero() && total.IsZero() {
			continue
		}

		qty := 1
		q := it.Quantity
		switch {
		case q.GreaterThan(maxQuantityDec):
			if total.IsZero() {
				total = unit
			}
			unit = total
		case q.IsPositive() && q.Equal(q.Truncate(0)):
			qty = int(q.IntPart())
		case q.IsPositive():
			if total.IsZero() {
				total = unit.Mul(q)
			}
			unit = total
		}
		if qty < 1 {
			qty = 1
		}
		n := decimal.NewFromInt(int64(qty))

		switch {
		case unit.IsZero() && !total.IsZero():
			unit = total.Div(n)
		case total.IsZero() && !unit.IsZero():
			total = unit.Mul(n)
		case !unit.IsZero() && !money.Round2(unit.Mul(n)).Equal(money.Round2(total)):
			// the line total is what the receipt charges
			unit = total.Div(n)
		}

		items = append(items, models.LineItem{
			Name:       it.Name,
			Quantity:   qty,
			UnitPrice:  money.Round2(unit),
			TotalPrice: money.Round2(total),
			AssignedTo: it.AssignedTo,
		})
	}
	return items
}

// ExpandUnits turns each quantity-N item into N quantity-1 items priced at
// the post-discount total divided by N. The last unit takes the rounding
// remainder so the units still add up to the item total.
func ExpandUnits(items []models.LineItem) []models.LineItem {
	out := make([]models.LineItem, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 1 || it.Quantity > maxExpandedUnits {
			if it.Quantity < 1 {
				it.Quantity = 1
			}
			out = append(out, it)
			continue
		}

		per := money.Round2(it.TotalPrice.Div(decimal.NewFromInt(int64(it.Quantity))))
		rest := it.TotalPrice
		for u := 0; u < it.Quantity; u++ {
			price := per
			if u == it.Quantity-1 {
				price = rest
			}
			rest = rest.Sub(price)

			unit := models.LineItem{
				Name:       it.Name,
				Quantity:   1,
				UnitPrice:  price,
				TotalPrice: price,
				AssignedTo: append([]string(nil), it.AssignedTo...),
			}
			if u == 0 {
				unit.Discounts = it.Discounts
			}
			out = append(out, unit)
		}
	}
	return out
}

func positiveOr1(q decimal.Decimal) decimal.Decimal {
	if q.IsPositive() {
		return q
	}
	return decimal.NewFromInt(1)
}
