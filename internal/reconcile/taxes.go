package reconcile

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/splitreceipt/receipt-split-service/internal/models"
	"github.com/splitreceipt/receipt-split-service/internal/money"
)

var (
	taxLabel     = regexp.MustCompile(`(?i)\b(SERVICE\s+CHARGE|SERVICE|SVC|SST|GST|TAX|VAT)\b`)
	totalLine    = regexp.MustCompile(`(?i)total|incl`)
	serviceLabel = regexp.MustCompile(`(?i)service|svc`)
	percentToken = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	amountToken  = regexp.MustCompile(`-?\d[\d,.]*%?`)
	// whole tokens only, so "1,234" never reads as "1,23"
	centsAmount = regexp.MustCompile(`^-?(?:\d{1,3}(?:,\d{3})+\.\d{1,2}|\d{1,3}(?:\.\d{3})+,\d{2}|\d+[.,]\d{1,2})$`)
)

type taxLine struct {
	entry   models.TaxEntry
	percent *float64
}

// resolveTaxes returns declared taxes, or taxes inferred from OCR when none
// were declared, and promotes a service-labelled tax to the service charge
// when the receipt has none.
func (r *Reconciler) resolveTaxes(lines []string, ext models.Extraction, subtotal decimal.Decimal) ([]models.TaxEntry, *models.ServiceCharge) {
	var found []taxLine
	for _, t := range ext.Taxes {
		t.Type = strings.TrimSpace(t.Type)
		found = append(found, taxLine{entry: t, percent: percentOf(t.Type)})
	}
	if len(found) == 0 {
		found = r.inferTaxes(lines)
	}

	service := cleanService(ext.ServiceCharge)
	taxes := make([]models.TaxEntry, 0, len(found))
	for _, t := range found {
		if service == nil && serviceLabel.MatchString(t.entry.Type) {
			amount := t.entry.Amount
			service = &models.ServiceCharge{Percent: t.percent, Amount: &amount}
			continue
		}
		taxes = append(taxes, t.entry)
	}

	if service != nil && service.Percent != nil && (service.Amount == nil || service.Amount.IsZero()) {
		amount := money.Round2(subtotal.Mul(decimal.NewFromFloat(*service.Percent)).Div(decimal.NewFromInt(100)))
		service.Amount = &amount
	}
	return taxes, service
}

// inferTaxes scans lines such as "SST 6% $4.05". The amount is the last
// non-percent number with cents on the line. Total lines are ignored.
func (r *Reconciler) inferTaxes(lines []string) []taxLine {
	var out []taxLine
	for _, l := range lines {
		m := taxLabel.FindStringSubmatch(l)
		if m == nil || totalLine.MatchString(l) {
			continue
		}
		var amount decimal.Decimal
		rest := l[strings.Index(l, m[0])+len(m[0]):]
		for _, tok := range amountToken.FindAllString(rest, -1) {
			tok = strings.TrimRight(tok, ".,")
			if strings.HasSuffix(tok, "%") || !centsAmount.MatchString(tok) {
				continue
			}
			amount = r.normalizer.Normalize(tok)
		}
		if amount.IsZero() {
			continue
		}
		label := strings.ToUpper(spaces.ReplaceAllString(m[1], " "))
		out = append(out, taxLine{
			entry:   models.TaxEntry{Type: label, Amount: amount.Abs()},
			percent: percentOf(l),
		})
	}
	return out
}

// cleanService drops a service charge that carries neither field
func cleanService(s *models.ServiceCharge) *models.ServiceCharge {
	if s == nil {
		return nil
	}
	if s.Percent == nil && (s.Amount == nil || s.Amount.IsZero()) {
		return nil
	}
	out := *s
	return &out
}

func percentOf(label string) *float64 {
	m := percentToken.FindStringSubmatch(label)
	if m == nil {
		return nil
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &f
}
