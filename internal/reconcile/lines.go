package reconcile

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/splitreceipt/receipt-split-service/internal/money"
)

const (
	minus    = `[-−–—]`
	currency = `(?:[$€]|RM)`
)

var (
	discountKeyword = regexp.MustCompile(`(?i)\b(?:discount\w*|off|offer\w*|promo\w*|rebate\w*|special\w*|xmas)\b`)

	// a price needs a currency marker or a cents part
	pricePattern  = `(?:` + currency + `\s*\d[\d,]*(?:\.\d{1,2})?|\d[\d,]*\.\d{1,2})`
	positivePrice = regexp.MustCompile(pricePattern)

	// a spaced hyphen before a bare number ("10am - 10pm", "SET A - 1 DRINK")
	// is not a price
	negativePrice = regexp.MustCompile(
		`(?:^|[\s(:=])` + minus + `\s*` + pricePattern + // leading minus
			`|` + currency + `\s*` + minus + `\s*\d` + // minus after the currency marker
			`|\d\.\d{2}` + minus + `(?:\s|$)`, // trailing minus
	)

	anyPrice = regexp.MustCompile(minus + `?` + currency + `?\s*` + minus + `?` + pricePattern + minus + `?`)

	itemLine = regexp.MustCompile(
		`^(?:(\d{1,3})\s*[xX]?\s+)?(.+?)\s+(` + minus + `?` + currency + `?\s*` + minus + `?` + pricePattern + minus + `?)$`,
	)

	trailingMinus = regexp.MustCompile(`\d` + minus + `\s*$`)
	spaces        = regexp.MustCompile(`\s+`)
)

// ItemLine is an OCR line that looks like "[qty] name price"
type ItemLine struct {
	Quantity int
	Name     string
	Price    decimal.Decimal
}

// SplitLines returns the non-blank trimmed lines of text
func SplitLines(text string) []string {
	var out []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// ParseItemLine matches the item-line pattern: optional leading quantity,
// a name with at least one letter, a trailing price.
func ParseItemLine(line string) (ItemLine, bool) {
	m := itemLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return ItemLine{}, false
	}
	name := strings.TrimSpace(m[2])
	if strings.IndexFunc(name, unicode.IsLetter) < 0 {
		return ItemLine{}, false
	}

	qty := 1
	if m[1] != "" {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			qty = n
		}
	}
	return ItemLine{Quantity: qty, Name: name, Price: signedPrice(m[3])}, true
}

// IsDiscountLine reports a keyword with a positive price, or any negative price
func IsDiscountLine(line string) bool {
	if negativePrice.MatchString(line) {
		return true
	}
	return discountKeyword.MatchString(line) && positivePrice.MatchString(line)
}

// IsDiscountName reports whether a label carries a discount keyword
func IsDiscountName(name string) bool {
	return discountKeyword.MatchString(name)
}

// discountAmount is the magnitude of the first price token on a discount
// line. A line without a price token yields zero.
func discountAmount(line string) decimal.Decimal {
	tok := anyPrice.FindString(line)
	if tok == "" {
		return decimal.Zero
	}
	return money.Normalize(tok).Abs()
}

// describe strips prices from a line, leaving its label
func describe(line string) string {
	label := anyPrice.ReplaceAllString(line, " ")
	label = strings.Trim(spaces.ReplaceAllString(label, " "), " :-")
	if label == "" {
		return strings.TrimSpace(line)
	}
	return label
}

// signedPrice also honours the trailing minus some tills print
func signedPrice(tok string) decimal.Decimal {
	amount := money.Normalize(tok)
	if amount.IsPositive() && trailingMinus.MatchString(tok) {
		return amount.Neg()
	}
	return amount
}

// normalizeName lowercases and collapses whitespace
func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(spaces.ReplaceAllString(s, " ")))
}

// tokens splits on non-alphanumeric boundaries into a lowercase set
func tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[f] = struct{}{}
	}
	return set
}
