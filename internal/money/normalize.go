// Package money converts textual and loosely typed amounts into exact decimals.
package money

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Status tags how a value was turned into an amount
type Status int

const (
	Parsed Status = iota // a numeric value was found
	Empty                // nil or blank input, read as zero
	Failed               // input present but no numeric token
)

func (s Status) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case Empty:
		return "empty"
	default:
		return "failed"
	}
}

// Result is the tagged outcome of Parse
type Result struct {
	Amount decimal.Decimal
	Status Status
	Raw    string
}

// OK reports whether a numeric value was actually present
func (r Result) OK() bool {
	return r.Status == Parsed
}

// DefaultMarkers are the currency markers stripped before parsing
var DefaultMarkers = []string{"$", "RM", "USD", "SGD", "MYR", "EUR", "€"}

var (
	numberToken  = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	decimalComma = regexp.MustCompile(`^[^,]*\d,\d{2}(?:\D[^,]*)?$`)
	minusVariant = strings.NewReplacer("−", "-", "—", "-", "–", "-")
)

// Normalizer parses money strings with a configurable set of currency markers
type Normalizer struct {
	markers []string
}

// NewNormalizer creates a normalizer stripping the default markers plus extra ones
func NewNormalizer(extra ...string) *Normalizer {
	markers := make([]string, 0, len(DefaultMarkers)+len(extra))
	markers = append(markers, DefaultMarkers...)
	for _, m := range extra {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, m)
		}
	}
	return &Normalizer{markers: markers}
}

var std = NewNormalizer()

// Normalize returns the amount in v, or zero when none can be read
func Normalize(v any) decimal.Decimal {
	return std.Normalize(v)
}

// Parse returns the tagged parse result for v
func Parse(v any) Result {
	return std.Parse(v)
}

// Normalize returns the amount in v, or zero when none can be read
func (n *Normalizer) Normalize(v any) decimal.Decimal {
	return n.Parse(v).Amount
}

// Parse converts v into an amount. It never fails: unreadable input yields
// a zero amount tagged Failed.
func (n *Normalizer) Parse(v any) Result {
	switch x := v.(type) {
	case nil:
		return Result{Amount: decimal.Zero, Status: Empty}
	case decimal.Decimal:
		return Result{Amount: x, Status: Parsed}
	case *decimal.Decimal:
		if x == nil {
			return Result{Amount: decimal.Zero, Status: Empty}
		}
		return Result{Amount: *x, Status: Parsed}
	case float64:
		return Result{Amount: decimal.NewFromFloat(x), Status: Parsed}
	case float32:
		return Result{Amount: decimal.NewFromFloat32(x), Status: Parsed}
	case int:
		return Result{Amount: decimal.NewFromInt(int64(x)), Status: Parsed}
	case int32:
		return Result{Amount: decimal.NewFromInt32(x), Status: Parsed}
	case int64:
		return Result{Amount: decimal.NewFromInt(x), Status: Parsed}
	case json.Number:
		return n.parseString(string(x))
	case string:
		return n.parseString(x)
	default:
		return Result{Amount: decimal.Zero, Status: Failed}
	}
}

func (n *Normalizer) parseString(raw string) Result {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Result{Amount: decimal.Zero, Status: Empty, Raw: raw}
	}

	s = minusVariant.Replace(s)
	for _, m := range n.markers {
		s = strings.ReplaceAll(s, m, "")
	}
	s = fixSeparators(s)

	tok := numberToken.FindString(s)
	if tok == "" {
		return Result{Amount: decimal.Zero, Status: Failed, Raw: raw}
	}
	d, err := decimal.NewFromString(tok)
	if err != nil {
		return Result{Amount: decimal.Zero, Status: Failed, Raw: raw}
	}
	return Result{Amount: d, Status: Parsed, Raw: raw}
}

// fixSeparators applies the comma heuristic: a single comma followed by
// exactly two digits is a decimal separator, any other comma groups thousands.
func fixSeparators(s string) string {
	if strings.Count(s, ",") == 1 && decimalComma.MatchString(s) {
		head, tail, _ := strings.Cut(s, ",")
		head = strings.ReplaceAll(head, ".", "")
		return head + "." + tail
	}
	return strings.ReplaceAll(s, ",", "")
}

// Round2 rounds half away from zero to cents
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Format renders d rounded to cents with two decimals
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
