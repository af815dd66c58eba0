package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

// DefaultPriceTolerance is the absolute price distance accepted on an exact name match
var DefaultPriceTolerance = decimal.RequireFromString("1.5")

// Entry is a match target: an OCR line or a parsed item
type Entry struct {
	Name     string
	Price    decimal.Decimal
	HasPrice bool
}

// Candidate is what we are looking for
type Candidate struct {
	Name     string
	Price    decimal.Decimal
	HasPrice bool
}

// EntriesFromLines parses OCR lines into match targets. Lines that are not
// item lines keep their full text as name and carry no price.
func EntriesFromLines(lines []string) []Entry {
	entries := make([]Entry, len(lines))
	for i, l := range lines {
		if il, ok := ParseItemLine(l); ok {
			entries[i] = Entry{Name: il.Name, Price: il.Price, HasPrice: true}
			continue
		}
		entries[i] = Entry{Name: l}
	}
	return entries
}

// EntriesFromItems uses item names and their current totals as targets
func EntriesFromItems(items []models.LineItem) []Entry {
	entries := make([]Entry, len(items))
	for i, it := range items {
		entries[i] = Entry{Name: it.Name, Price: it.TotalPrice, HasPrice: true}
	}
	return entries
}

// Matcher finds the entry that most plausibly corresponds to a candidate
type Matcher struct {
	tolerance decimal.Decimal
}

// NewMatcher creates a matcher; a non-positive tolerance uses the default
func NewMatcher(tolerance decimal.Decimal) *Matcher {
	if !tolerance.IsPositive() {
		tolerance = DefaultPriceTolerance
	}
	return &Matcher{tolerance: tolerance}
}

// FindBestMatch returns the index of the best unused entry.
//
// Exact phase: equal normalized names, and prices within tolerance when both
// sides have one. Fuzzy phase: the largest token-set overlap, lowest index on
// ties. No overlap at all means no match.
func (m *Matcher) FindBestMatch(c Candidate, entries []Entry, used map[int]bool) (int, bool) {
	want := normalizeName(c.Name)
	if want != "" {
		for i, e := range entries {
			if used[i] || normalizeName(e.Name) != want {
				continue
			}
			if c.HasPrice && e.HasPrice && c.Price.Sub(e.Price).Abs().GreaterThan(m.tolerance) {
				continue
			}
			return i, true
		}
	}

	ct := tokens(c.Name)
	if len(ct) == 0 {
		return -1, false
	}
	best, bestScore := -1, 0
	for i, e := range entries {
		if used[i] {
			continue
		}
		score := 0
		for tok := range tokens(e.Name) {
			if _, ok := ct[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, best >= 0
}
