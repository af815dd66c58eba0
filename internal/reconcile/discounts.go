package reconcile

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/splitreceipt/receipt-split-service/internal/models"
	"github.com/splitreceipt/receipt-split-service/internal/money"
)

// Attributor ties discount lines of one OCR blob to parsed items.
// It mutates the items it was given and holds no state beyond one receipt.
type Attributor struct {
	matcher *Matcher
	lines   []string
	entries []Entry // OCR lines as match targets
	items   []models.LineItem
	targets []Entry // items at their pre-discount totals

	anchorItem map[int]int  // OCR item line -> item index
	claimed    map[int]bool // item indices owned by an anchor line
	consumed   map[int]bool // discount lines already applied

	// capitals is set when the receipt prints item names in capitals.
	// Mixed-case item lines are then usually annotations and are passed over
	// when walking back, unless the discount names that line or no
	// capitalized line resolves to an item.
	capitals bool
}

// NewAttributor prepares attribution of lines against items. Items are
// updated in place.
func NewAttributor(m *Matcher, lines []string, items []models.LineItem) *Attributor {
	capitals := false
	for _, l := range lines {
		if il, ok := ParseItemLine(l); ok && !IsDiscountLine(l) && isCapitalized(il.Name) {
			capitals = true
			break
		}
	}
	return &Attributor{
		capitals:   capitals,
		matcher:    m,
		lines:      lines,
		entries:    EntriesFromLines(lines),
		items:      items,
		targets:    EntriesFromItems(items),
		anchorItem: make(map[int]int),
		claimed:    make(map[int]bool),
		consumed:   make(map[int]bool),
	}
}

// DetectLines scans every discount line, applies the ones that can be tied
// to an item and returns them as attributed discounts. Lines with no
// preceding item line, or whose item line matches nothing, are skipped.
func (a *Attributor) DetectLines() []models.Discount {
	var detected []models.Discount
	for i, line := range a.lines {
		if !IsDiscountLine(line) {
			continue
		}
		amount := discountAmount(line)
		if amount.IsZero() {
			continue
		}
		description := describe(line)
		idx, ok := a.resolveFirst(a.candidates(i, description))
		if !ok {
			continue
		}
		a.consumed[i] = true
		detected = append(detected, a.apply(idx, description, amount, models.SourceOCR))
	}
	return detected
}

// Sweep tries to attribute every floating discount by anchoring it on an
// OCR line not already consumed. Discounts that find no anchor stay floating.
func (a *Attributor) Sweep(discounts []models.Discount) []models.Discount {
	for i := range discounts {
		d := &discounts[i]
		if !d.Floating() || d.Amount.IsZero() {
			continue
		}
		anchors := a.anchorFor(*d)
		if len(anchors) == 0 {
			slog.Debug("reconcile.discount.floating", "description", d.Description, "amount", d.Amount.String())
			continue
		}
		idx, ok := a.resolveFirst(anchors)
		if !ok {
			continue
		}
		applied := a.apply(idx, d.Description, d.Amount, d.Source)
		d.Item = applied.Item
	}
	return discounts
}

// anchorFor returns the item lines a floating discount may belong to, in
// order of preference
func (a *Attributor) anchorFor(d models.Discount) []int {
	used := make(map[int]bool, len(a.consumed))
	for i := range a.consumed {
		used[i] = true
	}

	line := -1
	if d.Description != "" {
		if i, ok := a.matcher.FindBestMatch(Candidate{Name: d.Description, Price: d.Amount, HasPrice: true}, a.entries, used); ok {
			line = i
		}
	}
	if line < 0 {
		for i, l := range a.lines {
			if !used[i] && negativePrice.MatchString(l) {
				line = i
				break
			}
		}
	}
	if line < 0 {
		return nil
	}

	if IsDiscountLine(a.lines[line]) {
		a.consumed[line] = true
		return a.candidates(line, d.Description)
	}
	if a.isAnchor(line) {
		return []int{line}
	}
	return a.candidates(line, d.Description)
}

// candidates lists the item lines a discount on line from may attach to.
// The nearest preceding item line comes first when the discount shares a
// word with it; otherwise the nearest anchor, then the nearest item line.
func (a *Attributor) candidates(from int, description string) []int {
	nearest := -1
	for j := from - 1; j >= 0; j-- {
		if a.isItemLine(j) {
			nearest = j
			break
		}
	}
	if nearest < 0 {
		return nil
	}

	anchor := a.walkBack(from)
	if anchor == nearest || anchor < 0 {
		return []int{nearest}
	}
	il, _ := ParseItemLine(a.lines[nearest])
	if sharesWord(description, il.Name) {
		return []int{nearest, anchor}
	}
	return []int{anchor, nearest}
}

// resolveFirst resolves the first anchor that maps to an item
func (a *Attributor) resolveFirst(anchors []int) (int, bool) {
	for _, anchor := range anchors {
		if idx, ok := a.resolve(anchor); ok {
			return idx, true
		}
	}
	return -1, false
}

func sharesWord(a, b string) bool {
	wa := tokens(a)
	for w := range tokens(b) {
		if _, ok := wa[w]; ok && !isNumber(w) {
			return true
		}
	}
	return false
}

func isNumber(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0
}

// walkBack finds the nearest preceding anchor line
func (a *Attributor) walkBack(from int) int {
	for j := from - 1; j >= 0; j-- {
		if a.isAnchor(j) {
			return j
		}
	}
	return -1
}

func (a *Attributor) isAnchor(i int) bool {
	if !a.isItemLine(i) {
		return false
	}
	il, _ := ParseItemLine(a.lines[i])
	return !a.capitals || isCapitalized(il.Name)
}

func (a *Attributor) isItemLine(i int) bool {
	if IsDiscountLine(a.lines[i]) {
		return false
	}
	_, ok := ParseItemLine(a.lines[i])
	return ok
}

func isCapitalized(name string) bool {
	return strings.ToUpper(name) == name && strings.ToLower(name) != name
}

// resolve maps an OCR item line to an item. Each line owns at most one
// item and each item belongs to at most one line, so stacked discounts
// under the same line land on the same item.
func (a *Attributor) resolve(anchor int) (int, bool) {
	if idx, ok := a.anchorItem[anchor]; ok {
		return idx, true
	}
	il, ok := ParseItemLine(a.lines[anchor])
	if !ok {
		return -1, false
	}
	idx, ok := a.matcher.FindBestMatch(Candidate{Name: il.Name, Price: il.Price, HasPrice: true}, a.targets, a.claimed)
	if !ok {
		return -1, false
	}
	a.anchorItem[anchor] = idx
	a.claimed[idx] = true
	return idx, true
}

func (a *Attributor) apply(idx int, description string, amount decimal.Decimal, source string) models.Discount {
	it := &a.items[idx]
	it.TotalPrice = it.TotalPrice.Sub(amount)
	it.Discounts = append(it.Discounts, models.AppliedDiscount{
		Kind:        models.DiscountKindFlat,
		Description: description,
		Amount:      amount,
	})
	return models.Discount{Description: description, Amount: amount, Item: it.Name, Source: source}
}

type discountKey struct {
	description string
	amount      string
	item        string
}

func keyOf(d models.Discount) discountKey {
	return discountKey{
		description: normalizeName(d.Description),
		amount:      money.Format(d.Amount),
		item:        normalizeName(d.Item),
	}
}

// MergeDiscounts folds OCR-detected discounts into the declared list.
// A declared floating discount describing the same physical line (same
// description, else same rounded amount) is replaced by the detected one,
// and the result is deduplicated on (description, amount, item).
func MergeDiscounts(declared, detected []models.Discount) []models.Discount {
	out := make([]models.Discount, len(declared))
	copy(out, declared)
	absorbed := make(map[int]bool)

	for _, d := range detected {
		key := keyOf(d)
		dup := false
		for _, e := range out {
			if keyOf(e) == key {
				dup = true
				break
			}
		}
		if dup {
			continue
		}

		j := findAbsorbable(out, absorbed, func(e models.Discount) bool {
			return normalizeName(e.Description) == key.description && money.Format(e.Amount) == key.amount
		})
		if j < 0 {
			j = findAbsorbable(out, absorbed, func(e models.Discount) bool {
				return money.Format(e.Amount) == key.amount
			})
		}
		if j >= 0 {
			out[j] = d
			absorbed[j] = true
			continue
		}
		out = append(out, d)
		absorbed[len(out)-1] = true
	}

	return dedupe(out)
}

func findAbsorbable(list []models.Discount, absorbed map[int]bool, same func(models.Discount) bool) int {
	for j, e := range list {
		if absorbed[j] || !e.Floating() {
			continue
		}
		if same(e) {
			return j
		}
	}
	return -1
}

func dedupe(list []models.Discount) []models.Discount {
	seen := make(map[discountKey]bool, len(list))
	out := make([]models.Discount, 0, len(list))
	for _, d := range list {
		k := keyOf(d)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out
}
