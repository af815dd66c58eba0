// Package split computes what each participant owes on a reconciled ledger.
package split

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/splitreceipt/receipt-split-service/internal/models"
	"github.com/splitreceipt/receipt-split-service/internal/money"
)

// Split modes
const (
	ModeEven = "even"
	ModeItem = "item"
)

var (
	// ErrUnknownMode is returned for a mode other than even or item
	ErrUnknownMode = errors.New("unknown split mode")

	// ErrBadAssignment is returned when an assignment names a unit the ledger does not have
	ErrBadAssignment = errors.New("assignment refers to a missing item")
)

var hundred = decimal.NewFromInt(100)

// Participants cleans a participant list: blanks are dropped and duplicates
// collapsed in order. An empty list becomes P1..Pn with n = max(1, count).
func Participants(names []string, count int) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) > 0 {
		return out
	}

	if count < 1 {
		count = 1
	}
	for i := 1; i <= count; i++ {
		out = append(out, fmt.Sprintf("P%d", i))
	}
	return out
}

// Assign sets AssignedTo on ledger items by index. A nil or empty list
// clears the assignment.
func Assign(l *models.Ledger, assignments map[int][]string) error {
	for idx, who := range assignments {
		if idx < 0 || idx >= len(l.Items) {
			return fmt.Errorf("%w: index %d of %d", ErrBadAssignment, idx, len(l.Items))
		}
		l.Items[idx].AssignedTo = append([]string(nil), who...)
	}
	return nil
}

// Compute splits the ledger among participants.
//
// In even mode everyone owes an equal share of the computed total net of
// floating discounts. In item mode each item is borne by its assignees (or
// everyone when unassigned) and taxes, service and floating discounts follow
// each participant's share of the item subtotal. Shares are allocated in
// whole cents so they always add up to the result total.
func Compute(l *models.Ledger, participants []string, mode string) (*models.SplitResult, error) {
	if l == nil {
		l = &models.Ledger{}
	}
	names := Participants(participants, len(participants))

	var shares []models.Share
	switch mode {
	case ModeEven:
		shares = even(l, names)
	case ModeItem:
		shares = byItem(l, names)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Amount)
	}

	slog.Debug("split.done", "mode", mode, "participants", len(names), "total", total.String())
	return &models.SplitResult{
		Mode:         mode,
		Participants: names,
		Shares:       shares,
		Total:        total,
	}, nil
}

// even allocates the net total equally. The breakdown fields are allocated
// independently and may differ from Amount by a cent.
func even(l *models.Ledger, names []string) []models.Share {
	weights := equalWeights(len(names))
	net := l.ComputedTotal.Sub(l.FloatingDiscountTotal())

	amount := Allocate(net, weights)
	subtotal := Allocate(l.ItemsSubtotal(), weights)
	tax := Allocate(l.TaxTotal(), weights)
	service := Allocate(l.ServiceAmount(), weights)
	discount := Allocate(l.FloatingDiscountTotal(), weights)

	shares := make([]models.Share, len(names))
	for i, n := range names {
		shares[i] = models.Share{
			Participant: n,
			Subtotal:    subtotal[i],
			Tax:         tax[i],
			Service:     service[i],
			Discount:    discount[i],
			Amount:      amount[i],
		}
	}
	return shares
}

func byItem(l *models.Ledger, names []string) []models.Share {
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}

	subtotals := make([]decimal.Decimal, len(names))
	for i := range subtotals {
		subtotals[i] = decimal.Zero
	}
	for _, it := range l.Items {
		bearers := bearersOf(it, index)
		parts := Allocate(it.TotalPrice, equalWeights(len(bearers)))
		for k, p := range bearers {
			subtotals[p] = subtotals[p].Add(parts[k])
		}
	}

	tax := Allocate(l.TaxTotal(), subtotals)
	service := Allocate(l.ServiceAmount(), subtotals)
	discount := Allocate(l.FloatingDiscountTotal(), subtotals)

	shares := make([]models.Share, len(names))
	for i, n := range names {
		shares[i] = models.Share{
			Participant: n,
			Subtotal:    subtotals[i],
			Tax:         tax[i],
			Service:     service[i],
			Discount:    discount[i],
			Amount:      subtotals[i].Add(tax[i]).Add(service[i]).Sub(discount[i]),
		}
	}
	return shares
}

// bearersOf returns participant indices carrying an item. Assignees that are
// not participants are ignored; nobody left means everybody.
func bearersOf(it models.LineItem, index map[string]int) []int {
	var out []int
	seen := make(map[int]bool)
	for _, who := range it.AssignedTo {
		i, ok := index[strings.TrimSpace(who)]
		if !ok || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	if len(out) > 0 {
		return out
	}

	out = make([]int, len(index))
	for i := range out {
		out[i] = i
	}
	return out
}

func equalWeights(n int) []decimal.Decimal {
	w := make([]decimal.Decimal, n)
	for i := range w {
		w[i] = decimal.NewFromInt(1)
	}
	return w
}

// Allocate divides amount, rounded to cents, across weights by the largest
// remainder method. Negative weights count as zero and an all-zero weight
// vector splits equally. Earlier positions win ties, so the result is
// deterministic and always sums to the rounded amount.
func Allocate(amount decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	for i := range out {
		out[i] = decimal.Zero
	}
	if len(weights) == 0 {
		return out
	}

	w := make([]decimal.Decimal, len(weights))
	sum := decimal.Zero
	for i, x := range weights {
		if x.IsPositive() {
			w[i] = x
			sum = sum.Add(x)
		} else {
			w[i] = decimal.Zero
		}
	}
	if sum.IsZero() {
		w = equalWeights(len(weights))
		sum = decimal.NewFromInt(int64(len(weights)))
	}

	cents := money.Round2(amount).Mul(hundred)
	negative := cents.IsNegative()
	cents = cents.Abs()

	floors := make([]decimal.Decimal, len(w))
	rems := make([]decimal.Decimal, len(w))
	given := decimal.Zero
	for i, x := range w {
		// remainders share the denominator sum, so they compare directly
		floors[i], rems[i] = cents.Mul(x).QuoRem(sum, 0)
		given = given.Add(floors[i])
	}

	order := make([]int, len(w))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rems[order[a]].GreaterThan(rems[order[b]])
	})
	left := cents.Sub(given).IntPart()
	for k := 0; k < len(order) && left > 0; k++ {
		floors[order[k]] = floors[order[k]].Add(decimal.NewFromInt(1))
		left--
	}

	for i, c := range floors {
		v := c.Div(hundred)
		if negative {
			v = v.Neg()
		}
		out[i] = v
	}
	return out
}
