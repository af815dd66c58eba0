package export

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleReceipt() *models.Receipt {
	l := &models.Ledger{
		Items: []models.LineItem{
			{Name: "Noodles", Quantity: 1, UnitPrice: dec("10.00"), TotalPrice: dec("8.00"), AssignedTo: []string{"Alice"},
				Discounts: []models.AppliedDiscount{{Kind: models.DiscountKindFlat, Description: "Promo", Amount: dec("2.00")}}},
			{Name: "Tea", Quantity: 1, UnitPrice: dec("5.00"), TotalPrice: dec("5.00")},
		},
		Discounts: []models.Discount{{Description: "Member", Amount: dec("1.00")}},
		Taxes:     []models.TaxEntry{{Type: "SST", Amount: dec("0.78")}},
	}
	l.ComputedTotal = l.Total()
	return &models.Receipt{
		ID:     "r1",
		Ledger: l,
		Split: &models.SplitResult{
			Mode:         "even",
			Participants: []string{"Alice", "Bob"},
			Shares: []models.Share{
				{Participant: "Alice", Amount: dec("6.39")},
				{Participant: "Bob", Amount: dec("6.39")},
			},
			Total: dec("12.78"),
		},
	}
}

func TestSplitWorkbook(t *testing.T) {
	b, err := SplitWorkbook(sampleReceipt())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{itemsSheet, splitSheet}, f.GetSheetList())

	raw := excelize.Options{RawCellValue: true}
	cell := func(sheet, ref string) string {
		v, err := f.GetCellValue(sheet, ref, raw)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "Item", cell(itemsSheet, "A1"))
	assert.Equal(t, "Noodles", cell(itemsSheet, "A2"))
	assert.Equal(t, "2", cell(itemsSheet, "D2"))
	assert.Equal(t, "8", cell(itemsSheet, "E2"))
	assert.Equal(t, "Alice", cell(itemsSheet, "F2"))
	assert.Equal(t, "Member", cell(itemsSheet, "A4"))
	assert.Equal(t, "-1", cell(itemsSheet, "E4"))
	assert.Equal(t, "SST", cell(itemsSheet, "A5"))
	assert.Equal(t, "Total", cell(itemsSheet, "A6"))
	assert.Equal(t, "12.78", cell(itemsSheet, "E6"))

	assert.Equal(t, "Bob", cell(splitSheet, "A3"))
	assert.Equal(t, "6.39", cell(splitSheet, "F3"))
	assert.Equal(t, "Total (even)", cell(splitSheet, "A4"))
	assert.Equal(t, "12.78", cell(splitSheet, "F4"))
}

func TestSplitWorkbookWithoutSplit(t *testing.T) {
	r := sampleReceipt()
	r.Split = nil

	b, err := SplitWorkbook(r)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{itemsSheet}, f.GetSheetList())
}

func TestSplitWorkbookNoLedger(t *testing.T) {
	_, err := SplitWorkbook(&models.Receipt{ID: "r1"})
	assert.ErrorIs(t, err, ErrNoLedger)

	_, err = SplitWorkbook(nil)
	assert.ErrorIs(t, err, ErrNoLedger)
}
