// Package export renders receipts as spreadsheets.
package export

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

const (
	itemsSheet = "Items"
	splitSheet = "Split"
)

// ErrNoLedger is returned for receipts that were never reconciled
var ErrNoLedger = errors.New("receipt has no ledger")

// SplitWorkbook returns an XLSX workbook with the receipt's items and, when
// present, its split
func SplitWorkbook(r *models.Receipt) ([]byte, error) {
	if r == nil || r.Ledger == nil {
		return nil, ErrNoLedger
	}

	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes the items sheet
	if err := f.SetSheetName(f.GetSheetName(0), itemsSheet); err != nil {
		return nil, err
	}
	writeItems(f, r.Ledger)

	if r.Split != nil {
		if _, err := f.NewSheet(splitSheet); err != nil {
			return nil, err
		}
		writeSplit(f, r.Split)
	}

	idx, _ := f.GetSheetIndex(itemsSheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	slog.Info("export.xlsx.ok", "receipt_id", r.ID, "items", len(r.Ledger.Items))
	return buf.Bytes(), nil
}

func writeItems(f *excelize.File, l *models.Ledger) {
	row := 1
	write := func(col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(itemsSheet, cell, v)
	}

	for i, h := range []string{"Item", "Qty", "Unit Price", "Discounts", "Total", "Assigned To"} {
		write(i+1, h)
	}
	row++

	for _, it := range l.Items {
		write(1, it.Name)
		write(2, it.Quantity)
		write(3, amount(it.UnitPrice))
		write(4, amount(it.DiscountTotal()))
		write(5, amount(it.TotalPrice))
		write(6, strings.Join(it.AssignedTo, ", "))
		row++
	}

	for _, d := range l.FloatingDiscounts() {
		write(1, d.Description)
		write(5, amount(d.Amount.Neg()))
		write(6, "shared")
		row++
	}
	for _, t := range l.Taxes {
		write(1, t.Type)
		write(5, amount(t.Amount))
		row++
	}
	if l.ServiceCharge != nil && l.ServiceCharge.Amount != nil {
		write(1, "Service charge")
		write(5, amount(*l.ServiceCharge.Amount))
		row++
	}

	write(1, "Total")
	write(5, amount(l.ComputedTotal.Sub(l.FloatingDiscountTotal())))

	_ = f.SetColWidth(itemsSheet, "A", "A", 32)
	_ = f.SetColWidth(itemsSheet, "B", "E", 12)
	_ = f.SetColWidth(itemsSheet, "F", "F", 28)
}

func writeSplit(f *excelize.File, s *models.SplitResult) {
	row := 1
	write := func(col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(splitSheet, cell, v)
	}

	for i, h := range []string{"Participant", "Subtotal", "Tax", "Service", "Discount", "Amount"} {
		write(i+1, h)
	}
	row++

	for _, sh := range s.Shares {
		write(1, sh.Participant)
		write(2, amount(sh.Subtotal))
		write(3, amount(sh.Tax))
		write(4, amount(sh.Service))
		write(5, amount(sh.Discount))
		write(6, amount(sh.Amount))
		row++
	}

	write(1, "Total ("+s.Mode+")")
	write(6, amount(s.Total))

	_ = f.SetColWidth(splitSheet, "A", "A", 24)
	_ = f.SetColWidth(splitSheet, "B", "F", 12)
}

func amount(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
