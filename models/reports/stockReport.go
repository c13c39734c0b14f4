package reports

import (
	"io"
	"time"

	"github.com/mmdatafocus/ims_backend/models"
	"github.com/xuri/excelize/v2"
)

const StockWorkbookContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// StockSnapshot is everything one stock workbook shows, read in a single transaction.
type StockSnapshot struct {
	GeneratedAt time.Time
	Ledger      []models.ColorStock
	Incoming    []models.IncomingAllocation
	Orders      []models.CustomerOrder
}

type stockSheet struct {
	name     string
	headings []string
	rows     [][]any
}

func ledgerSheet(snapshot StockSnapshot) stockSheet {
	sheet := stockSheet{
		name:     "Ledger",
		headings: []string{"EntryId", "VehicleId", "VariantId", "Color", "Stock", "Blocked", "Available", "UpdatedAt"},
	}
	for _, e := range snapshot.Ledger {
		sheet.rows = append(sheet.rows, []any{e.ID, e.VehicleId, e.VariantId, e.Color, e.Stock, e.BlockedCount, e.Available(), e.UpdatedAt})
	}
	return sheet
}

func incomingSheet(snapshot StockSnapshot) stockSheet {
	sheet := stockSheet{
		name:     "Incoming",
		headings: []string{"IncomingId", "BranchId", "VehicleId", "VariantId", "Color", "Stock", "Blocked", "Received", "ExpectedDate", "Status", "Payment"},
	}
	for _, r := range snapshot.Incoming {
		sheet.rows = append(sheet.rows, []any{r.ID, r.BranchId, r.VehicleId, r.VariantId, r.Color, r.Stock, r.BlockedCount, r.ReceivedCount,
			r.ExpectedDate.Format(time.DateOnly), string(r.Status), string(r.Payment)})
	}
	return sheet
}

func ordersSheet(snapshot StockSnapshot) stockSheet {
	sheet := stockSheet{
		name: "Orders",
		headings: []string{"OrderId", "BranchId", "VehicleId", "VariantId", "Color", "Customer", "TotalCount", "OrderStatus", "FinanceStatus",
			"Source", "VehicleStock", "IncomingStock", "IncomingAvailable", "Shortfall", "ExpectedDate", "TotalAmount"},
	}
	for _, o := range snapshot.Orders {
		sheet.rows = append(sheet.rows, []any{o.ID, o.BranchId, o.VehicleId, o.VariantId, o.Color, o.Customer.Name, o.TotalCount,
			string(o.OrderStatus), string(o.FinanceStatus), string(o.AllocationSource), o.VehicleStock.Stock, o.MddpStock.Stock,
			o.MddpStock.Available, o.ShortfallCount, o.ExpectedDate.Format(time.DateOnly), o.TotalAmount.StringFixed(2)})
	}
	return sheet
}

func writeSheet(f *excelize.File, sheet stockSheet) error {
	for col, h := range sheet.headings {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet.name, cell, h); err != nil {
			return err
		}
	}
	for i, row := range sheet.rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet.name, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteStockWorkbook writes the Ledger, Incoming and Orders sheets to w as xlsx.
func WriteStockWorkbook(w io.Writer, snapshot StockSnapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := []stockSheet{ledgerSheet(snapshot), incomingSheet(snapshot), ordersSheet(snapshot)}
	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet.name); err != nil {
			return err
		}
		if err := writeSheet(f, sheet); err != nil {
			return err
		}
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Stock report",
		Created: snapshot.GeneratedAt.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}
