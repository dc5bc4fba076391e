package export

import (
	"fmt"
	"io"

	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/core/ports"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding exported cards.
const SheetName = "Cards"

var xlsxHeader = []any{"Full Code", "Prefix", "Code", "Created At"}

// XLSXExporter writes a single-sheet workbook, one card per row.
type XLSXExporter struct{}

func (XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (XLSXExporter) Extension() string { return "xlsx" }

func (XLSXExporter) Export(w io.Writer, cards []domain.Card, meta ports.ExportMeta) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &xlsxHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, c := range cards {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{c.FullCode, c.Prefix, c.Code, localTime(c.CreatedAt, meta.Location).Format(timestampLayout)}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", "A", 28); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "D", "D", 20); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
