package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExportXLSX writes the whole report as a single-sheet workbook and returns
// the number of data rows exported.
func (s *Store) ExportXLSX(w io.Writer) (int, error) {
	rows, err := s.Load()
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range rows {
		record := []interface{}{
			row.RollNo, row.Name, row.Department, row.Section,
			row.Date, row.Time, row.Status,
			row.PresentPct, row.AttentivePct, row.DominantEmotion,
		}
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := f.SetSheetRow(sheet, cellName, &record); err != nil {
			return 0, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("failed to write workbook: %w", err)
	}
	return len(rows), nil
}
