package roster

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ImportXLSX bulk-registers students from a workbook. The first sheet is
// read with the header row skipped; expected column order is roll_no, name,
// department, section, email, phone. Rows that fail validation or collide
// with existing students are skipped and reported, not fatal. Imported
// students have no photo yet, so image_path stays empty until one is
// captured with the register command.
func (s *Store) ImportXLSX(r io.Reader) (int, []string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return 0, nil, fmt.Errorf("workbook does not contain any sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	cell := func(row []string, i int) string {
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	added := 0
	var skipped []string
	for i, row := range rows {
		if i == 0 {
			continue // header row
		}

		st := Student{
			RollNo:     cell(row, 0),
			Name:       cell(row, 1),
			Department: cell(row, 2),
			Section:    cell(row, 3),
			Email:      cell(row, 4),
			Phone:      cell(row, 5),
		}
		if st.RollNo == "" && st.Name == "" {
			continue // blank padding row
		}

		if err := Validate(st); err != nil {
			skipped = append(skipped, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}
		if err := s.Conflict(st); err != nil {
			skipped = append(skipped, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}
		if err := s.Append(st); err != nil {
			return added, skipped, err
		}
		added++
	}
	return added, skipped, nil
}
