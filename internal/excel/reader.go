// Package excel handles the spreadsheet ends of the pipeline: reading the
// source workbook, detecting its identity columns, loading rows into the
// store, and writing the enriched output workbook.
package excel

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadSheet reads the first sheet of an XLSX file and returns the header
// row plus all data rows as string slices.
func ReadSheet(path string) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "excel: open %s", path)
	}

	sheet, err := firstSheet(f, path)
	if err != nil {
		return nil, nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil, eris.Errorf("excel: %s has no header row", path)
	}

	headers := rowToStrings(sheet.Rows[0])
	rows := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, rowToStrings(row))
	}
	return headers, rows, nil
}

// Preview returns the header row and up to n sample rows, the inputs for
// column detection.
func Preview(path string, n int) ([]string, [][]string, error) {
	headers, rows, err := ReadSheet(path)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) > n {
		rows = rows[:n]
	}
	return headers, rows, nil
}

func firstSheet(f *xlsx.File, path string) (*xlsx.Sheet, error) {
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("excel: %s has no sheets", path)
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
