package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet is the cell text of one worksheet.
type Sheet struct {
	Name string
	Rows [][]string
}

// ReadWorkbook reads every sheet of an XLSX file in workbook order. Rows
// whose cells are all empty are dropped.
func ReadWorkbook(path string) ([]Sheet, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheets := make([]Sheet, 0, len(f.Sheets))
	for _, sh := range f.Sheets {
		out := Sheet{Name: sh.Name}
		for _, row := range sh.Rows {
			if row == nil {
				continue
			}
			cells := rowToStrings(row)
			if blank(cells) {
				continue
			}
			out.Rows = append(out.Rows, cells)
		}
		sheets = append(sheets, out)
	}
	return sheets, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
