package fetcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

type sheetData struct {
	name string
	rows [][]string
}

func createTestXLSX(t *testing.T, sheets ...sheetData) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, rowData := range s.rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadWorkbook(t *testing.T) {
	path := createTestXLSX(t,
		sheetData{"Results", [][]string{{"Panel", "Efficiency"}, {"", ""}, {"Mono", "22%"}}},
		sheetData{"Notes", [][]string{{"Measured in July"}}},
		sheetData{"Empty", nil},
	)

	sheets, err := ReadWorkbook(path)
	require.NoError(t, err)
	require.Len(t, sheets, 3)

	assert.Equal(t, "Results", sheets[0].Name)
	assert.Equal(t, [][]string{{"Panel", "Efficiency"}, {"Mono", "22%"}}, sheets[0].Rows)
	assert.Equal(t, "Notes", sheets[1].Name)
	assert.Equal(t, [][]string{{"Measured in July"}}, sheets[1].Rows)
	assert.Empty(t, sheets[2].Rows)
}

func TestReadWorkbook_Errors(t *testing.T) {
	_, err := ReadWorkbook("/nonexistent/file.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")

	bad := filepath.Join(t.TempDir(), "bad.xlsx")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))
	_, err = ReadWorkbook(bad)
	require.Error(t, err)
}
