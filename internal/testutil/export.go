package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// ExportHeader is the column row of a spreadsheet export of the location table.
var ExportHeader = []any{"Z_PK", "ZTIMESTAMP", "ZLATITUDE", "ZLONGITUDE", "ZSPEED", "ZALTITUDE"}

// NewExportXLSX writes rows as a workbook shaped like a spreadsheet export of
// the cache: one sheet with the excelize default name "Sheet1", a header row,
// and nil fields left empty. It returns the workbook's path.
func NewExportXLSX(t *testing.T, rows ...CacheRow) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := append([]any(nil), ExportHeader...)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		values := []any{r.PK, r.Timestamp, r.Latitude, r.Longitude, r.Speed, r.Altitude}
		require.NoError(t, f.SetSheetRow(sheet, cell, &values), "export row %d", r.PK)
	}

	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}
