// Package export writes the merged applications list to a spreadsheet.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"intake/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Entries"

var headers = []string{"Correlation ID", "Kind", "Status", "Step", "Verification", "Origin", "Pending", "Updated"}

// WriteEntries renders entries as an XLSX workbook into w.
func WriteEntries(w io.Writer, entries []models.ListEntry, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Generated %s, %d entries",
		generatedAt.Format("02.01.2006 15:04"), len(entries)))
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	pendingStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFF2CC"}, Pattern: 1},
	})
	for i, e := range entries {
		row := i + 3
		values := []any{
			e.CorrelationID,
			e.Kind,
			e.Status,
			fmt.Sprintf("%d.%d", e.Step, e.SubStep),
			e.VerificationStatus,
			string(e.Origin),
			yesNo(e.Pending),
			e.UpdatedAt.Format("2006-01-02 15:04:05"),
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
		if e.Pending {
			end, _ := excelize.CoordinatesToCellName(len(headers), row)
			_ = f.SetCellStyle(sheetName, start, end, pendingStyle)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 16)
	_ = f.SetColWidth(sheetName, "B", lastCol, 14)
	_ = f.SetColWidth(sheetName, lastCol, lastCol, 20)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveEntries writes the workbook to dir and returns the file path.
func SaveEntries(dir, ownerID string, entries []models.ListEntry, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("entries_%s_%s.xlsx", ownerID, now.Format("20060102_150405")))

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteEntries(out, entries, now); err != nil {
		out.Close()
		return "", err
	}
	return path, out.Close()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
