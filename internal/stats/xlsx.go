package stats

import (
	"fmt"

	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/xuri/excelize/v2"
)

var xlsxHeader = []interface{}{
	"key", "success_count", "error_count", "average", "median", "min", "max",
	"per66", "per75", "per90", "per95", "per99",
}

// SheetName is the worksheet title used for a summary view.
func SheetName(view model.SummaryView) string {
	switch view {
	case model.ViewQueries:
		return "queries"
	case model.ViewObserversByType:
		return "observers_by_type"
	case model.ViewObserversByNameserver:
		return "observers_by_nameserver"
	default:
		return string(view)
	}
}

// ExportXLSX writes the summaries to a workbook with one sheet per view and
// returns the encoded file. Empty cells mean the value is undefined.
func ExportXLSX(summaries []model.Summary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	byView := make(map[model.SummaryView][]model.Summary)
	for _, s := range summaries {
		byView[s.View] = append(byView[s.View], s)
	}

	for i, view := range model.SummaryViews {
		sheet := SheetName(view)
		idx, err := f.NewSheet(sheet)
		if err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		if i == 0 {
			f.SetActiveSheet(idx)
		}
		if err := f.SetSheetRow(sheet, "A1", &xlsxHeader); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		for row, s := range byView[view] {
			cell, err := excelize.CoordinatesToCellName(1, row+2)
			if err != nil {
				return nil, err
			}
			values := []interface{}{
				s.Key, s.SuccessCount, s.ErrorCount,
				cellValue(s.Average), cellValue(s.Median), cellValue(s.Min), cellValue(s.Max),
				cellValue(s.Per66), cellValue(s.Per75), cellValue(s.Per90), cellValue(s.Per95), cellValue(s.Per99),
			}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				return nil, fmt.Errorf("write row: %w", err)
			}
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func cellValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
