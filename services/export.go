package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"civic-ingest/models"
)

const (
	ledgerSheet  = "Sync Ledger"
	summarySheet = "Summary"
)

// ExportSyncLedger renders ledger rows and per-status totals as an xlsx workbook
func ExportSyncLedger(records []models.SyncRecord, counts map[models.SyncStatus]int64) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ledgerSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"Source Key", "Town", "Category", "Board", "Year", "Status", "Attempts", "Search Document", "Error", "Discovered", "Synced"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(ledgerSheet, cell, header)
	}

	for i, rec := range records {
		row := i + 2
		values := []any{
			rec.SourceKey,
			rec.Town,
			rec.Category,
			rec.Board,
			yearCell(rec.Year),
			string(rec.Status),
			rec.Attempts,
			rec.SearchDocumentID,
			rec.ErrorMessage,
			rec.DiscoveredAt.Format("2006-01-02 15:04:05"),
			timeCell(rec.SyncedAt),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(ledgerSheet, cell, v)
		}
	}
	f.SetColWidth(ledgerSheet, "A", "A", 60)
	f.SetColWidth(ledgerSheet, "B", "K", 15)

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	f.SetCellValue(summarySheet, "A1", "Status")
	f.SetCellValue(summarySheet, "B1", "Count")
	for i, status := range []models.SyncStatus{models.SyncStatusPending, models.SyncStatusSynced, models.SyncStatusFailed} {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+2), string(status))
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+2), counts[status])
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func yearCell(year int) any {
	if year == 0 {
		return ""
	}
	return year
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
