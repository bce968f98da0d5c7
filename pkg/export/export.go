// Package export renders conversion history as spreadsheets.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jdziat/docflow/pkg/core"
)

// SheetName is the worksheet that holds exported history.
const SheetName = "History"

// maxRows bounds one export. History listings are paged, so the exporter
// walks pages until it has this many rows.
const maxRows = 10000

var headers = []string{
	"Job ID",
	"Filename",
	"Format",
	"Status",
	"Confidence",
	"Pages",
	"Duration (s)",
	"Submitted",
	"Completed",
	"Error",
}

// Lister is the history query the exporter reads from.
type Lister interface {
	List(ctx context.Context, filter core.HistoryFilter) ([]*core.Job, int64, error)
}

// Exporter produces XLSX workbooks from history.
type Exporter struct {
	history  Lister
	pageSize int
	logger   *slog.Logger
}

// New creates an exporter over a history store.
func New(history Lister, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{history: history, pageSize: 200, logger: logger}
}

// HistoryXLSX returns a workbook with every job matching filter.
// Limit and Offset on the filter are ignored.
func (e *Exporter) HistoryXLSX(ctx context.Context, filter core.HistoryFilter) ([]byte, error) {
	start := time.Now()

	var jobs []*core.Job
	filter.Offset = 0
	filter.Limit = e.pageSize
	for len(jobs) < maxRows {
		page, total, err := e.history.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
		jobs = append(jobs, page...)
		if len(page) == 0 || int64(len(jobs)) >= total {
			break
		}
		filter.Offset += len(page)
	}
	if len(jobs) > maxRows {
		jobs = jobs[:maxRows]
	}

	data, err := Workbook(jobs)
	if err != nil {
		return nil, err
	}

	e.logger.Info("exported history", "rows", len(jobs), "bytes", len(data), "duration", time.Since(start))
	return data, nil
}

// Workbook renders jobs into XLSX bytes.
func Workbook(jobs []*core.Job) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// Rename the default sheet so the workbook has exactly one.
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}

	for i, job := range jobs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(SheetName, cell, v)
		}

		write(1, job.ID)
		write(2, job.Filename)
		write(3, string(job.Format))
		status := string(job.Status)
		if job.Cancelled() {
			status = "cancelled"
		}
		write(4, status)
		if job.Status == core.StatusCompleted {
			write(5, job.Confidence)
		}
		if job.Result != nil && job.Result.PageCount > 0 {
			write(6, job.Result.PageCount)
		}
		if job.DurationMS > 0 {
			write(7, float64(job.DurationMS)/1000)
		}
		write(8, job.SubmittedAt.UTC().Format(time.RFC3339))
		if job.CompletedAt != nil {
			write(9, job.CompletedAt.UTC().Format(time.RFC3339))
		}
		write(10, job.Error)
	}

	_ = f.SetColWidth(SheetName, "A", "A", 38) // id
	_ = f.SetColWidth(SheetName, "B", "B", 36) // filename
	_ = f.SetColWidth(SheetName, "C", "G", 12)
	_ = f.SetColWidth(SheetName, "H", "I", 22) // timestamps
	_ = f.SetColWidth(SheetName, "J", "J", 60) // error

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("xlsx panes: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
